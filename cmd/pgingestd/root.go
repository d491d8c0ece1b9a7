package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"github.com/google/uuid"
	daemon "github.com/sevlyar/go-daemon"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dbaudit/pgingest/internal/pgingest/config"
	"github.com/dbaudit/pgingest/internal/pgingest/gateway"
	"github.com/dbaudit/pgingest/internal/pgingest/ingest"
	"github.com/dbaudit/pgingest/internal/pgingest/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "pgingestd <log-path>",
		Short: "pgingest - pgAudit CSV log ingestion daemon",
		Long: "pgingestd tails a directory of PostgreSQL CSV server logs and materializes\n" +
			"sessions, statements and pgAudit payloads into the audit schema.",
		Args: cobra.ExactArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				viper.SetConfigFile(cfgFile)
				if err := viper.ReadInConfig(); err != nil {
					return fmt.Errorf("read config: %w", err)
				}
			}
			return config.Load(viper.GetViper())
		},
		RunE:          runIngest,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")

	f := rootCmd.Flags()
	f.Bool("daemon", false, "detach from the terminal and run in the background")
	f.Int("port", 5432, "database port")
	f.String("socket-path", "", "socket directory or default host for database connections")
	f.String("log-file", "/var/log/pgingest.log", "this daemon's own log file")
	f.String("user", "", "database user (default: invoking OS user)")
	f.String("log-server", "", "logging server host (enables logging-server mode)")
	f.String("log-database", "", "database name on the logging server")
	f.Int("log-port", 5432, "logging server port")
	f.String("log-from-server", "", "logical source-server name used in schema naming")
	f.Bool("use-centeral-server", false, "accepted for compatibility, no effect")

	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(viper.BindPFlag("daemon", f.Lookup("daemon")))
	must(viper.BindPFlag("database.port", f.Lookup("port")))
	must(viper.BindPFlag("database.socket_path", f.Lookup("socket-path")))
	must(viper.BindPFlag("logging.file", f.Lookup("log-file")))
	must(viper.BindPFlag("database.user", f.Lookup("user")))
	must(viper.BindPFlag("log_server.host", f.Lookup("log-server")))
	must(viper.BindPFlag("log_server.database", f.Lookup("log-database")))
	must(viper.BindPFlag("log_server.port", f.Lookup("log-port")))
	must(viper.BindPFlag("log_server.from_server", f.Lookup("log-from-server")))
	must(viper.BindPFlag("use_centeral_server", f.Lookup("use-centeral-server")))

	rootCmd.AddCommand(versionCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	cfg.LogPath = args[0]

	if cfg.Database.User == "" {
		u, err := user.Current()
		if err != nil {
			return fmt.Errorf("determine database user: %w", err)
		}
		cfg.Database.User = u.Username
	}

	logFile := ""
	if cfg.Daemon {
		dctx := &daemon.Context{
			LogFileName: cfg.Logging.File,
			WorkDir:     "/",
			Umask:       0o027,
		}
		child, err := dctx.Reborn()
		if err != nil {
			return fmt.Errorf("daemonize: %w", err)
		}
		if child != nil {
			return nil
		}
		defer func() { _ = dctx.Release() }()
		logFile = cfg.Logging.File
	}

	if err := logger.InitLogger(logger.LogConfig{Level: cfg.Logging.Level, File: logFile}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := logger.L()
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infow("starting ingest",
		"run_id", uuid.NewString(),
		"log_path", cfg.LogPath,
		"audit_user", cfg.AuditUser,
		"logging_server_mode", cfg.LoggingServerMode())

	r := ingest.NewRunner(cfg, gateway.New(cfg))
	err := r.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Infow("shutting down on signal")
		return nil
	}
	return err
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
