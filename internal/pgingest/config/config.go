package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// LoggingCfg controls the daemon's own log output.
type LoggingCfg struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DatabaseCfg describes how to reach the source database server.
type DatabaseCfg struct {
	Port       int    `mapstructure:"port"`
	SocketPath string `mapstructure:"socket_path"`
	User       string `mapstructure:"user"`
}

// LogServerCfg describes the central logging server. Host being set is what
// switches the ingester into logging-server mode.
type LogServerCfg struct {
	Host       string `mapstructure:"host"`
	Database   string `mapstructure:"database"`
	Port       int    `mapstructure:"port"`
	FromServer string `mapstructure:"from_server"`
}

type Config struct {
	LogPath          string        `mapstructure:"log_path"`
	Daemon           bool          `mapstructure:"daemon"`
	UseCentralServer bool          `mapstructure:"use_centeral_server"`
	AuditUser        string        `mapstructure:"audit_user"`
	Schema           string        `mapstructure:"schema"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	RecoverySleep    time.Duration `mapstructure:"recovery_sleep"`
	Database         DatabaseCfg   `mapstructure:"database"`
	LogServer        LogServerCfg  `mapstructure:"log_server"`
	Logging          LoggingCfg    `mapstructure:"logging"`
}

var cfg *Config

// Load populates global config from a viper instance.
func Load(v *viper.Viper) error {
	v.SetDefault("audit_user", "pgaudit_etl")
	v.SetDefault("schema", "pgaudit")
	v.SetDefault("poll_interval", "100ms")
	v.SetDefault("recovery_sleep", "5s")
	v.SetDefault("database.port", 5432)
	v.SetDefault("log_server.port", 5432)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "/var/log/pgingest.log")

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	cfg = &c
	return nil
}

func Get() *Config {
	if cfg == nil {
		cfg = &Config{}
	}
	return cfg
}

// LoggingServerMode reports whether audit rows are shipped to a central
// logging server instead of back into the source server.
func (c *Config) LoggingServerMode() bool {
	return c.LogServer.Host != ""
}

// SchemaName computes the audit schema for a source database. In
// logging-server mode each source server's databases land in their own
// "<source-host>_<database>" namespace; otherwise the fixed schema is used.
// When no --log-from-server was given the socket path is substituted, which
// matches the long-standing behavior of the tooling this replaces.
func (c *Config) SchemaName(database string) string {
	if !c.LoggingServerMode() {
		return c.Schema
	}
	from := c.LogServer.FromServer
	if from == "" {
		from = c.Database.SocketPath
	}
	return from + "_" + database
}
