// Package loggen generates synthetic CSV server logs with embedded pgAudit
// payloads. It exists to produce realistic ingest input without a running
// database server.
package loggen

import (
	"encoding/csv"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	gofakeit "github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dbaudit/pgingest/internal/pgingest/auditlog"
)

type GenConfig struct {
	// Output names a single file; OutputDir spreads the sessions over at most
	// Files rotated files the way the server's log rotator would, with
	// ceil(Sessions/Files) sessions per file and no empty files.
	Output               string   `yaml:"output"`
	OutputDir            string   `yaml:"outputDir"`
	Files                int      `yaml:"files"`
	Seed                 int64    `yaml:"seed"`
	Sessions             int      `yaml:"sessions"`
	StatementsPerSession int      `yaml:"statementsPerSession"`
	Databases            []string `yaml:"databases"`
	Users                []string `yaml:"users"`
	AuthFailureRate      float64  `yaml:"authFailureRate"`
	ErrorRate            float64  `yaml:"errorRate"`
	StartTime            string   `yaml:"startTime"`
}

const timeLayout = "2006-01-02 15:04:05.000 MST"

func readGenConfig(path string) (GenConfig, error) {
	log.Printf("[DEBUG] Loading config from %s\n", path)
	var cfg GenConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Generate writes the synthetic CSV log output (a single file or a directory
// of rotated files) described by the YAML config at configPath.
func Generate(configPath *string) {
	cfg, err := readGenConfig(*configPath)
	if err != nil {
		log.Fatalf("[FATAL] Error loading config: %v", err)
	}
	if err := GenerateFile(cfg); err != nil {
		log.Fatalf("[FATAL] %v", err)
	}
}

// GenerateFile applies defaults and writes the log file, or the rotated files
// when OutputDir is set.
func GenerateFile(cfg GenConfig) error {
	gofakeit.Seed(cfg.Seed)
	rng := rand.New(rand.NewSource(cfg.Seed))

	if cfg.Sessions == 0 {
		cfg.Sessions = 10
	}
	if cfg.StatementsPerSession == 0 {
		cfg.StatementsPerSession = 5
	}
	if len(cfg.Databases) == 0 {
		cfg.Databases = []string{"appdb"}
	}
	if len(cfg.Users) == 0 {
		for i := 0; i < 5; i++ {
			cfg.Users = append(cfg.Users, gofakeit.Username())
		}
	}

	start := time.Now().UTC()
	if cfg.StartTime != "" {
		t, err := time.Parse(time.RFC3339, cfg.StartTime)
		if err != nil {
			return fmt.Errorf("parse startTime: %w", err)
		}
		start = t.UTC()
	}

	// A seeded run must be reproducible, so the run id comes from the seeded
	// faker instead of the system RNG.
	runID := uuid.NewString()
	if cfg.Seed != 0 {
		runID = gofakeit.UUID()
	}
	log.Printf("[INFO] Generating run=%s sessions=%d statements=%d",
		runID, cfg.Sessions, cfg.StatementsPerSession)

	g := &generator{cfg: cfg, rng: rng, now: start, runID: runID}

	switch {
	case cfg.OutputDir != "":
		if cfg.Files == 0 {
			cfg.Files = 1
		}
		perFile := (cfg.Sessions + cfg.Files - 1) / cfg.Files
		remaining := cfg.Sessions
		for remaining > 0 {
			n := perFile
			if n > remaining {
				n = remaining
			}
			name := fmt.Sprintf("postgresql-%s.csv", g.now.Format("2006-01-02_150405"))
			if err := g.writeFile(filepath.Join(cfg.OutputDir, name), n); err != nil {
				return err
			}
			remaining -= n
			// Rotated filenames embed the second; make sure it ticks over.
			g.now = g.now.Add(time.Second)
		}
	case cfg.Output != "":
		if err := g.writeFile(cfg.Output, cfg.Sessions); err != nil {
			return err
		}
	default:
		return fmt.Errorf("config needs either output or outputDir")
	}

	log.Printf("[INFO] Generation complete: %d lines", g.lines)
	return nil
}

func (g *generator) writeFile(path string, sessions int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	g.w = csv.NewWriter(f)
	for i := 0; i < sessions; i++ {
		g.session()
	}
	g.w.Flush()
	if err := g.w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

type generator struct {
	cfg     GenConfig
	rng     *rand.Rand
	w       *csv.Writer
	now     time.Time
	runID   string
	lines   int
	lastPID int
}

var tables = []string{
	"public.account", "public.orders", "public.payment",
	"billing.invoice", "billing.ledger", "hr.employee",
}

func (g *generator) session() {
	// Monotonic pids keep session ids unique within a run.
	g.lastPID += 1 + g.rng.Intn(100)
	pid := 1000 + g.lastPID
	sessionStart := g.now
	sessionID := fmt.Sprintf("%08x.%x", sessionStart.Unix(), pid)
	user := g.cfg.Users[g.rng.Intn(len(g.cfg.Users))]
	database := g.cfg.Databases[g.rng.Intn(len(g.cfg.Databases))]
	app := gofakeit.AppName()
	from := fmt.Sprintf("%s:%d", gofakeit.IPv4Address(), 40000+g.rng.Intn(20000))

	s := &session{
		gen:      g,
		id:       sessionID,
		pid:      pid,
		start:    sessionStart,
		user:     user,
		database: database,
		app:      app,
		from:     from,
	}

	if g.rng.Float64() < g.cfg.AuthFailureRate {
		s.write(rowSpec{
			commandTag: "authentication",
			severity:   "FATAL",
			sqlState:   "28P01",
			message:    fmt.Sprintf(`password authentication failed for user "%s"`, user),
		})
		g.now = g.now.Add(time.Duration(1+g.rng.Intn(900)) * time.Millisecond)
		return
	}

	s.write(rowSpec{
		commandTag: "authentication",
		severity:   "LOG",
		message:    fmt.Sprintf("connection authorized: user=%s database=%s", user, database),
	})

	for stmtID := int64(1); stmtID <= int64(g.genStatements()); stmtID++ {
		s.statement(stmtID)
	}

	s.write(rowSpec{
		commandTag: "idle",
		severity:   "LOG",
		message: fmt.Sprintf("disconnection: session time: 0:00:%02d.000 user=%s database=%s",
			g.rng.Intn(60), user, database),
	})
	g.now = g.now.Add(time.Duration(1+g.rng.Intn(900)) * time.Millisecond)
}

func (g *generator) genStatements() int {
	return 1 + g.rng.Intn(g.cfg.StatementsPerSession)
}

type session struct {
	gen      *generator
	id       string
	pid      int
	start    time.Time
	user     string
	database string
	app      string
	from     string
	lineNum  int64
	xid      int64
}

type rowSpec struct {
	commandTag string
	severity   string
	sqlState   string
	message    string
	query      string
	vxid       string
}

func (s *session) statement(stmtID int64) {
	g := s.gen
	vxid := fmt.Sprintf("%d/%d", 1+g.rng.Intn(8), s.xid+100)
	s.xid++

	table := tables[g.rng.Intn(len(tables))]
	var command, class, query string
	if g.rng.Float64() < 0.7 {
		command, class = "SELECT", "READ"
		query = fmt.Sprintf("/* run_id=%s */ SELECT * FROM %s WHERE id = %d",
			g.runID, table, g.rng.Intn(10000))
	} else {
		command, class = "UPDATE", "WRITE"
		query = fmt.Sprintf("/* run_id=%s */ UPDATE %s SET updated_at = now() WHERE id = %d",
			g.runID, table, g.rng.Intn(10000))
	}

	s.write(rowSpec{
		commandTag: command,
		severity:   "LOG",
		message:    auditMessage(stmtID, 1, class, command, "TABLE", table, query),
		vxid:       vxid,
	})

	if g.rng.Float64() < g.cfg.ErrorRate {
		s.write(rowSpec{
			commandTag: command,
			severity:   "ERROR",
			sqlState:   "22012",
			message:    "division by zero",
			query:      query,
			vxid:       vxid,
		})
	}
}

// auditMessage renders a pgAudit payload the way the server would log it: the
// AUDIT marker followed by a nine-field CSV record.
func auditMessage(stmtID, subID int64, class, command, objectType, objectName, statement string) string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	_ = w.Write([]string{
		"SESSION",
		fmt.Sprintf("%d", stmtID),
		fmt.Sprintf("%d", subID),
		class, command, objectType, objectName, statement, "<none>",
	})
	w.Flush()
	return auditlog.AuditPrefix + strings.TrimRight(sb.String(), "\n")
}

func (s *session) write(spec rowSpec) {
	g := s.gen
	s.lineNum++
	g.now = g.now.Add(time.Duration(1+g.rng.Intn(50)) * time.Millisecond)

	record := []string{
		g.now.Format(timeLayout),            // log_time
		s.user,                              // user_name
		s.database,                          // database_name
		fmt.Sprintf("%d", s.pid),            // process_id
		s.from,                              // connection_from
		s.id,                                // session_id
		fmt.Sprintf("%d", s.lineNum),        // session_line_num
		spec.commandTag,                     // command_tag
		s.start.Format(timeLayout),          // session_start_time
		spec.vxid,                           // virtual_transaction_id
		"",                                  // transaction_id
		spec.severity,                       // error_severity
		spec.sqlState,                       // sql_state_code
		spec.message,                        // message
		"", "", "", "",                      // detail, hint, internal_query, internal_query_pos
		"",                                  // context
		spec.query,                          // query
		"", "",                              // query_pos, location
		s.app,                               // application_name
	}
	if err := g.w.Write(record); err != nil {
		log.Printf("[ERROR] write csv record: %v", err)
	}
	g.lines++
}
