// Package gateway owns the connections into the audit schema. One connection
// is opened per referenced database name; databases without the schema are
// remembered and not probed again until the next Reset.
package gateway

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/dbaudit/pgingest/internal/pgingest/config"
	"github.com/dbaudit/pgingest/internal/pgingest/ingest"
	"github.com/dbaudit/pgingest/internal/pgingest/logger"
)

// Gateway implements ingest.Store over live PostgreSQL connections.
type Gateway struct {
	cfg *config.Config
	// dbs memoizes the per-database decision: a nil value records that the
	// database lacks the audit schema.
	dbs map[string]*DB
}

// New builds a Gateway. No connections are opened until a database is first
// referenced by a log row.
func New(cfg *config.Config) *Gateway {
	return &Gateway{cfg: cfg, dbs: make(map[string]*DB)}
}

// Database returns the handle for a database name, opening and priming the
// connection on first reference. It returns (nil, nil) when the database does
// not carry the audit schema.
func (g *Gateway) Database(name string) (ingest.Database, error) {
	d, err := g.forDatabase(name)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, nil
	}
	return d, nil
}

func (g *Gateway) forDatabase(name string) (*DB, error) {
	if d, seen := g.dbs[name]; seen {
		return d, nil
	}

	log := logger.L()
	schema := g.cfg.SchemaName(name)
	dsn := buildDSN(g.cfg, name)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", name, err)
	}
	// Session state below (SET SESSION AUTHORIZATION) must stick to a single
	// backend, so the pool is pinned to one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("SET SESSION AUTHORIZATION " + pq.QuoteIdentifier(g.cfg.AuditUser)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set session authorization on %s: %w", name, err)
	}

	var count int
	if err := db.QueryRow(
		"SELECT count(*) FROM pg_namespace WHERE nspname = $1", schema).Scan(&count); err != nil {
		db.Close()
		return nil, fmt.Errorf("probe schema %s on %s: %w", schema, name, err)
	}
	if count == 0 {
		db.Close()
		log.Infow("database has no audit schema, skipping from now on",
			"database", name, "schema", schema)
		g.dbs[name] = nil
		return nil, nil
	}

	d := &DB{name: name, schema: schema, db: db}
	if err := d.prepare(); err != nil {
		db.Close()
		return nil, err
	}

	log.Infow("opened audit database", "database", name, "schema", schema)
	g.dbs[name] = d
	return d, nil
}

// Reset closes every connection and forgets all memoized decisions, including
// the schema-absent ones. Used by the ingest loop's error recovery.
func (g *Gateway) Reset() {
	for name, d := range g.dbs {
		if d != nil {
			d.close()
		}
		delete(g.dbs, name)
	}
}

// buildDSN assembles a keyword/value connection string. In logging-server
// mode every source database's rows are shipped to the one central database;
// otherwise the connection goes back into the source database itself.
func buildDSN(cfg *config.Config, database string) string {
	host := cfg.Database.SocketPath
	port := cfg.Database.Port
	dbname := database
	if cfg.LoggingServerMode() {
		host = cfg.LogServer.Host
		port = cfg.LogServer.Port
		dbname = cfg.LogServer.Database
	}

	dsn := fmt.Sprintf("dbname=%s sslmode=disable", quoteDSNValue(dbname))
	if host != "" {
		dsn += fmt.Sprintf(" host=%s", quoteDSNValue(host))
	}
	if port != 0 {
		dsn += fmt.Sprintf(" port=%d", port)
	}
	if cfg.Database.User != "" {
		dsn += fmt.Sprintf(" user=%s", quoteDSNValue(cfg.Database.User))
	}
	return dsn
}
