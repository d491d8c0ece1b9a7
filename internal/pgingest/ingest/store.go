package ingest

import (
	"time"

	"github.com/dbaudit/pgingest/internal/pgingest/auditlog"
)

// SessionRow is the recovered state of a session already present in the audit
// schema: its stored attributes plus the high-water marks of everything
// ingested for it so far.
type SessionRow struct {
	ApplicationName   *string
	State             string
	MaxLineNum        int64
	MaxStatementID    int64
	MaxSubstatementID int64
}

// LogonRow mirrors one row of the logon history table.
type LogonRow struct {
	LastSuccess              *time.Time
	CurrentSuccess           *time.Time
	LastFailure              *time.Time
	FailuresSinceLastSuccess int64
}

// Database is the set of write operations the ingester performs against one
// target database. All operations run inside the current transaction; Commit
// closes the row group.
type Database interface {
	SelectSession(sessionID string) (*SessionRow, error)
	InsertSession(row *auditlog.Row, applicationName, connectionFrom, state string) error
	UpdateSessionApplication(applicationName *string, sessionID string) error

	SelectLogon(userName string) (*LogonRow, error)
	InsertLogon(userName string, logon *LogonRow) error
	UpdateLogon(userName string, logon *LogonRow) error

	InsertLogEvent(row *auditlog.Row, message *string) error
	InsertAuditStatement(sessionID string, statementID int64) error
	MarkStatementsError(errorLineNum int64, sessionID string, virtualTransactionID *string) error
	InsertSubstatement(sessionID string, statementID, substatementID int64, statement string, parameter *string) error
	InsertSubstatementDetail(sessionID string, statementID, substatementID, sessionLineNum int64,
		auditType, class, command, objectType, objectName string) error

	Commit() error
}

// Store hands out Database handles keyed by database name. A nil Database
// with a nil error means the database does not carry the audit schema and
// must be skipped.
type Store interface {
	Database(name string) (Database, error)
	Reset()
}
