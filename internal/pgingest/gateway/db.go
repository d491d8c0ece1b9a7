package gateway

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/dbaudit/pgingest/internal/pgingest/auditlog"
	"github.com/dbaudit/pgingest/internal/pgingest/ingest"
)

// DB is the live handle for one target database: a pinned connection, the
// computed schema name and the prepared statement set.
type DB struct {
	name   string
	schema string
	db     *sql.DB
	tx     *sql.Tx

	sessionSelect   *sql.Stmt
	sessionInsert   *sql.Stmt
	sessionUpdate   *sql.Stmt
	logonSelect     *sql.Stmt
	logonInsert     *sql.Stmt
	logonUpdate     *sql.Stmt
	logInsert       *sql.Stmt
	stmtInsert      *sql.Stmt
	stmtErrorUpdate *sql.Stmt
	substmtInsert   *sql.Stmt
	detailInsert    *sql.Stmt
}

func (d *DB) prepare() error {
	texts := statementTexts(d.schema)
	targets := []struct {
		dst  **sql.Stmt
		text string
	}{
		{&d.sessionSelect, texts.sessionSelect},
		{&d.sessionInsert, texts.sessionInsert},
		{&d.sessionUpdate, texts.sessionUpdate},
		{&d.logonSelect, texts.logonSelect},
		{&d.logonInsert, texts.logonInsert},
		{&d.logonUpdate, texts.logonUpdate},
		{&d.logInsert, texts.logInsert},
		{&d.stmtInsert, texts.stmtInsert},
		{&d.stmtErrorUpdate, texts.stmtErrorUpdate},
		{&d.substmtInsert, texts.substmtInsert},
		{&d.detailInsert, texts.detailInsert},
	}
	for _, t := range targets {
		stmt, err := d.db.Prepare(t.text)
		if err != nil {
			return fmt.Errorf("prepare statement on %s: %w", d.name, err)
		}
		*t.dst = stmt
	}
	return nil
}

func (d *DB) close() {
	if d.tx != nil {
		_ = d.tx.Rollback()
		d.tx = nil
	}
	_ = d.db.Close()
}

// begin lazily opens the row-group transaction. Every operation joins the
// current transaction; Commit closes it.
func (d *DB) begin() (*sql.Tx, error) {
	if d.tx == nil {
		tx, err := d.db.Begin()
		if err != nil {
			return nil, fmt.Errorf("begin on %s: %w", d.name, err)
		}
		d.tx = tx
	}
	return d.tx, nil
}

// Commit commits the current row group, if any.
func (d *DB) Commit() error {
	if d.tx == nil {
		return nil
	}
	err := d.tx.Commit()
	d.tx = nil
	if err != nil {
		return fmt.Errorf("commit on %s: %w", d.name, err)
	}
	return nil
}

func (d *DB) exec(stmt *sql.Stmt, args ...any) error {
	tx, err := d.begin()
	if err != nil {
		return err
	}
	if _, err := tx.Stmt(stmt).Exec(args...); err != nil {
		return fmt.Errorf("exec on %s: %w", d.name, err)
	}
	return nil
}

// SelectSession loads a session row together with its ingest high-water
// marks. Returns nil when the session has never been seen.
func (d *DB) SelectSession(sessionID string) (*ingest.SessionRow, error) {
	tx, err := d.begin()
	if err != nil {
		return nil, err
	}
	var (
		app sql.NullString
		row ingest.SessionRow
	)
	err = tx.Stmt(d.sessionSelect).QueryRow(sessionID).Scan(
		&app, &row.State, &row.MaxLineNum, &row.MaxStatementID, &row.MaxSubstatementID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select session on %s: %w", d.name, err)
	}
	if app.Valid {
		row.ApplicationName = &app.String
	}
	return &row, nil
}

func (d *DB) InsertSession(row *auditlog.Row, applicationName, connectionFrom, state string) error {
	return d.exec(d.sessionInsert,
		row.SessionID, row.ProcessID, row.SessionStartTime, row.UserName,
		applicationName, connectionFrom, state)
}

func (d *DB) UpdateSessionApplication(applicationName *string, sessionID string) error {
	return d.exec(d.sessionUpdate, applicationName, sessionID)
}

// SelectLogon loads the logon history for a user, or nil when the user has
// never logged on.
func (d *DB) SelectLogon(userName string) (*ingest.LogonRow, error) {
	tx, err := d.begin()
	if err != nil {
		return nil, err
	}
	var (
		lastSuccess, currentSuccess, lastFailure sql.NullTime
		row                                      ingest.LogonRow
	)
	err = tx.Stmt(d.logonSelect).QueryRow(userName).Scan(
		&lastSuccess, &currentSuccess, &lastFailure, &row.FailuresSinceLastSuccess)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select logon on %s: %w", d.name, err)
	}
	if lastSuccess.Valid {
		row.LastSuccess = &lastSuccess.Time
	}
	if currentSuccess.Valid {
		row.CurrentSuccess = &currentSuccess.Time
	}
	if lastFailure.Valid {
		row.LastFailure = &lastFailure.Time
	}
	return &row, nil
}

func (d *DB) InsertLogon(userName string, logon *ingest.LogonRow) error {
	return d.exec(d.logonInsert,
		userName, logon.LastSuccess, logon.CurrentSuccess, logon.LastFailure,
		logon.FailuresSinceLastSuccess)
}

func (d *DB) UpdateLogon(userName string, logon *ingest.LogonRow) error {
	return d.exec(d.logonUpdate,
		logon.LastSuccess, logon.CurrentSuccess, logon.LastFailure,
		logon.FailuresSinceLastSuccess, userName)
}

// InsertLogEvent writes the log row. The message is passed separately so the
// caller can null it out for audit rows whose payload lands in the audit
// tables instead.
func (d *DB) InsertLogEvent(row *auditlog.Row, message *string) error {
	return d.exec(d.logInsert,
		row.SessionID, row.LogTime, row.SessionLineNum, row.CommandTag,
		row.ErrorSeverity, row.SQLStateCode, row.VirtualTransactionID,
		row.TransactionID, message, row.Detail, row.Hint, row.Query,
		row.QueryPos, row.InternalQuery, row.InternalQueryPos, row.Context,
		row.Location)
}

func (d *DB) InsertAuditStatement(sessionID string, statementID int64) error {
	return d.exec(d.stmtInsert, sessionID, statementID)
}

// MarkStatementsError flags every statement in the session whose substatement
// details executed under the erroring virtual transaction.
func (d *DB) MarkStatementsError(errorLineNum int64, sessionID string, virtualTransactionID *string) error {
	return d.exec(d.stmtErrorUpdate, errorLineNum, sessionID, virtualTransactionID)
}

func (d *DB) InsertSubstatement(sessionID string, statementID, substatementID int64, statement string, parameter *string) error {
	var param any
	if parameter != nil {
		param = pq.Array([]string{*parameter})
	}
	return d.exec(d.substmtInsert, sessionID, statementID, substatementID, statement, param)
}

func (d *DB) InsertSubstatementDetail(sessionID string, statementID, substatementID, sessionLineNum int64,
	auditType, class, command, objectType, objectName string) error {
	return d.exec(d.detailInsert,
		sessionID, statementID, substatementID, sessionLineNum,
		auditType, class, command, objectType, objectName)
}

// quoteDSNValue makes a value safe for the keyword/value connection string
// format: single-quote when it contains spaces or quotes.
func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
