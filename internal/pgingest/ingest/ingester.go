// Package ingest reconstructs sessions, statements and substatements from the
// interleaved CSV log stream and writes them through a Store. It owns all
// mutable state of the pipeline; discarding the Ingester and the Store
// together is a full reset.
package ingest

import (
	"strings"
	"time"

	"github.com/dbaudit/pgingest/internal/pgingest/auditlog"
	"github.com/dbaudit/pgingest/internal/pgingest/config"
)

const unknown = "[unknown]"

// sessionState is the cached high-water mark set for one session. The three
// counters only ever advance.
type sessionState struct {
	applicationName *string
	state           string
	lineNum         int64
	statementID     int64
	substatementID  int64
	lastLog         time.Time
}

// Ingester applies parsed log rows to the audit schema. Not safe for
// concurrent use; the ingest loop is single-threaded.
type Ingester struct {
	cfg      *config.Config
	store    Store
	sessions map[string]*sessionState
}

func New(cfg *config.Config, store Store) *Ingester {
	return &Ingester{
		cfg:      cfg,
		store:    store,
		sessions: make(map[string]*sessionState),
	}
}

// Ingest applies one row. Rows from the ingest user itself, rows without a
// database name and rows for databases lacking the audit schema are dropped
// at this boundary.
func (in *Ingester) Ingest(row *auditlog.Row) error {
	if row.UserName != nil && *row.UserName == in.cfg.AuditUser {
		return nil
	}
	if row.DatabaseName == nil {
		return nil
	}

	db, err := in.store.Database(*row.DatabaseName)
	if err != nil {
		return err
	}
	if db == nil {
		return nil
	}

	sess, err := in.session(db, row)
	if err != nil {
		return err
	}

	// The last application name observed wins. An absent name is not an
	// observation.
	if row.SessionLineNum > sess.lineNum && row.ApplicationName != nil &&
		!equalName(row.ApplicationName, sess.applicationName) {
		if err := db.UpdateSessionApplication(row.ApplicationName, row.SessionID); err != nil {
			return err
		}
		sess.applicationName = row.ApplicationName
	}

	// Monotonicity gate: lines at or below the high-water mark were already
	// ingested in a previous run.
	if row.SessionLineNum <= sess.lineNum {
		return nil
	}

	message := row.Message
	if auditlog.IsAudit(message) {
		if err := in.writeAudit(db, sess, row); err != nil {
			return err
		}
		message = nil
	}

	if err := db.InsertLogEvent(row, message); err != nil {
		return err
	}
	sess.lineNum = row.SessionLineNum
	sess.lastLog = row.LogTime

	if auditlog.IsErrorSeverity(row.ErrorSeverity) {
		if err := db.MarkStatementsError(row.SessionLineNum, row.SessionID, row.VirtualTransactionID); err != nil {
			return err
		}
	}

	return db.Commit()
}

// session returns the cached state for the row's session, recovering it from
// the database or creating the session as needed.
func (in *Ingester) session(db Database, row *auditlog.Row) (*sessionState, error) {
	if sess, ok := in.sessions[row.SessionID]; ok {
		return sess, nil
	}

	stored, err := db.SelectSession(row.SessionID)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		sess := &sessionState{
			applicationName: stored.ApplicationName,
			state:           stored.State,
			lineNum:         stored.MaxLineNum,
			statementID:     stored.MaxStatementID,
			substatementID:  stored.MaxSubstatementID,
		}
		in.sessions[row.SessionID] = sess
		return sess, nil
	}

	state := "ok"
	if row.IsAuthFailure() {
		state = "error"
	}
	applicationName := unknown
	if row.ApplicationName != nil {
		applicationName = *row.ApplicationName
	}
	connectionFrom := unknown
	if row.ConnectionFrom != nil {
		connectionFrom = *row.ConnectionFrom
	}
	if err := db.InsertSession(row, applicationName, connectionFrom, state); err != nil {
		return nil, err
	}
	if row.UserName != nil {
		if err := in.updateLogon(db, *row.UserName, row.SessionStartTime, state); err != nil {
			return nil, err
		}
	}
	if err := db.Commit(); err != nil {
		return nil, err
	}

	// Cache the name as observed in the row, not the inserted default, so a
	// later row without a name does not count as a change.
	sess := &sessionState{
		applicationName: row.ApplicationName,
		state:           state,
	}
	in.sessions[row.SessionID] = sess
	return sess, nil
}

// updateLogon folds one logon event into the user's logon history. A fresh
// success promotes the previous current_success to last_success; a failure
// clears current_success and counts up.
func (in *Ingester) updateLogon(db Database, userName string, startTime *time.Time, state string) error {
	logon, err := db.SelectLogon(userName)
	if err != nil {
		return err
	}

	if logon == nil {
		fresh := &LogonRow{}
		if state == "ok" {
			fresh.CurrentSuccess = startTime
		} else {
			fresh.LastFailure = startTime
			fresh.FailuresSinceLastSuccess = 1
		}
		return db.InsertLogon(userName, fresh)
	}

	if state == "ok" {
		if logon.CurrentSuccess != nil {
			logon.LastSuccess = logon.CurrentSuccess
		}
		logon.CurrentSuccess = startTime
		logon.LastFailure = nil
		logon.FailuresSinceLastSuccess = 0
	} else {
		logon.CurrentSuccess = nil
		logon.LastFailure = startTime
		logon.FailuresSinceLastSuccess++
	}
	return db.UpdateLogon(userName, logon)
}

// writeAudit denormalizes one pgAudit payload into the audit tables. The
// three-way gating keeps statement and substatement rows unique while still
// producing one detail row per logged line.
func (in *Ingester) writeAudit(db Database, sess *sessionState, row *auditlog.Row) error {
	rec, err := auditlog.ParseAudit(*row.Message)
	if err != nil {
		return err
	}

	if rec.StatementID > sess.statementID {
		if err := db.InsertAuditStatement(row.SessionID, rec.StatementID); err != nil {
			return err
		}
		sess.statementID = rec.StatementID
		sess.substatementID = 0
	}

	if rec.StatementID == sess.statementID && rec.SubstatementID > sess.substatementID {
		if err := db.InsertSubstatement(row.SessionID, rec.StatementID, rec.SubstatementID,
			rec.Statement, rec.Parameter); err != nil {
			return err
		}
		sess.substatementID = rec.SubstatementID
	}

	if row.SessionLineNum > sess.lineNum {
		if err := db.InsertSubstatementDetail(row.SessionID, rec.StatementID, rec.SubstatementID,
			row.SessionLineNum, strings.ToLower(rec.AuditType), strings.ToLower(rec.Class),
			strings.ToLower(rec.Command), strings.ToLower(rec.ObjectType),
			strings.ToLower(rec.ObjectName)); err != nil {
			return err
		}
	}

	return nil
}

func equalName(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
