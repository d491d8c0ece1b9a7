// Package auditlog models the rows of a PostgreSQL CSV server log and the
// pgAudit payload embedded in their message field.
package auditlog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// MinColumns is the column count of the CSV log format this ingester
// understands. Newer server versions append extra columns; those are ignored.
const MinColumns = 23

// Row is a typed view of one CSV log record. Optional fields are pointers;
// nil means the field was absent in the log.
type Row struct {
	LogTime              time.Time
	UserName             *string
	DatabaseName         *string
	ProcessID            *int64
	ConnectionFrom       *string
	SessionID            string
	SessionLineNum       int64
	CommandTag           *string
	SessionStartTime     *time.Time
	VirtualTransactionID *string
	TransactionID        *string
	ErrorSeverity        *string
	SQLStateCode         *string
	Message              *string
	Detail               *string
	Hint                 *string
	InternalQuery        *string
	InternalQueryPos     *int64
	Context              *string
	Query                *string
	QueryPos             *int64
	Location             *string
	ApplicationName      *string
}

// ParseRow maps a raw CSV record onto a Row. session_id, session_line_num and
// log_time are required; everything else may be absent.
func ParseRow(fields []*string) (*Row, error) {
	if len(fields) < MinColumns {
		return nil, fmt.Errorf("csv record has %d columns, want at least %d", len(fields), MinColumns)
	}

	if fields[5] == nil {
		return nil, fmt.Errorf("csv record missing session_id")
	}
	if fields[6] == nil {
		return nil, fmt.Errorf("csv record missing session_line_num")
	}
	if fields[0] == nil {
		return nil, fmt.Errorf("csv record missing log_time")
	}

	logTime, err := parseTime(*fields[0])
	if err != nil {
		return nil, fmt.Errorf("parse log_time: %w", err)
	}
	lineNum, err := strconv.ParseInt(*fields[6], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse session_line_num: %w", err)
	}

	row := &Row{
		LogTime:              logTime,
		UserName:             fields[1],
		DatabaseName:         fields[2],
		ConnectionFrom:       fields[4],
		SessionID:            *fields[5],
		SessionLineNum:       lineNum,
		CommandTag:           fields[7],
		VirtualTransactionID: fields[9],
		TransactionID:        fields[10],
		ErrorSeverity:        fields[11],
		SQLStateCode:         fields[12],
		Message:              fields[13],
		Detail:               fields[14],
		Hint:                 fields[15],
		InternalQuery:        fields[16],
		Context:              fields[18],
		Query:                fields[19],
		Location:             fields[21],
		ApplicationName:      fields[22],
	}

	if row.ProcessID, err = parseOptionalInt(fields[3], "process_id"); err != nil {
		return nil, err
	}
	if fields[8] != nil {
		t, err := parseTime(*fields[8])
		if err != nil {
			return nil, fmt.Errorf("parse session_start_time: %w", err)
		}
		row.SessionStartTime = &t
	}
	if row.InternalQueryPos, err = parseOptionalInt(fields[17], "internal_query_pos"); err != nil {
		return nil, err
	}
	if row.QueryPos, err = parseOptionalInt(fields[20], "query_pos"); err != nil {
		return nil, err
	}

	return row, nil
}

func parseOptionalInt(f *string, name string) (*int64, error) {
	if f == nil {
		return nil, nil
	}
	n, err := strconv.ParseInt(*f, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return &n, nil
}

func parseTime(raw string) (time.Time, error) {
	return dateparse.ParseAny(raw)
}

// IsErrorSeverity reports whether severity marks a statement-aborting event.
func IsErrorSeverity(severity *string) bool {
	if severity == nil {
		return false
	}
	switch strings.ToLower(*severity) {
	case "error", "fatal", "panic":
		return true
	}
	return false
}

// IsAuthFailure reports whether the row records a failed authentication
// attempt, the condition that marks a session (and its logon) as failed.
func (r *Row) IsAuthFailure() bool {
	return r.CommandTag != nil &&
		strings.EqualFold(*r.CommandTag, "authentication") &&
		r.ErrorSeverity != nil &&
		strings.EqualFold(*r.ErrorSeverity, "fatal")
}
