package auditlog

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

// AuditPrefix marks a message field carrying a pgAudit payload. The trailing
// space is part of the marker.
const AuditPrefix = "AUDIT: "

const auditFields = 9

// AuditRecord is the nested CSV payload of a pgAudit message.
type AuditRecord struct {
	AuditType      string
	StatementID    int64
	SubstatementID int64
	Class          string
	Command        string
	ObjectType     string
	ObjectName     string
	Statement      string
	// Parameter is nil when absent or when pgAudit logged the literal <none>.
	Parameter *string
}

// IsAudit reports whether msg carries a pgAudit payload.
func IsAudit(msg *string) bool {
	return msg != nil && strings.HasPrefix(*msg, AuditPrefix)
}

// ParseAudit strips the AUDIT: prefix from msg and parses the remainder as a
// nine-field CSV record.
func ParseAudit(msg string) (*AuditRecord, error) {
	payload, ok := strings.CutPrefix(msg, AuditPrefix)
	if !ok {
		return nil, fmt.Errorf("message does not carry audit prefix")
	}

	r := csv.NewReader(strings.NewReader(payload))
	r.FieldsPerRecord = auditFields
	tokens, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("parse audit payload: %w", err)
	}

	stmtID, err := strconv.ParseInt(tokens[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse audit statement_id: %w", err)
	}
	subStmtID, err := strconv.ParseInt(tokens[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse audit substatement_id: %w", err)
	}

	rec := &AuditRecord{
		AuditType:      tokens[0],
		StatementID:    stmtID,
		SubstatementID: subStmtID,
		Class:          tokens[3],
		Command:        tokens[4],
		ObjectType:     tokens[5],
		ObjectName:     tokens[6],
		Statement:      tokens[7],
	}
	if p := tokens[8]; p != "" && p != "<none>" {
		rec.Parameter = &p
	}
	return rec, nil
}
