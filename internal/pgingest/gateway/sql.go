package gateway

import (
	"fmt"

	"github.com/lib/pq"
)

// statements holds the SQL text for every prepared statement, with the audit
// schema already spliced in.
type statements struct {
	sessionSelect   string
	sessionInsert   string
	sessionUpdate   string
	logonSelect     string
	logonInsert     string
	logonUpdate     string
	logInsert       string
	stmtInsert      string
	stmtErrorUpdate string
	substmtInsert   string
	detailInsert    string
}

func statementTexts(schema string) statements {
	s := pq.QuoteIdentifier(schema)
	return statements{
		sessionSelect: fmt.Sprintf(`
			SELECT application_name, state,
			       (SELECT coalesce(max(session_line_num), 0) FROM %s.log_event WHERE session_id = $1),
			       (SELECT coalesce(max(statement_id), 0) FROM %s.audit_statement WHERE session_id = $1),
			       (SELECT coalesce(max(substatement_id), 0) FROM %s.audit_substatement WHERE session_id = $1)
			  FROM %s.session
			 WHERE session_id = $1`, s, s, s, s),

		sessionInsert: fmt.Sprintf(`
			INSERT INTO %s.session
			       (session_id, process_id, session_start_time, user_name,
			        application_name, connection_from, state)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`, s),

		sessionUpdate: fmt.Sprintf(`
			UPDATE %s.session SET application_name = $1 WHERE session_id = $2`, s),

		logonSelect: fmt.Sprintf(`
			SELECT last_success, current_success, last_failure, failures_since_last_success
			  FROM %s.logon
			 WHERE user_name = $1`, s),

		logonInsert: fmt.Sprintf(`
			INSERT INTO %s.logon
			       (user_name, last_success, current_success, last_failure,
			        failures_since_last_success)
			VALUES ($1, $2, $3, $4, $5)`, s),

		logonUpdate: fmt.Sprintf(`
			UPDATE %s.logon
			   SET last_success = $1, current_success = $2, last_failure = $3,
			       failures_since_last_success = $4
			 WHERE user_name = $5`, s),

		logInsert: fmt.Sprintf(`
			INSERT INTO %s.log_event
			       (session_id, log_time, session_line_num, command, error_severity,
			        sql_state_code, virtual_transaction_id, transaction_id, message,
			        detail, hint, query, query_pos, internal_query,
			        internal_query_pos, context, location)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			        $15, $16, $17)`, s),

		stmtInsert: fmt.Sprintf(`
			INSERT INTO %s.audit_statement (session_id, statement_id)
			VALUES ($1, $2)`, s),

		stmtErrorUpdate: fmt.Sprintf(`
			UPDATE %s.audit_statement AS stmt
			   SET state = 'error', error_session_line_num = $1
			 WHERE stmt.session_id = $2
			   AND stmt.statement_id IN
			       (SELECT sub.statement_id
			          FROM %s.audit_substatement_detail sub
			          JOIN %s.log_event evt
			            ON evt.session_id = sub.session_id
			           AND evt.session_line_num = sub.session_line_num
			         WHERE sub.session_id = $2
			           AND evt.virtual_transaction_id = $3)`, s, s, s),

		substmtInsert: fmt.Sprintf(`
			INSERT INTO %s.audit_substatement
			       (session_id, statement_id, substatement_id, substatement, parameter)
			VALUES ($1, $2, $3, $4, $5)`, s),

		detailInsert: fmt.Sprintf(`
			INSERT INTO %s.audit_substatement_detail
			       (session_id, statement_id, substatement_id, session_line_num,
			        audit_type, class, command, object_type, object_name)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, s),
	}
}
