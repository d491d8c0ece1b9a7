package auditlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

// rawRow builds a 23-field record with the required fields set and the rest
// absent, then applies overrides by column index.
func rawRow(overrides map[int]*string) []*string {
	fields := make([]*string, MinColumns)
	fields[0] = ptr("2024-01-01 00:00:00.000 UTC")
	fields[5] = ptr("65a1b2c3.1f4")
	fields[6] = ptr("1")
	for i, v := range overrides {
		fields[i] = v
	}
	return fields
}

func TestParseRow(t *testing.T) {
	row, err := ParseRow(rawRow(map[int]*string{
		1:  ptr("alice"),
		2:  ptr("appdb"),
		3:  ptr("500"),
		4:  ptr("10.0.0.1:54321"),
		7:  ptr("SELECT"),
		8:  ptr("2024-01-01 00:00:00 UTC"),
		9:  ptr("3/42"),
		11: ptr("LOG"),
		13: ptr("hello"),
		20: ptr("17"),
		22: ptr("psql"),
	}))
	require.NoError(t, err)

	assert.Equal(t, "65a1b2c3.1f4", row.SessionID)
	assert.Equal(t, int64(1), row.SessionLineNum)
	assert.Equal(t, "alice", *row.UserName)
	assert.Equal(t, "appdb", *row.DatabaseName)
	assert.Equal(t, int64(500), *row.ProcessID)
	assert.Equal(t, "3/42", *row.VirtualTransactionID)
	assert.Equal(t, int64(17), *row.QueryPos)
	assert.Equal(t, "psql", *row.ApplicationName)
	assert.Nil(t, row.Detail)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), row.LogTime.UTC())
	require.NotNil(t, row.SessionStartTime)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), row.SessionStartTime.UTC())
}

func TestParseRow_Errors(t *testing.T) {
	tests := []struct {
		name   string
		fields []*string
	}{
		{"too few columns", make([]*string, 10)},
		{"missing session_id", rawRow(map[int]*string{5: nil})},
		{"missing session_line_num", rawRow(map[int]*string{6: nil})},
		{"missing log_time", rawRow(map[int]*string{0: nil})},
		{"bad line num", rawRow(map[int]*string{6: ptr("x")})},
		{"bad log_time", rawRow(map[int]*string{0: ptr("not a time")})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRow(tt.fields)
			assert.Error(t, err)
		})
	}
}

func TestParseRow_ExtraColumnsIgnored(t *testing.T) {
	fields := append(rawRow(nil), ptr("client backend"), ptr("0"), ptr("123"))
	row, err := ParseRow(fields)
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.SessionLineNum)
}

func TestIsAuthFailure(t *testing.T) {
	row, err := ParseRow(rawRow(map[int]*string{
		7:  ptr("authentication"),
		11: ptr("FATAL"),
	}))
	require.NoError(t, err)
	assert.True(t, row.IsAuthFailure())

	row, err = ParseRow(rawRow(map[int]*string{
		7:  ptr("authentication"),
		11: ptr("LOG"),
	}))
	require.NoError(t, err)
	assert.False(t, row.IsAuthFailure())

	row, err = ParseRow(rawRow(map[int]*string{
		7:  ptr("SELECT"),
		11: ptr("FATAL"),
	}))
	require.NoError(t, err)
	assert.False(t, row.IsAuthFailure())
}

func TestIsErrorSeverity(t *testing.T) {
	for _, sev := range []string{"ERROR", "error", "FATAL", "PANIC", "panic"} {
		assert.True(t, IsErrorSeverity(&sev), sev)
	}
	for _, sev := range []string{"LOG", "WARNING", "INFO", "NOTICE", "DEBUG1"} {
		assert.False(t, IsErrorSeverity(&sev), sev)
	}
	assert.False(t, IsErrorSeverity(nil))
}

func TestParseAudit(t *testing.T) {
	rec, err := ParseAudit(`AUDIT: SESSION,1,1,READ,SELECT,TABLE,public.account,"SELECT * FROM account",<none>`)
	require.NoError(t, err)
	assert.Equal(t, "SESSION", rec.AuditType)
	assert.Equal(t, int64(1), rec.StatementID)
	assert.Equal(t, int64(1), rec.SubstatementID)
	assert.Equal(t, "READ", rec.Class)
	assert.Equal(t, "SELECT", rec.Command)
	assert.Equal(t, "TABLE", rec.ObjectType)
	assert.Equal(t, "public.account", rec.ObjectName)
	assert.Equal(t, "SELECT * FROM account", rec.Statement)
	assert.Nil(t, rec.Parameter)
}

func TestParseAudit_Parameter(t *testing.T) {
	rec, err := ParseAudit(`AUDIT: SESSION,2,1,READ,SELECT,,,"SELECT $1","42"`)
	require.NoError(t, err)
	require.NotNil(t, rec.Parameter)
	assert.Equal(t, "42", *rec.Parameter)
}

func TestParseAudit_EmbeddedComma(t *testing.T) {
	rec, err := ParseAudit(`AUDIT: SESSION,3,1,WRITE,INSERT,TABLE,public.t,"INSERT INTO t VALUES (1, 2)",<none>`)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO t VALUES (1, 2)", rec.Statement)
}

func TestParseAudit_Malformed(t *testing.T) {
	for _, msg := range []string{
		"AUDIT: only,two",
		"AUDIT: a,b,c,d,e,f,g,h,i,extra",
		"AUDIT: SESSION,x,1,READ,SELECT,,,q,<none>",
		"no prefix at all",
	} {
		_, err := ParseAudit(msg)
		assert.Error(t, err, msg)
	}
}

func TestIsAudit(t *testing.T) {
	assert.True(t, IsAudit(ptr("AUDIT: SESSION,1,1,READ,SELECT,,,q,<none>")))
	assert.False(t, IsAudit(ptr("AUDIT:missing space")))
	assert.False(t, IsAudit(ptr("statement: SELECT 1")))
	assert.False(t, IsAudit(nil))
}
