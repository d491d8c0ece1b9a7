package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbaudit/pgingest/internal/pgingest/config"
	"github.com/dbaudit/pgingest/internal/pgingest/sequencer"
)

// csvLine renders one 23-column log line for session/line with a plain
// message.
func csvLine(sessionID string, lineNum int, message string) string {
	return fmt.Sprintf("2024-01-01 00:00:00.000 UTC,alice,appdb,500,10.0.0.1:54321,%s,%d,idle,"+
		"2024-01-01 00:00:00 UTC,,,LOG,,%s,,,,,,,,,psql\n", sessionID, lineNum, message)
}

func runnerConfig(dir string) *config.Config {
	return &config.Config{
		LogPath:       dir,
		AuditUser:     "pgaudit_etl",
		PollInterval:  5 * time.Millisecond,
		RecoverySleep: 5 * time.Millisecond,
	}
}

func TestRunner_EmptyDirectoryIsFatal(t *testing.T) {
	store := newFakeStore()
	r := NewRunner(runnerConfig(t.TempDir()), store)

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, sequencer.ErrNoLogFiles)
	assert.Zero(t, store.resets)
}

func TestRunner_IngestsAcrossRotatedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "log-0001.csv"),
		[]byte(csvLine("s1", 1, "one")+csvLine("s1", 2, "two")), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "log-0002.csv"),
		[]byte(csvLine("s1", 3, "three")), 0o644))

	store := newFakeStore()
	r := NewRunner(runnerConfig(dir), store)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	db := store.dbs["appdb"]
	require.NotNil(t, db)
	require.Len(t, db.events, 3)
	assert.Equal(t, int64(1), db.events[0].lineNum)
	assert.Equal(t, int64(3), db.events[2].lineNum)
}

func TestRunner_PicksUpAppendedRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log-0001.csv")
	require.NoError(t, os.WriteFile(path, []byte(csvLine("s1", 1, "one")), 0o644))

	store := newFakeStore()
	r := NewRunner(runnerConfig(dir), store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		db := store.dbs["appdb"]
		return db != nil && len(db.events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(csvLine("s1", 2, "two"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		return len(store.dbs["appdb"].events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunner_ResetsOnBadRow(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "log-0001.csv"),
		[]byte("not,even,close\n"), 0o644))

	store := newFakeStore()
	r := NewRunner(runnerConfig(dir), store)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)

	assert.Greater(t, store.resets, 0)
}
