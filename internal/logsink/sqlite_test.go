package logsink

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSink(t *testing.T) *SQLiteSink {
	t.Helper()

	sink, err := OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "journal.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	return sink
}

func TestSQLiteSink_RecordAndRecent(t *testing.T) {
	sink := openTestSink(t)
	ctx := t.Context()

	require.NoError(t, sink.Record(ctx, CategoryAuth, "github", "token refresh rejected"))
	require.NoError(t, sink.Record(ctx, CategoryTransfer, "onedrive", "upload report.pdf failed"))
	require.NoError(t, sink.Record(ctx, CategoryNetwork, "gdrive", "connection reset"))

	entries, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Newest first.
	assert.Equal(t, CategoryNetwork, entries[0].Category)
	assert.Equal(t, CategoryTransfer, entries[1].Category)
	assert.Equal(t, CategoryAuth, entries[2].Category)

	assert.Equal(t, "gdrive", entries[0].Source)
	assert.Equal(t, "connection reset", entries[0].Message)
	assert.WithinDuration(t, time.Now(), entries[0].CreatedAt, time.Minute)
}

func TestSQLiteSink_RecentLimit(t *testing.T) {
	sink := openTestSink(t)
	ctx := t.Context()

	for range 5 {
		require.NoError(t, sink.Record(ctx, CategoryNetwork, "onedrive", "timeout"))
	}

	entries, err := sink.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSQLiteSink_Empty(t *testing.T) {
	sink := openTestSink(t)

	entries, err := sink.Recent(t.Context(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSQLiteSink_ReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := t.Context()

	sink, err := OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, sink.Record(ctx, CategoryAuth, "github", "signed in"))
	require.NoError(t, sink.Close())

	// Reopen runs migrations idempotently and sees earlier entries.
	sink2, err := OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	defer sink2.Close()

	entries, err := sink2.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "signed in", entries[0].Message)
}

func TestNoop_Discards(t *testing.T) {
	assert.NoError(t, Noop{}.Record(t.Context(), CategoryAuth, "github", "whatever"))
}
