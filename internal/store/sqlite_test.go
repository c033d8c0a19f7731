package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func intPtr(n int) *int { return &n }

func TestSQLite_SaveAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	t0 := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	n, err := st.SaveSnapshots(ctx, []Snapshot{
		{IssueKey: "PROJ-1", FieldID: "customfield_11067", Current: "15/Jan/2026",
			History: []string{"10/Jan/2026", "05/Jan/2026"}, ChangeCount: 3,
			SlipDays: intPtr(10), SlipDisplay: "+1.4 weeks", RecordedAt: t0},
		{IssueKey: "PROJ-2", FieldID: "customfield_11067", Current: "01/Feb/2026", RecordedAt: t0.Add(time.Hour)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	snaps, err := st.ListSnapshots(ctx, SnapshotFilter{})
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	assert.Equal(t, "PROJ-2", snaps[0].IssueKey, "newest first")
	assert.Nil(t, snaps[0].SlipDays)
	assert.Equal(t, []string{}, snaps[0].History)

	first := snaps[1]
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "15/Jan/2026", first.Current)
	assert.Equal(t, []string{"10/Jan/2026", "05/Jan/2026"}, first.History)
	assert.Equal(t, 3, first.ChangeCount)
	require.NotNil(t, first.SlipDays)
	assert.Equal(t, 10, *first.SlipDays)
	assert.Equal(t, "+1.4 weeks", first.SlipDisplay)
	assert.True(t, t0.Equal(first.RecordedAt))
}

func TestSQLite_ListFilters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.SaveSnapshots(ctx, []Snapshot{
		{IssueKey: "PROJ-1", FieldID: "customfield_1", Current: "a"},
		{IssueKey: "PROJ-1", FieldID: "customfield_2", Current: "b"},
		{IssueKey: "PROJ-2", FieldID: "customfield_1", Current: "c"},
	})
	require.NoError(t, err)

	snaps, err := st.ListSnapshots(ctx, SnapshotFilter{IssueKey: "PROJ-1"})
	require.NoError(t, err)
	assert.Len(t, snaps, 2)

	snaps, err = st.ListSnapshots(ctx, SnapshotFilter{IssueKey: "PROJ-1", FieldID: "customfield_2"})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "b", snaps[0].Current)

	snaps, err = st.ListSnapshots(ctx, SnapshotFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestSQLite_SaveEmpty(t *testing.T) {
	st := newTestSQLiteStore(t)

	n, err := st.SaveSnapshots(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_ListEmpty(t *testing.T) {
	st := newTestSQLiteStore(t)

	snaps, err := st.ListSnapshots(context.Background(), SnapshotFilter{IssueKey: "NOPE-1"})
	require.NoError(t, err)
	assert.Empty(t, snaps)
}
