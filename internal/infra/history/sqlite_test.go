package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	run := Run{
		ID:           "run-1",
		Workspace:    "/repo",
		Title:        "fix tests",
		Model:        "gpt-test",
		Status:       "completed",
		Reason:       "finished",
		OK:           true,
		Summary:      "fixed",
		Turns:        3,
		FilesChanged: []string{"a.go", "b.go"},
		Commands:     []Command{{Command: "go test ./...", ExitCode: 1}, {Command: "go test ./...", ExitCode: 0}},
		StartedAt:    started,
		Duration:     1500 * time.Millisecond,
	}
	require.NoError(t, store.Record(ctx, run))

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run, got)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, store.Record(ctx, Run{
			ID:        id,
			Workspace: "/repo",
			Title:     id,
			Status:    "failed",
			StartedAt: base.Add(time.Duration(i) * 100 * time.Millisecond),
		}))
	}

	runs, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-c", runs[0].ID)
	assert.Equal(t, "run-b", runs[1].ID)
	assert.Empty(t, runs[0].Commands)
	assert.Empty(t, runs[0].FilesChanged)
}

func TestRecordRejectsDuplicateAndEmptyIDs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, Run{ID: "run-1", Commands: []Command{{Command: "ls"}}}))
	assert.Error(t, store.Record(ctx, Run{ID: "run-1", Commands: []Command{{Command: "pwd"}}}))
	assert.Error(t, store.Record(ctx, Run{}))

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []Command{{Command: "ls"}}, got.Commands, "failed insert is rolled back")
}
