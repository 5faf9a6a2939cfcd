package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"bothost/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "bothost.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLedger(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordRunStart(ctx, &models.Run{ID: "r1", BotID: "alpha", PID: 100, Language: "python", StartedAt: start}))
	require.NoError(t, s.RecordRunStart(ctx, &models.Run{ID: "r2", BotID: "alpha", PID: 200, Language: "python", StartedAt: start.Add(time.Minute)}))
	require.NoError(t, s.RecordRunStart(ctx, &models.Run{ID: "r3", BotID: "beta", PID: 300, StartedAt: start}))
	require.NoError(t, s.RecordRunExit(ctx, "r1", 137, models.ReasonMemoryLimit, start.Add(30*time.Second)))

	runs, err := s.ListRuns(ctx, "alpha", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "r2", runs[0].ID)
	assert.Nil(t, runs[0].EndedAt, "still running")
	assert.Nil(t, runs[0].ExitCode)

	assert.Equal(t, "r1", runs[1].ID)
	assert.Equal(t, 100, runs[1].PID)
	assert.Equal(t, start, runs[1].StartedAt)
	require.NotNil(t, runs[1].ExitCode)
	assert.Equal(t, 137, *runs[1].ExitCode)
	assert.Equal(t, models.ReasonMemoryLimit, runs[1].Reason)
	assert.Equal(t, start.Add(30*time.Second), *runs[1].EndedAt)

	limited, err := s.ListRuns(ctx, "alpha", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeploymentLedger(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	ok := &models.Deployment{BotID: "alpha", Revision: "abc", Language: "javascript", StartupFile: "index.js", UserID: "u1", FileCount: 3, Success: true, DeployedAt: now}
	failed := &models.Deployment{BotID: "alpha", Language: "python", Phase: "install", DeployedAt: now.Add(time.Second)}
	require.NoError(t, s.RecordDeployment(ctx, ok))
	require.NoError(t, s.RecordDeployment(ctx, failed))
	assert.NotZero(t, ok.ID)

	list, err := s.ListDeployments(ctx, "alpha", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "install", list[0].Phase)
	assert.False(t, list[0].Success)
	assert.Equal(t, *ok, list[1])

	empty, err := s.ListDeployments(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bothost.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}
