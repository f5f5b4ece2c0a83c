package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/takln/trendfeed/internal/model"
)

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepo(newTestDB(t))
	started := time.Now().UnixMilli()

	require.NoError(t, repo.Create(ctx, "run-1", started))

	// An in-flight run is not a finished one.
	latest, err := repo.LatestFinishedAt(ctx)
	require.NoError(t, err)
	require.Zero(t, latest)

	finished := started + 5000
	require.NoError(t, repo.Finish(ctx, "run-1", finished, 3, 42, model.GenerationMethodVector))

	latest, err = repo.LatestFinishedAt(ctx)
	require.NoError(t, err)
	require.Equal(t, finished, latest)
}

func TestDeleteUnfinishedBeforeSweepsStrandedRuns(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepo(newTestDB(t))
	now := time.Now().UnixMilli()
	dayAgo := now - (24 * time.Hour).Milliseconds()

	// A run whose pass errored out before Finish, an old completed run,
	// and a run that is still legitimately in flight.
	require.NoError(t, repo.Create(ctx, "stranded", dayAgo-1000))
	require.NoError(t, repo.Create(ctx, "completed", dayAgo-1000))
	require.NoError(t, repo.Finish(ctx, "completed", dayAgo-500, 2, 10, model.GenerationMethodVector))
	require.NoError(t, repo.Create(ctx, "in-flight", now))

	swept, err := repo.DeleteUnfinishedBefore(ctx, dayAgo)
	require.NoError(t, err)
	require.Equal(t, int64(1), swept)

	// The completed run still anchors the trigger heuristic.
	latest, err := repo.LatestFinishedAt(ctx)
	require.NoError(t, err)
	require.Equal(t, dayAgo-500, latest)
}
