package repo

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/takln/trendfeed/internal/db"
	"github.com/takln/trendfeed/internal/model"
	"github.com/takln/trendfeed/internal/pkg/dbutil"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.ApplyMigrations(conn))
	return conn
}

func TestEnqueueSecondActiveItemIsNoOp(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepo(newTestDB(t))
	now := time.Now().UnixMilli()

	created, err := repo.Enqueue(ctx, "q1", "article-1", now)
	require.NoError(t, err)
	require.True(t, created)

	// A second enqueue for the same article is absorbed while the first
	// item is still active, even under a fresh item id.
	created, err = repo.Enqueue(ctx, "q2", "article-1", now)
	require.NoError(t, err)
	require.False(t, created)

	pending, err := repo.CountPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, pending)

	// A different article is unaffected.
	created, err = repo.Enqueue(ctx, "q3", "article-2", now)
	require.NoError(t, err)
	require.True(t, created)
}

func TestActiveQueueRowsAreUniquePerArticle(t *testing.T) {
	ctx := context.Background()
	conn := newTestDB(t)
	repo := NewQueueRepo(conn)
	now := time.Now().UnixMilli()

	created, err := repo.Enqueue(ctx, "q1", "article-1", now)
	require.NoError(t, err)
	require.True(t, created)

	// Bypass the NOT EXISTS guard the way a racing transaction would.
	// The partial unique index rejects the duplicate active row, and the
	// rejection maps to the same no-op Enqueue reports.
	_, err = conn.ExecContext(ctx, `
		INSERT INTO embedding_queue (id, article_id, status, attempt_count, last_error, not_before, enqueued_at, claimed_at)
		VALUES ($1, $2, $3, 0, '', 0, $4, 0)
	`, "q2", "article-1", string(model.QueueStatusPending), now)
	require.Error(t, err)
	require.True(t, dbutil.IsConflict(err))
}

func TestClaimPendingIsExclusive(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepo(newTestDB(t))
	now := time.Now().UnixMilli()
	staleBefore := now - (10 * time.Minute).Milliseconds()

	_, err := repo.Enqueue(ctx, "q1", "article-1", now)
	require.NoError(t, err)

	claimed, err := repo.ClaimPending(ctx, 10, now, staleBefore)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, "q1", claimed[0].ID)
	require.Equal(t, model.QueueStatusProcessing, claimed[0].Status)

	// The item is now owned; a second drain sees nothing to claim.
	claimed, err = repo.ClaimPending(ctx, 10, now, staleBefore)
	require.NoError(t, err)
	require.Empty(t, claimed)

	// The conditional update itself reports the lost race.
	ok, err := repo.claim(ctx, &model.EmbeddingQueueItem{ID: "q1"}, now, staleBefore)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClaimPendingReclaimsStaleProcessing(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepo(newTestDB(t))
	now := time.Now().UnixMilli()
	staleBefore := now - (10 * time.Minute).Milliseconds()

	_, err := repo.Enqueue(ctx, "q1", "article-1", now)
	require.NoError(t, err)

	claimed, err := repo.ClaimPending(ctx, 10, now, staleBefore)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Eleven minutes later the owner never completed. The claim has gone
	// stale and the item is claimable again.
	later := now + (11 * time.Minute).Milliseconds()
	laterStale := later - (10 * time.Minute).Milliseconds()
	claimed, err = repo.ClaimPending(ctx, 10, later, laterStale)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, "q1", claimed[0].ID)
	require.Equal(t, later, claimed[0].ClaimedAt)
}

func TestCompleteFreesArticleForReEnqueue(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepo(newTestDB(t))
	now := time.Now().UnixMilli()
	staleBefore := now - (10 * time.Minute).Milliseconds()

	_, err := repo.Enqueue(ctx, "q1", "article-1", now)
	require.NoError(t, err)
	claimed, err := repo.ClaimPending(ctx, 10, now, staleBefore)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, repo.Complete(ctx, "q1"))

	created, err := repo.Enqueue(ctx, "q2", "article-1", now)
	require.NoError(t, err)
	require.True(t, created)
}

func TestMarkFailedReleasesActiveSlot(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepo(newTestDB(t))
	now := time.Now().UnixMilli()
	staleBefore := now - (10 * time.Minute).Milliseconds()

	_, err := repo.Enqueue(ctx, "q1", "article-1", now)
	require.NoError(t, err)
	claimed, err := repo.ClaimPending(ctx, 10, now, staleBefore)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, repo.MarkFailed(ctx, "q1", 4, "boom"))

	// Terminal rows do not hold the active slot, so the article can be
	// queued again by a later resync.
	created, err := repo.Enqueue(ctx, "q2", "article-1", now)
	require.NoError(t, err)
	require.True(t, created)

	// And the reaper can sweep the terminal row.
	swept, err := repo.DeleteTerminalBefore(ctx, now+1)
	require.NoError(t, err)
	require.Equal(t, int64(1), swept)
}
