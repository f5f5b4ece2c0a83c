package repo

import (
	"context"
	"database/sql"

	"github.com/takln/trendfeed/internal/model"
	"github.com/takln/trendfeed/internal/pkg/dbutil"
)

type QueueRepo struct {
	db *sql.DB
}

func NewQueueRepo(db *sql.DB) *QueueRepo {
	return &QueueRepo{db: db}
}

const queueColumns = `id, article_id, status, attempt_count, last_error, not_before, enqueued_at, claimed_at`

// Enqueue inserts a pending item unless the article already has an active
// (pending or processing) one. The NOT EXISTS guard handles the sequential
// case; the partial unique index on active article_id rows closes the race
// between concurrent enqueues, whose statement snapshots may each miss the
// other's uncommitted insert. Losing that race is the same no-op as finding
// an existing item. Returns true when a new item was created.
func (r *QueueRepo) Enqueue(ctx context.Context, id string, articleID string, now int64) (bool, error) {
	const query = `
		INSERT INTO embedding_queue (id, article_id, status, attempt_count, last_error, not_before, enqueued_at, claimed_at)
		SELECT $1, $2, $3, 0, '', 0, $4, 0
		WHERE NOT EXISTS (
			SELECT 1 FROM embedding_queue
			WHERE article_id = $5 AND status IN ($6, $7)
		)
	`
	res, err := r.db.ExecContext(ctx, query,
		id,
		articleID,
		string(model.QueueStatusPending),
		now,
		articleID,
		string(model.QueueStatusPending),
		string(model.QueueStatusProcessing),
	)
	if err != nil {
		if dbutil.IsConflict(err) {
			return false, nil
		}
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ClaimPending moves up to limit items into processing and returns them.
// Eligible items are pending ones whose retry delay has elapsed, plus
// processing ones stuck past staleBefore (crash recovery). Each claim is a
// conditional update keyed on the current status, so a concurrent drain
// cannot claim the same item twice.
func (r *QueueRepo) ClaimPending(ctx context.Context, limit int, now int64, staleBefore int64) ([]model.EmbeddingQueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `
		SELECT ` + queueColumns + `
		FROM embedding_queue
		WHERE (status = $1 AND not_before <= $2)
		   OR (status = $3 AND claimed_at < $4)
		ORDER BY enqueued_at
		LIMIT $5
	`
	rows, err := r.db.QueryContext(ctx, query,
		string(model.QueueStatusPending),
		now,
		string(model.QueueStatusProcessing),
		staleBefore,
		limit,
	)
	if err != nil {
		return nil, err
	}
	candidates, err := scanQueueItems(rows)
	if err != nil {
		return nil, err
	}

	claimed := make([]model.EmbeddingQueueItem, 0, len(candidates))
	for _, item := range candidates {
		ok, err := r.claim(ctx, &item, now, staleBefore)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Lost the race to a concurrent invocation.
			continue
		}
		item.Status = model.QueueStatusProcessing
		item.ClaimedAt = now
		claimed = append(claimed, item)
	}
	return claimed, nil
}

func (r *QueueRepo) claim(ctx context.Context, item *model.EmbeddingQueueItem, now int64, staleBefore int64) (bool, error) {
	const query = `
		UPDATE embedding_queue
		SET status = $1, claimed_at = $2
		WHERE id = $3
		  AND ((status = $4 AND not_before <= $5) OR (status = $6 AND claimed_at < $7))
	`
	res, err := r.db.ExecContext(ctx, query,
		string(model.QueueStatusProcessing),
		now,
		item.ID,
		string(model.QueueStatusPending),
		now,
		string(model.QueueStatusProcessing),
		staleBefore,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Complete retires a finished item. Completed items carry no information
// the article row doesn't already have, so they are deleted outright.
func (r *QueueRepo) Complete(ctx context.Context, id string) error {
	const query = `DELETE FROM embedding_queue WHERE id = $1 AND status = $2`
	_, err := r.db.ExecContext(ctx, query, id, string(model.QueueStatusProcessing))
	return err
}

// RequeueWithDelay puts a failed item back to pending, gated by notBefore.
func (r *QueueRepo) RequeueWithDelay(ctx context.Context, id string, attemptCount int, lastError string, notBefore int64) error {
	const query = `
		UPDATE embedding_queue
		SET status = $1, attempt_count = $2, last_error = $3, not_before = $4, claimed_at = 0
		WHERE id = $5 AND status = $6
	`
	_, err := r.db.ExecContext(ctx, query,
		string(model.QueueStatusPending),
		attemptCount,
		lastError,
		notBefore,
		id,
		string(model.QueueStatusProcessing),
	)
	return err
}

// MarkFailed terminally fails an item; it will never be claimed again.
func (r *QueueRepo) MarkFailed(ctx context.Context, id string, attemptCount int, lastError string) error {
	const query = `
		UPDATE embedding_queue
		SET status = $1, attempt_count = $2, last_error = $3
		WHERE id = $4 AND status = $5
	`
	_, err := r.db.ExecContext(ctx, query,
		string(model.QueueStatusFailed),
		attemptCount,
		lastError,
		id,
		string(model.QueueStatusProcessing),
	)
	return err
}

func (r *QueueRepo) CountPending(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM embedding_queue WHERE status = $1`
	var count int
	if err := r.db.QueryRowContext(ctx, query, string(model.QueueStatusPending)).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteTerminalBefore sweeps terminally failed rows older than the cutoff.
func (r *QueueRepo) DeleteTerminalBefore(ctx context.Context, cutoff int64) (int64, error) {
	const query = `DELETE FROM embedding_queue WHERE status = $1 AND enqueued_at < $2`
	res, err := r.db.ExecContext(ctx, query, string(model.QueueStatusFailed), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanQueueItems(rows *sql.Rows) ([]model.EmbeddingQueueItem, error) {
	defer rows.Close()
	var items []model.EmbeddingQueueItem
	for rows.Next() {
		var item model.EmbeddingQueueItem
		var status string
		if err := rows.Scan(
			&item.ID,
			&item.ArticleID,
			&status,
			&item.AttemptCount,
			&item.LastError,
			&item.NotBefore,
			&item.EnqueuedAt,
			&item.ClaimedAt,
		); err != nil {
			return nil, err
		}
		item.Status = model.QueueStatus(status)
		items = append(items, item)
	}
	return items, rows.Err()
}
