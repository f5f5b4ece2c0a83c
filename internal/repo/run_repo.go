package repo

import (
	"context"
	"database/sql"

	"github.com/takln/trendfeed/internal/model"
)

// RunRepo records clustering run accounting. The most recent finished run
// drives the trigger heuristic; per-run counters replace any process-global
// statistics.
type RunRepo struct {
	db *sql.DB
}

func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db}
}

func (r *RunRepo) Create(ctx context.Context, id string, startedAt int64) error {
	const query = `
		INSERT INTO clustering_runs (id, started_at, finished_at, clusters_created, articles_considered, method)
		VALUES ($1, $2, 0, 0, 0, '')
	`
	_, err := r.db.ExecContext(ctx, query, id, startedAt)
	return err
}

func (r *RunRepo) Finish(ctx context.Context, id string, finishedAt int64, created int, considered int, method model.GenerationMethod) error {
	const query = `
		UPDATE clustering_runs
		SET finished_at = $1, clusters_created = $2, articles_considered = $3, method = $4
		WHERE id = $5
	`
	_, err := r.db.ExecContext(ctx, query, finishedAt, created, considered, string(method), id)
	return err
}

// DeleteUnfinishedBefore sweeps run rows a crashed or failed pass left
// with finished_at = 0. LatestFinishedAt already ignores them; this only
// reclaims the rows.
func (r *RunRepo) DeleteUnfinishedBefore(ctx context.Context, cutoff int64) (int64, error) {
	const query = `DELETE FROM clustering_runs WHERE finished_at = 0 AND started_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LatestFinishedAt returns the finish time of the most recent completed run
// in unix milliseconds, or 0 when no run has ever completed.
func (r *RunRepo) LatestFinishedAt(ctx context.Context) (int64, error) {
	const query = `SELECT COALESCE(MAX(finished_at), 0) FROM clustering_runs WHERE finished_at > 0`
	var latest int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&latest); err != nil {
		return 0, err
	}
	return latest, nil
}
