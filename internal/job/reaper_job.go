package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/takln/trendfeed/internal/repo"
)

const (
	defaultFailedItemRetention = 7 * 24 * time.Hour
	defaultCacheRetention      = 30 * 24 * time.Hour
	defaultRunRetention        = 24 * time.Hour
)

// ReaperJob clears expired clusters, old terminal queue rows, stale
// embedding cache entries, and run rows a failed pass never finished.
// Expired clusters stop being served as soon as they pass their TTL;
// this job only reclaims the rows.
type ReaperJob struct {
	clusters *repo.ClusterRepo
	queue    *repo.QueueRepo
	cache    *repo.EmbeddingCacheRepo
	runs     *repo.RunRepo
}

func NewReaperJob(clusters *repo.ClusterRepo, queue *repo.QueueRepo, cache *repo.EmbeddingCacheRepo, runs *repo.RunRepo) *ReaperJob {
	return &ReaperJob{clusters: clusters, queue: queue, cache: cache, runs: runs}
}

func (j *ReaperJob) Name() string {
	return "reaper"
}

func (j *ReaperJob) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	now := time.Now().UnixMilli()

	expired, err := j.clusters.DeleteExpired(ctx, now)
	if err != nil {
		return err
	}
	terminal, err := j.queue.DeleteTerminalBefore(ctx, time.Now().Add(-defaultFailedItemRetention).UnixMilli())
	if err != nil {
		return err
	}
	var cached int64
	if j.cache != nil {
		cached, err = j.cache.DeleteBefore(ctx, time.Now().Add(-defaultCacheRetention).UnixMilli())
		if err != nil {
			return err
		}
	}
	var stranded int64
	if j.runs != nil {
		stranded, err = j.runs.DeleteUnfinishedBefore(ctx, time.Now().Add(-defaultRunRetention).UnixMilli())
		if err != nil {
			return err
		}
	}
	logger.Info("reaper finished",
		zap.Int64("expired_clusters", expired),
		zap.Int64("terminal_queue_items", terminal),
		zap.Int64("cache_entries", cached),
		zap.Int64("stranded_runs", stranded),
	)
	return nil
}
