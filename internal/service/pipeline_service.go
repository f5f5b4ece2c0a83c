package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// orchestratorDrainSize is how many queue items one scheduled pass drains.
const orchestratorDrainSize = 50

// freshEmbedWindow is the trailing window over which newly completed
// embeddings count toward the clustering trigger.
const freshEmbedWindow = 4 * time.Hour

type queueProcessor interface {
	ProcessQueue(ctx context.Context, maxItems int) (*QueueSummary, error)
}

type clusterGenerator interface {
	GenerateClusters(ctx context.Context, feedIDs []string) (*ClusterSummary, error)
}

type freshCounter interface {
	CountEmbeddedSince(ctx context.Context, since int64) (int, error)
}

type lastRunStore interface {
	LatestFinishedAt(ctx context.Context) (int64, error)
}

type embedAvailability interface {
	EmbeddingConfigured() bool
}

type storagePinger interface {
	PingContext(ctx context.Context) error
}

type RunResult struct {
	Timestamp         time.Time       `json:"timestamp"`
	Embeddings        *QueueSummary   `json:"embeddings,omitempty"`
	EmbeddingSkipped  string          `json:"embedding_skipped,omitempty"`
	Clusters          *ClusterSummary `json:"clusters,omitempty"`
	ClusteringSkipped string          `json:"clustering_skipped,omitempty"`
	Errors            []string        `json:"errors,omitempty"`
}

// PipelineService is the scheduled entry point. One invocation drains the
// embedding queue, then decides whether a clustering pass is due. The two
// phases are isolated: a failure in one is recorded and the other still
// runs. Overlapping invocations are safe because every queue mutation is a
// conditional status transition.
type PipelineService struct {
	storage    storagePinger
	queue      queueProcessor
	clusters   clusterGenerator
	runs       lastRunStore
	fresh      freshCounter
	embeddings embedAvailability
	trigger    TriggerConfig
	now        func() time.Time
}

func NewPipelineService(
	storage storagePinger,
	queue queueProcessor,
	clusters clusterGenerator,
	runs lastRunStore,
	fresh freshCounter,
	embeddings embedAvailability,
	trigger TriggerConfig,
) *PipelineService {
	return &PipelineService{
		storage:    storage,
		queue:      queue,
		clusters:   clusters,
		runs:       runs,
		fresh:      fresh,
		embeddings: embeddings,
		trigger:    trigger,
		now:        time.Now,
	}
}

// RunOnce executes one full pipeline pass. It returns an error only when
// the storage layer itself is unreachable; everything else is reported
// inside the result.
func (s *PipelineService) RunOnce(ctx context.Context) (*RunResult, error) {
	if err := s.storage.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("storage unreachable: %w", err)
	}
	logger := logutil.GetLogger(ctx)
	now := s.now()
	result := &RunResult{Timestamp: now}

	if !s.embeddings.EmbeddingConfigured() {
		result.EmbeddingSkipped = "embedding service not configured"
	}
	// The drain still runs when the provider is unconfigured: claimed items
	// are failed cheaply instead of rotting in the queue.
	summary, err := s.queue.ProcessQueue(ctx, orchestratorDrainSize)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("embedding phase: %v", err))
		logger.Error("embedding phase failed", zap.Error(err))
	} else {
		result.Embeddings = summary
	}

	decision, err := s.clusteringDecision(ctx, now)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("clustering trigger: %v", err))
		logger.Error("clustering trigger failed", zap.Error(err))
		return result, nil
	}
	if !decision.Run {
		result.ClusteringSkipped = decision.Reason
		logger.Info("clustering skipped", zap.String("reason", decision.Reason))
		return result, nil
	}
	clusterSummary, err := s.clusters.GenerateClusters(ctx, nil)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("clustering phase: %v", err))
		logger.Error("clustering phase failed", zap.Error(err))
		return result, nil
	}
	result.Clusters = clusterSummary
	return result, nil
}

func (s *PipelineService) clusteringDecision(ctx context.Context, now time.Time) (TriggerDecision, error) {
	latest, err := s.runs.LatestFinishedAt(ctx)
	if err != nil {
		return TriggerDecision{}, fmt.Errorf("load last clustering run: %w", err)
	}
	var lastRun *time.Time
	if latest > 0 {
		ts := time.UnixMilli(latest)
		lastRun = &ts
	}
	fresh, err := s.fresh.CountEmbeddedSince(ctx, now.Add(-freshEmbedWindow).UnixMilli())
	if err != nil {
		return TriggerDecision{}, fmt.Errorf("count fresh embeddings: %w", err)
	}
	return ShouldRunClustering(lastRun, now, fresh, s.trigger), nil
}

// LatestRun exposes the last completed clustering run time for status
// endpoints; zero when none exists.
func (s *PipelineService) LatestRun(ctx context.Context) (time.Time, error) {
	latest, err := s.runs.LatestFinishedAt(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if latest == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(latest), nil
}
