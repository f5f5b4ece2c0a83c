package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/takln/trendfeed/internal/ai"
	"github.com/takln/trendfeed/internal/contenthash"
	"github.com/takln/trendfeed/internal/model"
)

// ReasonServiceUnavailable is the fixed failure reason recorded when no
// embedding provider is configured. Items failed this way made no network
// call and are not retried.
const ReasonServiceUnavailable = "embedding service unavailable"

// processingStaleAfter is how long an item may sit in processing before a
// later run assumes the claimer crashed and reclaims it.
const processingStaleAfter = 10 * time.Minute

// embedBackoff is indexed by attempt count after a failure: first failure
// waits 1s, second 2s, third 4s. A fourth failure is terminal.
var embedBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

type queueArticleStore interface {
	GetByID(ctx context.Context, id string) (*model.Article, error)
	SaveEmbedding(ctx context.Context, articleID string, vec []float32, contentHash string, generatedAt int64) error
	MarkEmbeddingFailed(ctx context.Context, articleID string, reason string, now int64) error
	SetEmbeddingStatus(ctx context.Context, articleID string, status model.EmbeddingStatus, now int64) error
}

type queueStore interface {
	Enqueue(ctx context.Context, id string, articleID string, now int64) (bool, error)
	ClaimPending(ctx context.Context, limit int, now int64, staleBefore int64) ([]model.EmbeddingQueueItem, error)
	Complete(ctx context.Context, id string) error
	RequeueWithDelay(ctx context.Context, id string, attemptCount int, lastError string, notBefore int64) error
	MarkFailed(ctx context.Context, id string, attemptCount int, lastError string) error
	CountPending(ctx context.Context) (int, error)
}

type embeddingManager interface {
	EmbeddingConfigured() bool
	EmbeddingModelName() string
	EmbedBatch(ctx context.Context, inputs []ai.EmbedInput) ([]ai.EmbedResult, error)
}

type embedCache interface {
	Get(ctx context.Context, modelName string, contentHash string) ([]float32, bool, error)
	Save(ctx context.Context, modelName string, contentHash string, embedding []float32, now int64) error
}

type QueueSummary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// QueueService owns the embedding queue lifecycle: idempotent enqueue,
// bounded claim-and-drain, retry with backoff, and terminal failure.
type QueueService struct {
	articles queueArticleStore
	queue    queueStore
	manager  embeddingManager
	cache    embedCache
	now      func() time.Time
}

func NewQueueService(articles queueArticleStore, queue queueStore, manager embeddingManager, cache embedCache) *QueueService {
	return &QueueService{
		articles: articles,
		queue:    queue,
		manager:  manager,
		cache:    cache,
		now:      time.Now,
	}
}

// EnqueueIfStale enqueues the article when its embedding no longer matches
// its content. Re-enqueue of an article with an active item is a no-op.
// Returns true when a new queue item was created.
func (s *QueueService) EnqueueIfStale(ctx context.Context, article *model.Article) (bool, error) {
	if !contenthash.NeedsUpdate(article) {
		return false, nil
	}
	now := s.now().UnixMilli()
	created, err := s.queue.Enqueue(ctx, newID(), article.ID, now)
	if err != nil {
		return false, err
	}
	if created && article.EmbeddingStatus == model.EmbeddingStatusCompleted {
		// Content changed under a completed embedding; reflect the staleness.
		if err := s.articles.SetEmbeddingStatus(ctx, article.ID, model.EmbeddingStatusPending, now); err != nil {
			logutil.GetLogger(ctx).Warn("failed to reset article embedding status", zap.String("article_id", article.ID), zap.Error(err))
		}
	}
	return created, nil
}

// ProcessQueue claims up to min(maxItems, 100) pending items and drains
// them through the embedding provider. Item failures are contained and
// reported through the summary; only a storage failure returns an error.
func (s *QueueService) ProcessQueue(ctx context.Context, maxItems int) (*QueueSummary, error) {
	limit := maxItems
	if limit <= 0 || limit > ai.MaxEmbedBatchSize {
		limit = ai.MaxEmbedBatchSize
	}
	logger := logutil.GetLogger(ctx)
	now := s.now()
	nowMs := now.UnixMilli()
	staleBefore := now.Add(-processingStaleAfter).UnixMilli()

	claimed, err := s.queue.ClaimPending(ctx, limit, nowMs, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("claim pending queue items: %w", err)
	}
	summary := &QueueSummary{Processed: len(claimed)}
	if len(claimed) == 0 {
		summary.Remaining, _ = s.queue.CountPending(ctx)
		return summary, nil
	}

	for _, item := range claimed {
		if err := s.articles.SetEmbeddingStatus(ctx, item.ArticleID, model.EmbeddingStatusProcessing, nowMs); err != nil {
			logger.Warn("failed to mark article processing", zap.String("article_id", item.ArticleID), zap.Error(err))
		}
	}

	if !s.manager.EmbeddingConfigured() {
		// Cheap failure path: no call is attempted, nothing is retried.
		for _, item := range claimed {
			s.failTerminal(ctx, &item, ReasonServiceUnavailable)
			summary.Failed++
		}
		summary.Remaining, _ = s.queue.CountPending(ctx)
		return summary, nil
	}

	type pendingEmbed struct {
		item    model.EmbeddingQueueItem
		article *model.Article
		hash    string
	}
	var toEmbed []pendingEmbed
	var inputs []ai.EmbedInput
	modelName := s.manager.EmbeddingModelName()

	for _, item := range claimed {
		article, err := s.articles.GetByID(ctx, item.ArticleID)
		if err != nil {
			// The article is gone; retrying cannot help.
			s.failTerminal(ctx, &item, fmt.Sprintf("load article: %v", err))
			summary.Failed++
			continue
		}
		hash := contenthash.Hash(article.Title, article.Excerpt)
		if s.cache != nil {
			if vec, ok, err := s.cache.Get(ctx, modelName, hash); err == nil && ok {
				if s.persistSuccess(ctx, &item, article.ID, vec, hash) {
					summary.Succeeded++
				} else {
					summary.Failed++
				}
				continue
			}
		}
		toEmbed = append(toEmbed, pendingEmbed{item: item, article: article, hash: hash})
		inputs = append(inputs, ai.EmbedInput{ID: item.ID, Text: contenthash.PrepareInput(article.Title, article.Excerpt)})
	}

	if len(toEmbed) > 0 {
		results, err := s.manager.EmbedBatch(ctx, inputs)
		if err != nil {
			if errors.Is(err, ai.ErrUnavailable) {
				for _, p := range toEmbed {
					s.failTerminal(ctx, &p.item, ReasonServiceUnavailable)
					summary.Failed++
				}
			} else {
				logger.Error("embed batch failed", zap.Int("items", len(toEmbed)), zap.Error(err))
				for _, p := range toEmbed {
					s.failRetryable(ctx, &p.item, err.Error())
					summary.Failed++
				}
			}
		} else {
			byID := make(map[string]ai.EmbedResult, len(results))
			for _, res := range results {
				byID[res.ID] = res
			}
			for _, p := range toEmbed {
				res, ok := byID[p.item.ID]
				switch {
				case !ok:
					s.failRetryable(ctx, &p.item, "no embedding returned")
					summary.Failed++
				case res.Err != nil:
					s.failRetryable(ctx, &p.item, res.Err.Error())
					summary.Failed++
				case len(res.Embedding) != model.EmbeddingDimension:
					s.failRetryable(ctx, &p.item, fmt.Sprintf("unexpected embedding dimension %d", len(res.Embedding)))
					summary.Failed++
				default:
					if s.persistSuccess(ctx, &p.item, p.article.ID, res.Embedding, p.hash) {
						summary.Succeeded++
					} else {
						summary.Failed++
					}
				}
			}
		}
	}

	summary.Remaining, _ = s.queue.CountPending(ctx)
	logger.Info("queue drained",
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("remaining", summary.Remaining),
	)
	return summary, nil
}

// persistSuccess writes the vector to the article, caches it, and retires
// the queue item. Each success is durable on its own; a truncated run keeps
// everything persisted so far.
func (s *QueueService) persistSuccess(ctx context.Context, item *model.EmbeddingQueueItem, articleID string, vec []float32, hash string) bool {
	nowMs := s.now().UnixMilli()
	if err := s.articles.SaveEmbedding(ctx, articleID, vec, hash, nowMs); err != nil {
		logutil.GetLogger(ctx).Error("failed to persist embedding", zap.String("article_id", articleID), zap.Error(err))
		s.failRetryable(ctx, item, fmt.Sprintf("persist embedding: %v", err))
		return false
	}
	if s.cache != nil {
		if err := s.cache.Save(ctx, s.manager.EmbeddingModelName(), hash, vec, nowMs); err != nil {
			logutil.GetLogger(ctx).Warn("failed to cache embedding", zap.Error(err))
		}
	}
	if err := s.queue.Complete(ctx, item.ID); err != nil {
		logutil.GetLogger(ctx).Warn("failed to retire queue item", zap.String("item_id", item.ID), zap.Error(err))
	}
	return true
}

// failRetryable applies the backoff policy: an item that has not yet used
// its three retries goes back to pending behind a delay; one that has is
// failed terminally and never claimed again.
func (s *QueueService) failRetryable(ctx context.Context, item *model.EmbeddingQueueItem, reason string) {
	if item.AttemptCount >= model.MaxEmbedAttempts {
		s.failTerminalWithAttempt(ctx, item, item.AttemptCount, reason)
		return
	}
	attempt := item.AttemptCount + 1
	notBefore := s.now().Add(embedBackoff[attempt-1]).UnixMilli()
	if err := s.queue.RequeueWithDelay(ctx, item.ID, attempt, reason, notBefore); err != nil {
		logutil.GetLogger(ctx).Error("failed to requeue item", zap.String("item_id", item.ID), zap.Error(err))
		return
	}
	if err := s.articles.SetEmbeddingStatus(ctx, item.ArticleID, model.EmbeddingStatusPending, s.now().UnixMilli()); err != nil {
		logutil.GetLogger(ctx).Warn("failed to reset article status", zap.String("article_id", item.ArticleID), zap.Error(err))
	}
}

func (s *QueueService) failTerminal(ctx context.Context, item *model.EmbeddingQueueItem, reason string) {
	attempt := item.AttemptCount + 1
	if attempt > model.MaxEmbedAttempts {
		attempt = model.MaxEmbedAttempts
	}
	s.failTerminalWithAttempt(ctx, item, attempt, reason)
}

func (s *QueueService) failTerminalWithAttempt(ctx context.Context, item *model.EmbeddingQueueItem, attempt int, reason string) {
	if err := s.queue.MarkFailed(ctx, item.ID, attempt, reason); err != nil {
		logutil.GetLogger(ctx).Error("failed to mark item failed", zap.String("item_id", item.ID), zap.Error(err))
	}
	if err := s.articles.MarkEmbeddingFailed(ctx, item.ArticleID, reason, s.now().UnixMilli()); err != nil {
		logutil.GetLogger(ctx).Warn("failed to mark article failed", zap.String("article_id", item.ArticleID), zap.Error(err))
	}
}
