package service

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/takln/trendfeed/internal/ai"
	"github.com/takln/trendfeed/internal/contenthash"
	"github.com/takln/trendfeed/internal/model"
)

type memArticleStore struct {
	articles map[string]*model.Article
}

func newMemArticleStore() *memArticleStore {
	return &memArticleStore{articles: make(map[string]*model.Article)}
}

func (m *memArticleStore) GetByID(ctx context.Context, id string) (*model.Article, error) {
	article, ok := m.articles[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	copied := *article
	return &copied, nil
}

func (m *memArticleStore) SaveEmbedding(ctx context.Context, articleID string, vec []float32, contentHash string, generatedAt int64) error {
	article := m.articles[articleID]
	article.Embedding = vec
	article.EmbeddingStatus = model.EmbeddingStatusCompleted
	article.ContentHash = contentHash
	article.EmbeddingError = ""
	article.EmbeddingGeneratedAt = generatedAt
	return nil
}

func (m *memArticleStore) MarkEmbeddingFailed(ctx context.Context, articleID string, reason string, now int64) error {
	article, ok := m.articles[articleID]
	if !ok {
		return nil
	}
	article.Embedding = nil
	article.EmbeddingStatus = model.EmbeddingStatusFailed
	article.EmbeddingError = reason
	return nil
}

func (m *memArticleStore) SetEmbeddingStatus(ctx context.Context, articleID string, status model.EmbeddingStatus, now int64) error {
	if article, ok := m.articles[articleID]; ok {
		article.EmbeddingStatus = status
	}
	return nil
}

type memQueueStore struct {
	items     map[string]*model.EmbeddingQueueItem
	lastLimit int
}

func newMemQueueStore() *memQueueStore {
	return &memQueueStore{items: make(map[string]*model.EmbeddingQueueItem)}
}

func (m *memQueueStore) Enqueue(ctx context.Context, id string, articleID string, now int64) (bool, error) {
	for _, item := range m.items {
		if item.ArticleID == articleID &&
			(item.Status == model.QueueStatusPending || item.Status == model.QueueStatusProcessing) {
			return false, nil
		}
	}
	m.items[id] = &model.EmbeddingQueueItem{
		ID:         id,
		ArticleID:  articleID,
		Status:     model.QueueStatusPending,
		EnqueuedAt: now,
	}
	return true, nil
}

func (m *memQueueStore) ClaimPending(ctx context.Context, limit int, now int64, staleBefore int64) ([]model.EmbeddingQueueItem, error) {
	m.lastLimit = limit
	var eligible []*model.EmbeddingQueueItem
	for _, item := range m.items {
		if item.Status == model.QueueStatusPending && item.NotBefore <= now {
			eligible = append(eligible, item)
		}
		if item.Status == model.QueueStatusProcessing && item.ClaimedAt < staleBefore {
			eligible = append(eligible, item)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].EnqueuedAt < eligible[j].EnqueuedAt })
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	claimed := make([]model.EmbeddingQueueItem, 0, len(eligible))
	for _, item := range eligible {
		item.Status = model.QueueStatusProcessing
		item.ClaimedAt = now
		claimed = append(claimed, *item)
	}
	return claimed, nil
}

func (m *memQueueStore) Complete(ctx context.Context, id string) error {
	delete(m.items, id)
	return nil
}

func (m *memQueueStore) RequeueWithDelay(ctx context.Context, id string, attemptCount int, lastError string, notBefore int64) error {
	item := m.items[id]
	item.Status = model.QueueStatusPending
	item.AttemptCount = attemptCount
	item.LastError = lastError
	item.NotBefore = notBefore
	item.ClaimedAt = 0
	return nil
}

func (m *memQueueStore) MarkFailed(ctx context.Context, id string, attemptCount int, lastError string) error {
	item := m.items[id]
	item.Status = model.QueueStatusFailed
	item.AttemptCount = attemptCount
	item.LastError = lastError
	return nil
}

func (m *memQueueStore) CountPending(ctx context.Context) (int, error) {
	count := 0
	for _, item := range m.items {
		if item.Status == model.QueueStatusPending {
			count++
		}
	}
	return count, nil
}

type fakeEmbedManager struct {
	configured bool
	calls      int
	fail       error
	failAll    bool
}

func (f *fakeEmbedManager) EmbeddingConfigured() bool { return f.configured }

func (f *fakeEmbedManager) EmbeddingModelName() string { return "test-embed" }

func (f *fakeEmbedManager) EmbedBatch(ctx context.Context, inputs []ai.EmbedInput) ([]ai.EmbedResult, error) {
	f.calls++
	if !f.configured {
		return nil, ai.ErrUnavailable
	}
	if f.fail != nil {
		return nil, f.fail
	}
	results := make([]ai.EmbedResult, 0, len(inputs))
	for _, in := range inputs {
		if f.failAll {
			results = append(results, ai.EmbedResult{ID: in.ID, Err: fmt.Errorf("boom")})
			continue
		}
		results = append(results, ai.EmbedResult{ID: in.ID, Embedding: make([]float32, model.EmbeddingDimension)})
	}
	return results, nil
}

func seedQueue(t *testing.T, articles *memArticleStore, queue *memQueueStore, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("a%04d", i)
		articles.articles[id] = &model.Article{
			ID:              id,
			Source:          "source",
			Title:           fmt.Sprintf("title %d", i),
			EmbeddingStatus: model.EmbeddingStatusPending,
		}
		_, err := queue.Enqueue(context.Background(), fmt.Sprintf("q%04d", i), id, int64(i))
		require.NoError(t, err)
	}
}

func TestProcessQueueRespectsBatchCeiling(t *testing.T) {
	articles := newMemArticleStore()
	queue := newMemQueueStore()
	manager := &fakeEmbedManager{configured: true}
	svc := NewQueueService(articles, queue, manager, nil)

	seedQueue(t, articles, queue, 120)

	summary, err := svc.ProcessQueue(context.Background(), 200)
	require.NoError(t, err)
	require.Equal(t, 100, queue.lastLimit)
	require.Equal(t, 100, summary.Processed)
	require.Equal(t, 100, summary.Succeeded)
	require.Equal(t, 20, summary.Remaining)
}

func TestProcessQueueServiceUnavailable(t *testing.T) {
	articles := newMemArticleStore()
	queue := newMemQueueStore()
	manager := &fakeEmbedManager{configured: false}
	svc := NewQueueService(articles, queue, manager, nil)

	seedQueue(t, articles, queue, 5)

	summary, err := svc.ProcessQueue(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, 5, summary.Processed)
	require.Equal(t, 0, summary.Succeeded)
	require.Equal(t, 5, summary.Failed)
	require.Zero(t, manager.calls)
	for _, item := range queue.items {
		require.Equal(t, model.QueueStatusFailed, item.Status)
		require.Equal(t, ReasonServiceUnavailable, item.LastError)
	}
	for _, article := range articles.articles {
		require.Equal(t, model.EmbeddingStatusFailed, article.EmbeddingStatus)
		require.Equal(t, ReasonServiceUnavailable, article.EmbeddingError)
	}
}

func TestProcessQueueSuccessPersistsAndRetires(t *testing.T) {
	articles := newMemArticleStore()
	queue := newMemQueueStore()
	manager := &fakeEmbedManager{configured: true}
	svc := NewQueueService(articles, queue, manager, nil)

	seedQueue(t, articles, queue, 3)

	summary, err := svc.ProcessQueue(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Succeeded)
	require.Empty(t, queue.items)
	for _, article := range articles.articles {
		require.Equal(t, model.EmbeddingStatusCompleted, article.EmbeddingStatus)
		require.Len(t, article.Embedding, model.EmbeddingDimension)
		require.Equal(t, contenthash.Hash(article.Title, article.Excerpt), article.ContentHash)
	}
}

func TestProcessQueueBackoffSchedule(t *testing.T) {
	articles := newMemArticleStore()
	queue := newMemQueueStore()
	manager := &fakeEmbedManager{configured: true, failAll: true}
	svc := NewQueueService(articles, queue, manager, nil)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	current := base
	svc.now = func() time.Time { return current }

	seedQueue(t, articles, queue, 1)
	item := queue.items["q0000"]

	wantDelays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for attempt := 1; attempt <= 3; attempt++ {
		summary, err := svc.ProcessQueue(context.Background(), 10)
		require.NoError(t, err)
		require.Equal(t, 1, summary.Processed)
		require.Equal(t, 1, summary.Failed)
		require.Equal(t, model.QueueStatusPending, item.Status)
		require.Equal(t, attempt, item.AttemptCount)
		require.Equal(t, current.Add(wantDelays[attempt-1]).UnixMilli(), item.NotBefore)

		// Before the delay elapses nothing is claimable.
		summary, err = svc.ProcessQueue(context.Background(), 10)
		require.NoError(t, err)
		require.Zero(t, summary.Processed)

		current = current.Add(wantDelays[attempt-1] + time.Millisecond)
	}

	// Fourth failure is terminal.
	summary, err := svc.ProcessQueue(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, model.QueueStatusFailed, item.Status)

	// Terminally failed items are never claimed again.
	current = current.Add(time.Hour)
	summary, err = svc.ProcessQueue(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, summary.Processed)
}

func TestProcessQueueReclaimsStaleProcessing(t *testing.T) {
	articles := newMemArticleStore()
	queue := newMemQueueStore()
	manager := &fakeEmbedManager{configured: true}
	svc := NewQueueService(articles, queue, manager, nil)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	seedQueue(t, articles, queue, 2)

	// One item was claimed by a worker that died mid-flight, the other
	// was claimed moments ago and is still owned.
	stale := queue.items["q0000"]
	stale.Status = model.QueueStatusProcessing
	stale.ClaimedAt = base.Add(-processingStaleAfter - time.Minute).UnixMilli()
	fresh := queue.items["q0001"]
	fresh.Status = model.QueueStatusProcessing
	fresh.ClaimedAt = base.Add(-time.Minute).UnixMilli()

	summary, err := svc.ProcessQueue(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Processed)
	require.Equal(t, 1, summary.Succeeded)
	require.NotContains(t, queue.items, "q0000")
	require.Equal(t, model.EmbeddingStatusCompleted, articles.articles["a0000"].EmbeddingStatus)

	// The recently claimed item stays with its owner.
	require.Contains(t, queue.items, "q0001")
	require.Equal(t, model.QueueStatusProcessing, fresh.Status)
	require.Equal(t, model.EmbeddingStatusPending, articles.articles["a0001"].EmbeddingStatus)
}

type memEmbedCache struct {
	vectors map[string][]float32
	saves   int
}

func (m *memEmbedCache) Get(ctx context.Context, modelName string, contentHash string) ([]float32, bool, error) {
	vec, ok := m.vectors[modelName+":"+contentHash]
	return vec, ok, nil
}

func (m *memEmbedCache) Save(ctx context.Context, modelName string, contentHash string, embedding []float32, now int64) error {
	m.saves++
	m.vectors[modelName+":"+contentHash] = embedding
	return nil
}

func TestProcessQueueCacheHitSkipsProvider(t *testing.T) {
	articles := newMemArticleStore()
	queue := newMemQueueStore()
	manager := &fakeEmbedManager{configured: true}
	cache := &memEmbedCache{vectors: make(map[string][]float32)}
	svc := NewQueueService(articles, queue, manager, cache)

	seedQueue(t, articles, queue, 1)
	article := articles.articles["a0000"]
	cache.vectors["test-embed:"+contenthash.Hash(article.Title, article.Excerpt)] = make([]float32, model.EmbeddingDimension)

	summary, err := svc.ProcessQueue(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Succeeded)
	require.Zero(t, manager.calls)
	require.Equal(t, model.EmbeddingStatusCompleted, article.EmbeddingStatus)
}

func TestEnqueueIfStaleIsIdempotent(t *testing.T) {
	articles := newMemArticleStore()
	queue := newMemQueueStore()
	svc := NewQueueService(articles, queue, &fakeEmbedManager{configured: true}, nil)

	article := &model.Article{ID: "a1", Title: "title", EmbeddingStatus: model.EmbeddingStatusPending}
	articles.articles["a1"] = article

	created, err := svc.EnqueueIfStale(context.Background(), article)
	require.NoError(t, err)
	require.True(t, created)

	created, err = svc.EnqueueIfStale(context.Background(), article)
	require.NoError(t, err)
	require.False(t, created)
	require.Len(t, queue.items, 1)
}

func TestEnqueueIfStaleSkipsFreshArticle(t *testing.T) {
	articles := newMemArticleStore()
	queue := newMemQueueStore()
	svc := NewQueueService(articles, queue, &fakeEmbedManager{configured: true}, nil)

	article := &model.Article{
		ID:              "a1",
		Title:           "title",
		Excerpt:         "excerpt",
		Embedding:       make([]float32, model.EmbeddingDimension),
		EmbeddingStatus: model.EmbeddingStatusCompleted,
		ContentHash:     contenthash.Hash("title", "excerpt"),
	}
	articles.articles["a1"] = article

	created, err := svc.EnqueueIfStale(context.Background(), article)
	require.NoError(t, err)
	require.False(t, created)
	require.Empty(t, queue.items)
}
