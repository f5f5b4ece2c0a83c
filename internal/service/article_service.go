package service

import (
	"context"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/takln/trendfeed/internal/model"
	appErr "github.com/takln/trendfeed/internal/pkg/errors"
)

type ingestArticleStore interface {
	Upsert(ctx context.Context, article *model.Article) error
	GetByID(ctx context.Context, id string) (*model.Article, error)
	ListAll(ctx context.Context) ([]model.Article, error)
}

type stalenessEnqueuer interface {
	EnqueueIfStale(ctx context.Context, article *model.Article) (bool, error)
}

type IngestInput struct {
	ID          string
	FeedID      string
	Source      string
	Title       string
	Excerpt     string
	URL         string
	PublishedAt int64
}

// ArticleService is the thin ingestion surface: it persists articles and
// hands changed ones to the embedding queue. Feed fetching and parsing
// live upstream.
type ArticleService struct {
	articles ingestArticleStore
	queue    stalenessEnqueuer
	now      func() time.Time
}

func NewArticleService(articles ingestArticleStore, queue stalenessEnqueuer) *ArticleService {
	return &ArticleService{articles: articles, queue: queue, now: time.Now}
}

// Ingest upserts the article and enqueues it when its embedding is stale.
// Returns the stored article and whether a queue item was created.
func (s *ArticleService) Ingest(ctx context.Context, input IngestInput) (*model.Article, bool, error) {
	if strings.TrimSpace(input.Title) == "" || strings.TrimSpace(input.Source) == "" {
		return nil, false, appErr.ErrInvalid
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = newID()
	}
	now := s.now().UnixMilli()
	article := &model.Article{
		ID:          id,
		FeedID:      strings.TrimSpace(input.FeedID),
		Source:      strings.TrimSpace(input.Source),
		Title:       strings.TrimSpace(input.Title),
		Excerpt:     strings.TrimSpace(input.Excerpt),
		URL:         strings.TrimSpace(input.URL),
		PublishedAt: input.PublishedAt,
		Ctime:       now,
		Mtime:       now,
	}
	if article.PublishedAt == 0 {
		article.PublishedAt = now
	}
	if err := s.articles.Upsert(ctx, article); err != nil {
		return nil, false, err
	}
	stored, err := s.articles.GetByID(ctx, article.ID)
	if err != nil {
		return nil, false, err
	}
	enqueued, err := s.queue.EnqueueIfStale(ctx, stored)
	if err != nil {
		return nil, false, err
	}
	return stored, enqueued, nil
}

func (s *ArticleService) Get(ctx context.Context, id string) (*model.Article, error) {
	return s.articles.GetByID(ctx, id)
}

// ResyncEmbeddings re-checks every stored article against its content hash
// and enqueues the stale ones. Used by the resync maintenance command after
// an embedding model change or a bad backfill.
func (s *ArticleService) ResyncEmbeddings(ctx context.Context) (int, error) {
	articles, err := s.articles.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for i := range articles {
		created, err := s.queue.EnqueueIfStale(ctx, &articles[i])
		if err != nil {
			logutil.GetLogger(ctx).Warn("resync enqueue failed", zap.String("article_id", articles[i].ID), zap.Error(err))
			continue
		}
		if created {
			enqueued++
		}
	}
	logutil.GetLogger(ctx).Info("resync finished", zap.Int("checked", len(articles)), zap.Int("enqueued", enqueued))
	return enqueued, nil
}
