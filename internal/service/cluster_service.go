package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/takln/trendfeed/internal/ai"
	"github.com/takln/trendfeed/internal/model"
)

type ClusterConfig struct {
	// Lookback bounds which articles a run considers.
	Lookback time.Duration
	// SimilarityThreshold is the cosine floor for vector-mode grouping.
	SimilarityThreshold float64
	// TTL is how long a generated cluster stays active.
	TTL time.Duration
	// MinVectorArticles is the embedded-article volume below which the
	// run falls back to text-mode grouping.
	MinVectorArticles int
}

func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		Lookback:            168 * time.Hour,
		SimilarityThreshold: 0.80,
		TTL:                 36 * time.Hour,
		MinVectorArticles:   5,
	}
}

type clusterArticleStore interface {
	ListEmbeddedSince(ctx context.Context, since int64, feedIDs []string) ([]model.Article, error)
	ListPublishedSince(ctx context.Context, since int64, feedIDs []string) ([]model.Article, error)
}

type clusterStore interface {
	Insert(ctx context.Context, cluster *model.Cluster) error
}

type runStore interface {
	Create(ctx context.Context, id string, startedAt int64) error
	Finish(ctx context.Context, id string, finishedAt int64, created int, considered int, method model.GenerationMethod) error
	LatestFinishedAt(ctx context.Context) (int64, error)
}

type groupingManager interface {
	ClusteringConfigured() bool
	GroupByTopic(ctx context.Context, articles []ai.TopicArticle) ([]ai.TopicGroup, error)
}

type ClusterSummary struct {
	Created           int                    `json:"created"`
	ArticlesProcessed int                    `json:"articles_processed"`
	Method            model.GenerationMethod `json:"method"`
}

// ClusterService groups embedded articles into trending-topic clusters.
// Each run produces an independent batch; prior clusters are left to age
// out through their TTL rather than merged.
type ClusterService struct {
	articles clusterArticleStore
	clusters clusterStore
	runs     runStore
	manager  groupingManager
	cfg      ClusterConfig
	now      func() time.Time
}

func NewClusterService(articles clusterArticleStore, clusters clusterStore, runs runStore, manager groupingManager, cfg ClusterConfig) *ClusterService {
	return &ClusterService{
		articles: articles,
		clusters: clusters,
		runs:     runs,
		manager:  manager,
		cfg:      cfg,
		now:      time.Now,
	}
}

// GenerateClusters runs one clustering pass over the lookback window,
// optionally scoped to a feed set. A global run passes no feed IDs.
func (s *ClusterService) GenerateClusters(ctx context.Context, feedIDs []string) (*ClusterSummary, error) {
	logger := logutil.GetLogger(ctx)
	start := s.now()
	since := start.Add(-s.cfg.Lookback).UnixMilli()

	runID := newID()
	if err := s.runs.Create(ctx, runID, start.UnixMilli()); err != nil {
		return nil, fmt.Errorf("record clustering run: %w", err)
	}

	embedded, err := s.articles.ListEmbeddedSince(ctx, since, feedIDs)
	if err != nil {
		return nil, fmt.Errorf("list embedded articles: %w", err)
	}

	var candidates []model.Cluster
	method := model.GenerationMethodVector
	considered := len(embedded)
	if len(embedded) >= s.cfg.MinVectorArticles {
		candidates = s.clusterByVector(embedded)
	} else if s.manager.ClusteringConfigured() {
		method = model.GenerationMethodText
		all, err := s.articles.ListPublishedSince(ctx, since, feedIDs)
		if err != nil {
			return nil, fmt.Errorf("list articles for text clustering: %w", err)
		}
		considered = len(all)
		candidates, err = s.clusterByText(ctx, all)
		if err != nil {
			return nil, fmt.Errorf("text clustering: %w", err)
		}
	} else {
		logger.Info("clustering skipped: too few embedded articles and no text fallback",
			zap.Int("embedded", len(embedded)), zap.Int("min", s.cfg.MinVectorArticles))
	}

	created := 0
	now := s.now().UnixMilli()
	for i := range candidates {
		cluster := &candidates[i]
		// Single-source repetition is not a cross-source trending story.
		if cluster.MemberCount < 2 || cluster.SourceCount < 2 {
			continue
		}
		cluster.ID = newID()
		cluster.RelevanceScore = cluster.MemberCount * cluster.SourceCount
		cluster.GenerationMethod = method
		cluster.CreatedAt = now
		cluster.ExpiresAt = now + s.cfg.TTL.Milliseconds()
		if err := s.clusters.Insert(ctx, cluster); err != nil {
			logger.Error("failed to persist cluster", zap.String("topic", cluster.Topic), zap.Error(err))
			continue
		}
		created++
	}

	finished := s.now().UnixMilli()
	if err := s.runs.Finish(ctx, runID, finished, created, considered, method); err != nil {
		logger.Error("failed to finish clustering run", zap.String("run_id", runID), zap.Error(err))
	}
	logger.Info("clustering run finished",
		zap.Int("created", created),
		zap.Int("considered", considered),
		zap.String("method", string(method)),
	)
	return &ClusterSummary{Created: created, ArticlesProcessed: considered, Method: method}, nil
}

// clusterByVector greedily grows groups around unassigned seeds: every
// article within the cosine threshold of the seed joins its group.
func (s *ClusterService) clusterByVector(articles []model.Article) []model.Cluster {
	assigned := make([]bool, len(articles))
	var out []model.Cluster
	for i := range articles {
		if assigned[i] {
			continue
		}
		members := []int{i}
		for j := i + 1; j < len(articles); j++ {
			if assigned[j] {
				continue
			}
			if cosineSimilarity(articles[i].Embedding, articles[j].Embedding) >= s.cfg.SimilarityThreshold {
				members = append(members, j)
			}
		}
		if len(members) < 2 {
			continue
		}
		for _, idx := range members {
			assigned[idx] = true
		}
		out = append(out, s.buildVectorCluster(articles, members))
	}
	return out
}

func (s *ClusterService) buildVectorCluster(articles []model.Article, members []int) model.Cluster {
	ids := make([]string, 0, len(members))
	titles := make([]string, 0, len(members))
	sourceSet := make(map[string]struct{})
	for _, idx := range members {
		ids = append(ids, articles[idx].ID)
		titles = append(titles, strings.TrimSpace(articles[idx].Title))
		if src := strings.TrimSpace(articles[idx].Source); src != "" {
			sourceSet[src] = struct{}{}
		}
	}
	var pairSum float64
	var pairCount int
	for a := 0; a < len(members); a++ {
		for b := a + 1; b < len(members); b++ {
			pairSum += cosineSimilarity(articles[members[a]].Embedding, articles[members[b]].Embedding)
			pairCount++
		}
	}
	avg := 0.0
	if pairCount > 0 {
		avg = pairSum / float64(pairCount)
	}
	sources := make([]string, 0, len(sourceSet))
	for src := range sourceSet {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	return model.Cluster{
		Topic:         topicFromTitles(titles),
		Summary:       summaryFromTitles(titles),
		ArticleIDs:    ids,
		Sources:       sources,
		MemberCount:   len(ids),
		SourceCount:   len(sources),
		AvgSimilarity: avg,
	}
}

func (s *ClusterService) clusterByText(ctx context.Context, articles []model.Article) ([]model.Cluster, error) {
	if len(articles) < 2 {
		return nil, nil
	}
	byID := make(map[string]*model.Article, len(articles))
	inputs := make([]ai.TopicArticle, 0, len(articles))
	for i := range articles {
		a := &articles[i]
		byID[a.ID] = a
		inputs = append(inputs, ai.TopicArticle{
			ID:      a.ID,
			Title:   a.Title,
			Excerpt: a.Excerpt,
			Source:  a.Source,
		})
	}
	groups, err := s.manager.GroupByTopic(ctx, inputs)
	if err != nil {
		return nil, err
	}
	var out []model.Cluster
	for _, group := range groups {
		var ids []string
		sourceSet := make(map[string]struct{})
		for _, id := range group.ArticleIDs {
			article, ok := byID[id]
			if !ok {
				// The model hallucinated an id; drop it.
				continue
			}
			ids = append(ids, id)
			if src := strings.TrimSpace(article.Source); src != "" {
				sourceSet[src] = struct{}{}
			}
		}
		sources := make([]string, 0, len(sourceSet))
		for src := range sourceSet {
			sources = append(sources, src)
		}
		sort.Strings(sources)
		out = append(out, model.Cluster{
			Topic:       group.Topic,
			Summary:     group.Summary,
			ArticleIDs:  ids,
			Sources:     sources,
			MemberCount: len(ids),
			SourceCount: len(sources),
		})
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// topicFromTitles labels a vector-mode cluster with its shortest member
// title; short headlines tend to name the story rather than editorialize.
func topicFromTitles(titles []string) string {
	topic := ""
	for _, title := range titles {
		if title == "" {
			continue
		}
		if topic == "" || len(title) < len(topic) {
			topic = title
		}
	}
	return topic
}

func summaryFromTitles(titles []string) string {
	shown := titles
	if len(shown) > 3 {
		shown = shown[:3]
	}
	return strings.Join(shown, " / ")
}
