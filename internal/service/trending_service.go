package service

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/takln/trendfeed/internal/model"
)

type clusterLister interface {
	ListActive(ctx context.Context, now int64, limit int) ([]model.Cluster, error)
}

const defaultTrendingLimit = 20

// TrendingService serves active clusters ordered by relevance. Results are
// cached briefly; clusters only change when a pipeline run completes, so a
// short cache keeps the read path off the database.
type TrendingService struct {
	clusters clusterLister
	cache    *expirable.LRU[string, []model.Cluster]
	now      func() time.Time
}

func NewTrendingService(clusters clusterLister) *TrendingService {
	cache := expirable.NewLRU[string, []model.Cluster](64, nil, time.Minute)
	return &TrendingService{clusters: clusters, cache: cache, now: time.Now}
}

func (s *TrendingService) ListTrending(ctx context.Context, limit int) ([]model.Cluster, error) {
	if limit <= 0 || limit > 100 {
		limit = defaultTrendingLimit
	}
	key := fmt.Sprintf("trending:%d", limit)
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}
	clusters, err := s.clusters.ListActive(ctx, s.now().UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, clusters)
	return clusters, nil
}
