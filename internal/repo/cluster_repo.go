package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/didi/gendry/builder"

	"github.com/takln/trendfeed/internal/model"
	"github.com/takln/trendfeed/internal/pkg/dbutil"
)

type ClusterRepo struct {
	db *sql.DB
}

func NewClusterRepo(db *sql.DB) *ClusterRepo {
	return &ClusterRepo{db: db}
}

// Insert writes a finished cluster. Clusters are immutable after this.
func (r *ClusterRepo) Insert(ctx context.Context, cluster *model.Cluster) error {
	idsJSON, err := json.Marshal(cluster.ArticleIDs)
	if err != nil {
		return err
	}
	sourcesJSON, err := json.Marshal(cluster.Sources)
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"id":                cluster.ID,
		"topic":             cluster.Topic,
		"summary":           cluster.Summary,
		"article_ids":       string(idsJSON),
		"sources":           string(sourcesJSON),
		"member_count":      cluster.MemberCount,
		"source_count":      cluster.SourceCount,
		"avg_similarity":    cluster.AvgSimilarity,
		"relevance_score":   cluster.RelevanceScore,
		"generation_method": string(cluster.GenerationMethod),
		"created_at":        cluster.CreatedAt,
		"expires_at":        cluster.ExpiresAt,
	}
	sqlStr, args, err := builder.BuildInsert("clusters", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// ListActive returns unexpired clusters, most relevant first.
func (r *ClusterRepo) ListActive(ctx context.Context, now int64, limit int) ([]model.Cluster, error) {
	const query = `
		SELECT id, topic, summary, article_ids, sources, member_count, source_count, avg_similarity, relevance_score, generation_method, created_at, expires_at
		FROM clusters
		WHERE expires_at > $1
		ORDER BY relevance_score DESC, created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var clusters []model.Cluster
	for rows.Next() {
		var cluster model.Cluster
		var idsJSON, sourcesJSON, method string
		if err := rows.Scan(
			&cluster.ID,
			&cluster.Topic,
			&cluster.Summary,
			&idsJSON,
			&sourcesJSON,
			&cluster.MemberCount,
			&cluster.SourceCount,
			&cluster.AvgSimilarity,
			&cluster.RelevanceScore,
			&method,
			&cluster.CreatedAt,
			&cluster.ExpiresAt,
		); err != nil {
			return nil, err
		}
		cluster.GenerationMethod = model.GenerationMethod(method)
		if err := json.Unmarshal([]byte(idsJSON), &cluster.ArticleIDs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(sourcesJSON), &cluster.Sources); err != nil {
			return nil, err
		}
		clusters = append(clusters, cluster)
	}
	return clusters, rows.Err()
}

// DeleteExpired removes clusters past their TTL. Expired clusters are never
// resurrected, so deletion is safe.
func (r *ClusterRepo) DeleteExpired(ctx context.Context, now int64) (int64, error) {
	const query = `DELETE FROM clusters WHERE expires_at <= $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
