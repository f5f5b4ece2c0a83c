package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/takln/trendfeed/internal/model"
	"github.com/takln/trendfeed/internal/pkg/dbutil"
	appErr "github.com/takln/trendfeed/internal/pkg/errors"
)

type ArticleRepo struct {
	db *sql.DB
}

func NewArticleRepo(db *sql.DB) *ArticleRepo {
	return &ArticleRepo{db: db}
}

const articleColumns = `id, feed_id, source, title, excerpt, url, published_at, embedding, embedding_status, content_hash, embedding_error, embedding_generated_at, ctime, mtime`

// Upsert writes the ingestion-owned fields. Embedding fields are never
// touched here; the pipeline owns those.
func (r *ArticleRepo) Upsert(ctx context.Context, article *model.Article) error {
	const query = `
		INSERT INTO articles (id, feed_id, source, title, excerpt, url, published_at, embedding_status, ctime, mtime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			feed_id = EXCLUDED.feed_id,
			source = EXCLUDED.source,
			title = EXCLUDED.title,
			excerpt = EXCLUDED.excerpt,
			url = EXCLUDED.url,
			published_at = EXCLUDED.published_at,
			mtime = EXCLUDED.mtime
	`
	_, err := r.db.ExecContext(ctx, query,
		article.ID,
		article.FeedID,
		article.Source,
		article.Title,
		article.Excerpt,
		article.URL,
		article.PublishedAt,
		string(model.EmbeddingStatusPending),
		article.Ctime,
		article.Mtime,
	)
	return err
}

func (r *ArticleRepo) GetByID(ctx context.Context, id string) (*model.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)
	article, err := scanArticle(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return article, nil
}

// SaveEmbedding persists a successful embedding: vector, hash, timestamps
// and the completed status in one write, so a truncated run never leaves a
// half-updated article behind.
func (r *ArticleRepo) SaveEmbedding(ctx context.Context, articleID string, vec []float32, contentHash string, generatedAt int64) error {
	const query = `
		UPDATE articles
		SET embedding = $1, embedding_status = $2, content_hash = $3, embedding_error = '', embedding_generated_at = $4, mtime = $5
		WHERE id = $6
	`
	_, err := r.db.ExecContext(ctx, query,
		pgvector.NewVector(vec),
		string(model.EmbeddingStatusCompleted),
		contentHash,
		generatedAt,
		generatedAt,
		articleID,
	)
	return err
}

// MarkEmbeddingFailed clears any stale vector so the "embedding present iff
// completed" invariant holds.
func (r *ArticleRepo) MarkEmbeddingFailed(ctx context.Context, articleID string, reason string, now int64) error {
	const query = `
		UPDATE articles
		SET embedding = NULL, embedding_status = $1, embedding_error = $2, mtime = $3
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, string(model.EmbeddingStatusFailed), reason, now, articleID)
	return err
}

func (r *ArticleRepo) SetEmbeddingStatus(ctx context.Context, articleID string, status model.EmbeddingStatus, now int64) error {
	const query = `UPDATE articles SET embedding_status = $1, mtime = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, string(status), now, articleID)
	return err
}

// ListEmbeddedSince returns completed-embedding articles published within
// the lookback window, optionally scoped to a feed set.
func (r *ArticleRepo) ListEmbeddedSince(ctx context.Context, since int64, feedIDs []string) ([]model.Article, error) {
	where := map[string]interface{}{
		"embedding_status": string(model.EmbeddingStatusCompleted),
		"published_at >=":  since,
		"_orderby":         "published_at desc",
	}
	if len(feedIDs) > 0 {
		where["feed_id in"] = feedIDs
	}
	sqlStr, args, err := builder.BuildSelect("articles", where, []string{articleColumns})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var articles []model.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *article)
	}
	return articles, rows.Err()
}

// ListPublishedSince returns articles in the window regardless of embedding
// state; the text-mode clustering fallback works from titles alone.
func (r *ArticleRepo) ListPublishedSince(ctx context.Context, since int64, feedIDs []string) ([]model.Article, error) {
	where := map[string]interface{}{
		"published_at >=": since,
		"_orderby":        "published_at desc",
	}
	if len(feedIDs) > 0 {
		where["feed_id in"] = feedIDs
	}
	sqlStr, args, err := builder.BuildSelect("articles", where, []string{articleColumns})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var articles []model.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *article)
	}
	return articles, rows.Err()
}

// CountEmbeddedSince counts articles whose embedding completed within the
// trailing window. Feeds the clustering trigger heuristic.
func (r *ArticleRepo) CountEmbeddedSince(ctx context.Context, since int64) (int, error) {
	const query = `
		SELECT COUNT(*) FROM articles
		WHERE embedding_status = $1 AND embedding_generated_at >= $2
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, string(model.EmbeddingStatusCompleted), since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListAll streams every article; used by the resync maintenance command.
func (r *ArticleRepo) ListAll(ctx context.Context) ([]model.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles ORDER BY ctime`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var articles []model.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *article)
	}
	return articles, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArticle(row rowScanner) (*model.Article, error) {
	var article model.Article
	var embedding sql.NullString
	var status string
	if err := row.Scan(
		&article.ID,
		&article.FeedID,
		&article.Source,
		&article.Title,
		&article.Excerpt,
		&article.URL,
		&article.PublishedAt,
		&embedding,
		&status,
		&article.ContentHash,
		&article.EmbeddingError,
		&article.EmbeddingGeneratedAt,
		&article.Ctime,
		&article.Mtime,
	); err != nil {
		return nil, err
	}
	article.EmbeddingStatus = model.EmbeddingStatus(status)
	if embedding.Valid && embedding.String != "" {
		var vec pgvector.Vector
		if err := vec.Scan(embedding.String); err != nil {
			return nil, err
		}
		article.Embedding = vec.Slice()
	}
	return &article, nil
}
