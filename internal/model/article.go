package model

const EmbeddingDimension = 1536

type EmbeddingStatus string

const (
	EmbeddingStatusPending    EmbeddingStatus = "pending"
	EmbeddingStatusProcessing EmbeddingStatus = "processing"
	EmbeddingStatusCompleted  EmbeddingStatus = "completed"
	EmbeddingStatusFailed     EmbeddingStatus = "failed"
)

type Article struct {
	ID                   string          `json:"id"`
	FeedID               string          `json:"feed_id"`
	Source               string          `json:"source"`
	Title                string          `json:"title"`
	Excerpt              string          `json:"excerpt"`
	URL                  string          `json:"url"`
	PublishedAt          int64           `json:"published_at"`
	Embedding            []float32       `json:"-"`
	EmbeddingStatus      EmbeddingStatus `json:"embedding_status"`
	ContentHash          string          `json:"content_hash"`
	EmbeddingError       string          `json:"embedding_error,omitempty"`
	EmbeddingGeneratedAt int64           `json:"embedding_generated_at"`
	Ctime                int64           `json:"ctime"`
	Mtime                int64           `json:"mtime"`
}

// HasEmbedding reports whether the article carries a completed embedding.
func (a *Article) HasEmbedding() bool {
	return len(a.Embedding) > 0 && a.EmbeddingStatus == EmbeddingStatusCompleted
}
