package model

type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

const MaxEmbedAttempts = 3

type EmbeddingQueueItem struct {
	ID           string      `json:"id"`
	ArticleID    string      `json:"article_id"`
	Status       QueueStatus `json:"status"`
	AttemptCount int         `json:"attempt_count"`
	LastError    string      `json:"last_error,omitempty"`
	NotBefore    int64       `json:"not_before"`
	EnqueuedAt   int64       `json:"enqueued_at"`
	ClaimedAt    int64       `json:"claimed_at"`
}
