package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/takln/trendfeed/internal/pkg/errcode"
	"github.com/takln/trendfeed/internal/pkg/response"
	"github.com/takln/trendfeed/internal/service"
)

type IngestHandler struct {
	articles *service.ArticleService
}

func NewIngestHandler(articles *service.ArticleService) *IngestHandler {
	return &IngestHandler{articles: articles}
}

type ingestRequest struct {
	ID          string `json:"id"`
	FeedID      string `json:"feed_id"`
	Source      string `json:"source"`
	Title       string `json:"title"`
	Excerpt     string `json:"excerpt"`
	URL         string `json:"url"`
	PublishedAt int64  `json:"published_at"`
}

// Ingest upserts one article and enqueues it for embedding when its
// content changed. Re-posting unchanged content is a no-op.
func (h *IngestHandler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	article, enqueued, err := h.articles.Ingest(c.Request.Context(), service.IngestInput{
		ID:          req.ID,
		FeedID:      req.FeedID,
		Source:      req.Source,
		Title:       req.Title,
		Excerpt:     req.Excerpt,
		URL:         req.URL,
		PublishedAt: req.PublishedAt,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"id": article.ID, "enqueued": enqueued})
}

// Get returns one article by id.
func (h *IngestHandler) Get(c *gin.Context) {
	article, err := h.articles.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, article)
}
