package handler

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/takln/trendfeed/internal/service"
)

type PipelineHandler struct {
	pipeline *service.PipelineService
	secret   string
}

func NewPipelineHandler(pipeline *service.PipelineService, secret string) *PipelineHandler {
	return &PipelineHandler{pipeline: pipeline, secret: secret}
}

type triggerResponse struct {
	Success   bool               `json:"success"`
	Timestamp string             `json:"timestamp"`
	Results   *service.RunResult `json:"results,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Trigger runs one pipeline pass on demand. When a secret is configured
// the caller must present it as the `key` query parameter.
func (h *PipelineHandler) Trigger(c *gin.Context) {
	if h.secret != "" {
		key := c.Query("key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(h.secret)) != 1 {
			c.JSON(http.StatusUnauthorized, triggerResponse{
				Success:   false,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Error:     "invalid key",
			})
			return
		}
	}
	result, err := h.pipeline.RunOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, triggerResponse{
			Success:   false,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Error:     err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, triggerResponse{
		Success:   true,
		Timestamp: result.Timestamp.UTC().Format(time.RFC3339),
		Results:   result,
	})
}

// Status reports when clustering last completed.
func (h *PipelineHandler) Status(c *gin.Context) {
	last, err := h.pipeline.LatestRun(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	body := gin.H{"last_clustering_run": nil}
	if !last.IsZero() {
		body["last_clustering_run"] = last.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, body)
}
