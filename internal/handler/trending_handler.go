package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/takln/trendfeed/internal/pkg/errcode"
	"github.com/takln/trendfeed/internal/pkg/response"
	"github.com/takln/trendfeed/internal/service"
)

type TrendingHandler struct {
	trending *service.TrendingService
}

func NewTrendingHandler(trending *service.TrendingService) *TrendingHandler {
	return &TrendingHandler{trending: trending}
}

// List returns active clusters ordered by relevance, most relevant first.
func (h *TrendingHandler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			response.Error(c, errcode.ErrInvalid, "invalid limit")
			return
		}
		limit = parsed
	}
	clusters, err := h.trending.ListTrending(c.Request.Context(), limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"clusters": clusters, "count": len(clusters)})
}
