package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/takln/trendfeed/internal/middleware"
)

type RouterDeps struct {
	Pipeline *PipelineHandler
	Trending *TrendingHandler
	Ingest   *IngestHandler
	// TriggerCooldown rate-limits the manual pipeline trigger; zero
	// disables the limit.
	TriggerCooldown time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/trending", deps.Trending.List)

	api.POST("/articles", deps.Ingest.Ingest)
	api.GET("/articles/:id", deps.Ingest.Get)

	api.GET("/pipeline/status", deps.Pipeline.Status)
	triggerGroup := api.Group("")
	triggerGroup.Use(middleware.RateLimit(deps.TriggerCooldown))
	triggerGroup.POST("/pipeline/run", deps.Pipeline.Trigger)
}
