package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/takln/trendfeed/internal/ai"
	"github.com/takln/trendfeed/internal/config"
	"github.com/takln/trendfeed/internal/db"
	"github.com/takln/trendfeed/internal/handler"
	"github.com/takln/trendfeed/internal/job"
	"github.com/takln/trendfeed/internal/middleware"
	"github.com/takln/trendfeed/internal/repo"
	"github.com/takln/trendfeed/internal/schedule"
	"github.com/takln/trendfeed/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "trendfeed",
		Short: "trendfeed embedding and clustering pipeline",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the trendfeed server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, err := setup(configPath)
			if err != nil {
				return err
			}
			return runServer(cfg, conn)
		},
	}
	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")

	resyncCmd := &cobra.Command{
		Use:   "resync",
		Short: "re-check every article against its content hash and enqueue mismatches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, err := setup(configPath)
			if err != nil {
				return err
			}
			defer conn.Close()
			app := buildApp(cfg, conn)
			_, err = app.articles.ResyncEmbeddings(context.Background())
			return err
		},
	}
	resyncCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")

	rootCmd.AddCommand(runCmd, resyncCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func setup(configPath string) (*config.Config, *sql.DB, error) {
	if configPath == "" {
		return nil, nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

	conn, err := db.Open(cfg.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return cfg, conn, nil
}

type app struct {
	articles  *service.ArticleService
	pipeline  *service.PipelineService
	trending  *service.TrendingService
	clusters  *repo.ClusterRepo
	queueRepo *repo.QueueRepo
	cache     *repo.EmbeddingCacheRepo
	runs      *repo.RunRepo
}

func buildApp(cfg *config.Config, conn *sql.DB) *app {
	articleRepo := repo.NewArticleRepo(conn)
	queueRepo := repo.NewQueueRepo(conn)
	clusterRepo := repo.NewClusterRepo(conn)
	runRepo := repo.NewRunRepo(conn)
	cacheRepo := repo.NewEmbeddingCacheRepo(conn)

	manager := buildAIManager(cfg.AI)

	queueService := service.NewQueueService(articleRepo, queueRepo, manager, cacheRepo)
	clusterService := service.NewClusterService(articleRepo, clusterRepo, runRepo, manager, clusterConfig(cfg.Pipeline))
	pipelineService := service.NewPipelineService(conn, queueService, clusterService, runRepo, articleRepo, manager, triggerConfig(cfg.Pipeline))
	articleService := service.NewArticleService(articleRepo, queueService)
	trendingService := service.NewTrendingService(clusterRepo)

	return &app{
		articles:  articleService,
		pipeline:  pipelineService,
		trending:  trendingService,
		clusters:  clusterRepo,
		queueRepo: queueRepo,
		cache:     cacheRepo,
		runs:      runRepo,
	}
}

// buildAIManager wires the configured providers. A missing or unknown
// provider leaves the capability unconfigured instead of failing startup:
// the pipeline degrades, it does not stop ingesting.
func buildAIManager(cfg config.AIConfig) *ai.Manager {
	var embedders []ai.EmbedderEntry
	if cfg.EmbedProvider != "" {
		provider, err := ai.NewEmbedProvider(cfg.EmbedProvider, cfg.Data)
		if err != nil {
			logutil.GetLogger(context.Background()).Warn("init embed provider failed", zap.String("provider", cfg.EmbedProvider), zap.Error(err))
		} else {
			embedders = append(embedders, ai.EmbedderEntry{
				Name:     cfg.EmbedProvider,
				Embedder: ai.NewEmbedder(provider, cfg.EmbedModel),
			})
		}
	}
	var generators []ai.GeneratorEntry
	if cfg.Provider != "" {
		provider, err := ai.NewProvider(cfg.Provider, cfg.Data)
		if err != nil {
			logutil.GetLogger(context.Background()).Warn("init gen provider failed", zap.String("provider", cfg.Provider), zap.Error(err))
		} else {
			generators = append(generators, ai.GeneratorEntry{
				Name:      cfg.Provider,
				Generator: ai.NewGenerator(provider, cfg.Model),
			})
		}
	}
	return ai.NewManager(
		ai.NewGroupEmbedder(embedders),
		ai.NewGroupGenerator(generators),
		ai.ManagerConfig{Timeout: cfg.Timeout, MaxInputChars: cfg.MaxInputChars},
	)
}

func triggerConfig(cfg config.PipelineConfig) service.TriggerConfig {
	out := service.DefaultTriggerConfig()
	if cfg.MaxStalenessHours > 0 {
		out.MaxStaleness = time.Duration(cfg.MaxStalenessHours) * time.Hour
	}
	if cfg.MinGapHours > 0 {
		out.MinGap = time.Duration(cfg.MinGapHours) * time.Hour
	}
	if cfg.MinFreshArticles > 0 {
		out.MinFreshArticles = cfg.MinFreshArticles
	}
	return out
}

func clusterConfig(cfg config.PipelineConfig) service.ClusterConfig {
	out := service.DefaultClusterConfig()
	if cfg.LookbackHours > 0 {
		out.Lookback = time.Duration(cfg.LookbackHours) * time.Hour
	}
	if cfg.SimilarityThreshold > 0 {
		out.SimilarityThreshold = cfg.SimilarityThreshold
	}
	if cfg.ClusterTTLHours > 0 {
		out.TTL = time.Duration(cfg.ClusterTTLHours) * time.Hour
	}
	if cfg.MinVectorArticles > 0 {
		out.MinVectorArticles = cfg.MinVectorArticles
	}
	return out
}

func runServer(cfg *config.Config, conn *sql.DB) error {
	defer conn.Close()
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("db_driver", cfg.DB.Driver),
	)

	app := buildApp(cfg, conn)

	deps := handler.RouterDeps{
		Pipeline:        handler.NewPipelineHandler(app.pipeline, cfg.TriggerSecret),
		Trending:        handler.NewTrendingHandler(app.trending),
		Ingest:          handler.NewIngestHandler(app.articles),
		TriggerCooldown: time.Duration(cfg.TriggerCooldownSeconds) * time.Second,
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewPipelineJob(app.pipeline), cfg.Pipeline.CronSpec); err != nil {
		return fmt.Errorf("schedule pipeline job: %w", err)
	}
	if err := scheduler.AddJob(job.NewReaperJob(app.clusters, app.queueRepo, app.cache, app.runs), cfg.Pipeline.ReaperCronSpec); err != nil {
		return fmt.Errorf("schedule reaper job: %w", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
