package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"

	"github.com/takln/trendfeed/internal/db"
)

type Config struct {
	DB        db.Config        `json:"db"`
	Port      int              `json:"port"`
	LogConfig logger.LogConfig `json:"log_config"`
	// TriggerSecret protects the manual pipeline endpoint; empty leaves
	// it open, which is only sensible behind a private network.
	TriggerSecret          string         `json:"trigger_secret"`
	TriggerCooldownSeconds int            `json:"trigger_cooldown_seconds"`
	CORSAllowlist          []string       `json:"cors_allowlist"`
	AI                     AIConfig       `json:"ai"`
	Pipeline               PipelineConfig `json:"pipeline"`
}

type AIConfig struct {
	// Provider backs the text-fallback clustering mode; EmbedProvider
	// backs the embedding queue. Either may be left empty to run without
	// that capability.
	Provider      string                 `json:"provider"`
	Model         string                 `json:"model"`
	EmbedProvider string                 `json:"embed_provider"`
	EmbedModel    string                 `json:"embed_model"`
	Timeout       int                    `json:"timeout"`
	MaxInputChars int                    `json:"max_input_chars"`
	Data          map[string]interface{} `json:"data"`
}

type PipelineConfig struct {
	CronSpec       string `json:"cron_spec"`
	ReaperCronSpec string `json:"reaper_cron_spec"`

	MaxStalenessHours int `json:"max_staleness_hours"`
	MinGapHours       int `json:"min_gap_hours"`
	MinFreshArticles  int `json:"min_fresh_articles"`

	LookbackHours       int     `json:"lookback_hours"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	ClusterTTLHours     int     `json:"cluster_ttl_hours"`
	MinVectorArticles   int     `json:"min_vector_articles"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.DB.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = 60
	}
	if cfg.AI.MaxInputChars == 0 {
		cfg.AI.MaxInputChars = 8000
	}
	if cfg.Pipeline.CronSpec == "" {
		cfg.Pipeline.CronSpec = "*/10 * * * *"
	}
	if cfg.Pipeline.ReaperCronSpec == "" {
		cfg.Pipeline.ReaperCronSpec = "20 * * * *"
	}
	if cfg.TriggerCooldownSeconds < 0 {
		return nil, fmt.Errorf("trigger_cooldown_seconds must not be negative")
	}
	if cfg.Pipeline.SimilarityThreshold < 0 || cfg.Pipeline.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("pipeline.similarity_threshold must be within [0, 1]")
	}
	return &cfg, nil
}
