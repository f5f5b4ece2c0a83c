package service

import (
	"fmt"
	"time"
)

// TriggerConfig tunes the cost-aware clustering gate.
type TriggerConfig struct {
	// MaxStaleness forces a run regardless of volume.
	MaxStaleness time.Duration
	// MinGap is the shortest allowed spacing between volume-driven runs.
	MinGap time.Duration
	// MinFreshArticles is how many newly embedded articles justify a run.
	MinFreshArticles int
}

func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		MaxStaleness:     24 * time.Hour,
		MinGap:           4 * time.Hour,
		MinFreshArticles: 10,
	}
}

type TriggerDecision struct {
	Run    bool
	Reason string
}

// ShouldRunClustering decides whether a clustering pass is worth its cost.
// lastRun is nil when no run has ever completed. The rules are evaluated in
// order; the skip reason is meant for run summaries and logs.
func ShouldRunClustering(lastRun *time.Time, now time.Time, newlyEmbedded int, cfg TriggerConfig) TriggerDecision {
	if lastRun == nil {
		return TriggerDecision{Run: true, Reason: "no prior clustering run"}
	}
	elapsed := now.Sub(*lastRun)
	if elapsed >= cfg.MaxStaleness {
		return TriggerDecision{Run: true, Reason: fmt.Sprintf("%.1fh since last run exceeds %.0fh staleness cap", elapsed.Hours(), cfg.MaxStaleness.Hours())}
	}
	if elapsed >= cfg.MinGap {
		if newlyEmbedded >= cfg.MinFreshArticles {
			return TriggerDecision{Run: true, Reason: fmt.Sprintf("%d new articles in window", newlyEmbedded)}
		}
		return TriggerDecision{Run: false, Reason: fmt.Sprintf("only %d new articles, need %d", newlyEmbedded, cfg.MinFreshArticles)}
	}
	return TriggerDecision{Run: false, Reason: fmt.Sprintf("only %.1fh since last run, need %.0fh", elapsed.Hours(), cfg.MinGap.Hours())}
}
