package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type ManagerConfig struct {
	Timeout       int
	MaxInputChars int
}

// Manager is the single entry point services use to talk to AI providers.
// It owns per-call timeouts and availability checks; it never retries.
type Manager struct {
	embedder IEmbedder
	grouper  IGenerator
	cfg      ManagerConfig
}

func NewManager(embedder IEmbedder, grouper IGenerator, cfg ManagerConfig) *Manager {
	return &Manager{embedder: embedder, grouper: grouper, cfg: cfg}
}

// EmbeddingConfigured reports whether an embedding call could succeed at all.
// Callers use it to skip the drain phase without burning a network round-trip.
func (m *Manager) EmbeddingConfigured() bool {
	return m != nil && m.embedder != nil && m.embedder.Configured()
}

// ClusteringConfigured reports whether the text-mode grouping call is usable.
func (m *Manager) ClusteringConfigured() bool {
	return m != nil && m.grouper != nil && m.grouper.Configured()
}

func (m *Manager) EmbeddingModelName() string {
	if m == nil || m.embedder == nil {
		return ""
	}
	return m.embedder.ModelName()
}

// EmbedBatch embeds up to MaxEmbedBatchSize prepared inputs in one call.
func (m *Manager) EmbedBatch(ctx context.Context, inputs []EmbedInput) ([]EmbedResult, error) {
	if m == nil || m.embedder == nil || !m.embedder.Configured() {
		return nil, ErrUnavailable
	}
	if len(inputs) > MaxEmbedBatchSize {
		return nil, fmt.Errorf("embed batch too large: %d > %d", len(inputs), MaxEmbedBatchSize)
	}
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(m.cfg.Timeout)*time.Second)
		defer cancel()
	}
	return m.embedder.EmbedBatch(ctx, inputs)
}

type TopicArticle struct {
	ID      string
	Title   string
	Excerpt string
	Source  string
}

type TopicGroup struct {
	Topic      string   `json:"topic"`
	Summary    string   `json:"summary"`
	ArticleIDs []string `json:"article_ids"`
}

// GroupByTopic asks the generator to cluster articles directly from their
// titles and excerpts. This is the fallback path when too few embeddings
// exist for vector clustering.
func (m *Manager) GroupByTopic(ctx context.Context, articles []TopicArticle) ([]TopicGroup, error) {
	if m == nil || m.grouper == nil || !m.grouper.Configured() {
		return nil, ErrUnavailable
	}
	if len(articles) == 0 {
		return nil, nil
	}
	var sb strings.Builder
	for _, a := range articles {
		line := fmt.Sprintf("- id=%s source=%s title=%s", a.ID, a.Source, strings.TrimSpace(a.Title))
		if excerpt := strings.TrimSpace(a.Excerpt); excerpt != "" {
			if m.cfg.MaxInputChars > 0 && len(excerpt) > m.cfg.MaxInputChars {
				excerpt = excerpt[:m.cfg.MaxInputChars]
			}
			line += " excerpt=" + excerpt
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	prompt := fmt.Sprintf(`You are a news analyst.
Group the articles below into topics. Articles in a group must cover the same story or subject.
- Only group articles that clearly belong together; leave singletons out.
- For each group, write a short topic label and a 1-2 sentence summary.
- Return a JSON array of objects {"topic", "summary", "article_ids"}. No extra text.

ARTICLES:
%s`, sb.String())

	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(m.cfg.Timeout)*time.Second)
		defer cancel()
	}
	resp, err := m.grouper.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseTopicGroups(resp)
}

func parseTopicGroups(output string) ([]TopicGroup, error) {
	clean := strings.TrimSpace(output)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)
	start := strings.Index(clean, "[")
	end := strings.LastIndex(clean, "]")
	if start >= 0 && end > start {
		clean = clean[start : end+1]
	}

	var groups []TopicGroup
	if err := json.Unmarshal([]byte(clean), &groups); err != nil {
		return nil, fmt.Errorf("parse topic groups: %w", err)
	}
	out := make([]TopicGroup, 0, len(groups))
	for _, g := range groups {
		g.Topic = strings.TrimSpace(g.Topic)
		ids := make([]string, 0, len(g.ArticleIDs))
		seen := make(map[string]bool)
		for _, id := range g.ArticleIDs {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
		if g.Topic == "" || len(ids) == 0 {
			continue
		}
		g.ArticleIDs = ids
		out = append(out, g)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no topic groups found")
	}
	return out, nil
}
