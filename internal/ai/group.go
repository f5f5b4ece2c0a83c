package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type GeneratorEntry struct {
	Name      string
	Generator IGenerator
}

type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

type groupGenerator struct {
	items []GeneratorEntry
}

// NewGroupGenerator chains generators; the first that succeeds wins.
// Unconfigured entries are skipped without counting as failures.
func NewGroupGenerator(items []GeneratorEntry) IGenerator {
	if len(items) == 0 {
		return nil
	}
	return &groupGenerator{items: items}
}

func (g *groupGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for i, item := range g.items {
		if item.Generator == nil || !item.Generator.Configured() {
			continue
		}
		res, err := item.Generator.Generate(ctx, prompt)
		if err == nil {
			return res, nil
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("generator failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	if lastErr == nil {
		return "", ErrUnavailable
	}
	return "", lastErr
}

func (g *groupGenerator) Configured() bool {
	for _, item := range g.items {
		if item.Generator != nil && item.Generator.Configured() {
			return true
		}
	}
	return false
}

type groupEmbedder struct {
	items []EmbedderEntry
}

// NewGroupEmbedder chains embedders the same way.
func NewGroupEmbedder(items []EmbedderEntry) IEmbedder {
	if len(items) == 0 {
		return nil
	}
	return &groupEmbedder{items: items}
}

func (g *groupEmbedder) EmbedBatch(ctx context.Context, inputs []EmbedInput) ([]EmbedResult, error) {
	var lastErr error
	for i, item := range g.items {
		if item.Embedder == nil || !item.Embedder.Configured() {
			continue
		}
		res, err := item.Embedder.EmbedBatch(ctx, inputs)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrUnavailable) {
			continue
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("embedder failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	if lastErr == nil {
		return nil, ErrUnavailable
	}
	return nil, lastErr
}

func (g *groupEmbedder) Configured() bool {
	for _, item := range g.items {
		if item.Embedder != nil && item.Embedder.Configured() {
			return true
		}
	}
	return false
}

func (g *groupEmbedder) ModelName() string {
	for _, item := range g.items {
		if item.Embedder != nil && item.Embedder.Configured() {
			return item.Embedder.ModelName()
		}
	}
	if len(g.items) > 0 && g.items[0].Embedder != nil {
		return g.items[0].Embedder.ModelName()
	}
	return fmt.Sprintf("group(%d)", len(g.items))
}
