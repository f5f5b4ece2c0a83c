package ai

import "context"

// IGenerator is a provider bound to a concrete model.
type IGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Configured() bool
}

// IEmbedder is an embed provider bound to a concrete model.
type IEmbedder interface {
	EmbedBatch(ctx context.Context, inputs []EmbedInput) ([]EmbedResult, error)
	Configured() bool
	ModelName() string
}

type generator struct {
	provider IGenProvider
	model    string
}

func NewGenerator(p IGenProvider, model string) IGenerator {
	if p == nil {
		return nil
	}
	return &generator{provider: p, model: model}
}

func (g *generator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.provider.Generate(ctx, g.model, prompt)
}

func (g *generator) Configured() bool {
	return g.provider.Configured()
}

type embedder struct {
	provider IEmbedProvider
	model    string
}

func NewEmbedder(p IEmbedProvider, model string) IEmbedder {
	if p == nil {
		return nil
	}
	return &embedder{provider: p, model: model}
}

func (e *embedder) EmbedBatch(ctx context.Context, inputs []EmbedInput) ([]EmbedResult, error) {
	return e.provider.EmbedBatch(ctx, e.model, inputs)
}

func (e *embedder) Configured() bool {
	return e.provider.Configured()
}

func (e *embedder) ModelName() string {
	return e.model
}
