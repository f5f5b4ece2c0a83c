package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/takln/trendfeed/internal/model"
)

type geminiConfig struct {
	APIKey     string `json:"api_key"`
	Dimensions int    `json:"dimensions"`
}

type geminiProvider struct {
	apiKey string
}

func (p *geminiProvider) Name() string {
	return "gemini"
}

func (p *geminiProvider) Configured() bool {
	return p.apiKey != ""
}

func (p *geminiProvider) Generate(ctx context.Context, model string, prompt string) (string, error) {
	if p.apiKey == "" {
		return "", ErrUnavailable
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", err
	}
	resp, err := client.Models.GenerateContent(
		ctx,
		model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		nil,
	)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}

type geminiEmbedProvider struct {
	apiKey     string
	dimensions int
}

func (p *geminiEmbedProvider) Name() string {
	return "gemini"
}

func (p *geminiEmbedProvider) Configured() bool {
	return p.apiKey != ""
}

func (p *geminiEmbedProvider) EmbedBatch(ctx context.Context, model string, inputs []EmbedInput) ([]EmbedResult, error) {
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	if len(inputs) > MaxEmbedBatchSize {
		return nil, fmt.Errorf("embed batch too large: %d > %d", len(inputs), MaxEmbedBatchSize)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	contents := make([]*genai.Content, 0, len(inputs))
	for _, in := range inputs {
		contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: in.Text}}})
	}
	// Gemini embedding models do not emit the pipeline's dimension natively,
	// so the output size must be requested explicitly.
	embedCfg := &genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"}
	if p.dimensions > 0 {
		dim := int32(p.dimensions)
		embedCfg.OutputDimensionality = &dim
	}
	resp, err := client.Models.EmbedContent(
		ctx,
		model,
		contents,
		embedCfg,
	)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embedding values returned")
	}
	results := make([]EmbedResult, len(inputs))
	for i, in := range inputs {
		if i < len(resp.Embeddings) {
			results[i] = EmbedResult{ID: in.ID, Embedding: resp.Embeddings[i].Values}
			continue
		}
		results[i] = EmbedResult{ID: in.ID, Err: fmt.Errorf("gemini response missing embedding for index %d", i)}
	}
	return results, nil
}

func createGeminiFactory(args interface{}) (IGenProvider, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return &geminiProvider{apiKey: strings.TrimSpace(cfg.APIKey)}, nil
}

func createGeminiEmbedFactory(args interface{}) (IEmbedProvider, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	dimensions := cfg.Dimensions
	if dimensions <= 0 {
		dimensions = model.EmbeddingDimension
	}
	return &geminiEmbedProvider{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		dimensions: dimensions,
	}, nil
}

func init() {
	Register("gemini", createGeminiFactory)
	RegisterEmbed("gemini", createGeminiEmbedFactory)
}
