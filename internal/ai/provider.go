package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable means the provider has no credentials or configuration.
// It is returned before any network round-trip so callers can skip the
// phase entirely instead of treating it as a transient failure.
var ErrUnavailable = errors.New("ai provider unavailable")

// MaxEmbedBatchSize is the hard ceiling on one embedding call, regardless
// of what the caller asks for.
const MaxEmbedBatchSize = 100

type EmbedInput struct {
	ID   string
	Text string
}

type EmbedResult struct {
	ID        string
	Embedding []float32
	Tokens    int
	Err       error
}

// IEmbedProvider turns a batch of prepared inputs into vectors. Providers
// never retry internally; retry policy belongs to the queue manager.
type IEmbedProvider interface {
	Name() string
	Configured() bool
	EmbedBatch(ctx context.Context, model string, inputs []EmbedInput) ([]EmbedResult, error)
}

// IGenProvider produces free-form text from a prompt. Used for the
// text-mode clustering fallback and topic labeling.
type IGenProvider interface {
	Name() string
	Configured() bool
	Generate(ctx context.Context, model string, prompt string) (string, error)
}

type GenProviderFactory func(args interface{}) (IGenProvider, error)
type EmbedProviderFactory func(args interface{}) (IEmbedProvider, error)

var (
	genRegistry   = map[string]GenProviderFactory{}
	embedRegistry = map[string]EmbedProviderFactory{}
)

func Register(name string, factory GenProviderFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	genRegistry[key] = factory
}

func RegisterEmbed(name string, factory EmbedProviderFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	embedRegistry[key] = factory
}

func NewProvider(name string, args interface{}) (IGenProvider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("ai.provider is required")
	}
	factory := genRegistry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported ai provider: %s", name)
	}
	return factory(args)
}

func NewEmbedProvider(name string, args interface{}) (IEmbedProvider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("ai.embed_provider is required")
	}
	factory := embedRegistry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported embed provider: %s", name)
	}
	return factory(args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("ai provider config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode ai provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode ai provider config: %w", err)
	}
	return nil
}
