package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/takln/trendfeed/internal/model"
)

func TestGeminiEmbedFactoryDefaultsDimensions(t *testing.T) {
	provider, err := createGeminiEmbedFactory(map[string]interface{}{"api_key": "k"})
	require.NoError(t, err)
	embed, ok := provider.(*geminiEmbedProvider)
	require.True(t, ok)
	// Gemini models never emit the pipeline dimension on their own, so an
	// unset knob must still request it.
	require.Equal(t, model.EmbeddingDimension, embed.dimensions)
	require.True(t, embed.Configured())
}

func TestGeminiEmbedFactoryHonorsExplicitDimensions(t *testing.T) {
	provider, err := createGeminiEmbedFactory(map[string]interface{}{
		"api_key":    "k",
		"dimensions": 3072,
	})
	require.NoError(t, err)
	embed := provider.(*geminiEmbedProvider)
	require.Equal(t, 3072, embed.dimensions)
}

func TestGeminiEmbedUnconfiguredShortCircuits(t *testing.T) {
	provider := &geminiEmbedProvider{}
	require.False(t, provider.Configured())
	_, err := provider.EmbedBatch(context.Background(), "gemini-embedding-001", []EmbedInput{{ID: "a", Text: "t"}})
	require.ErrorIs(t, err, ErrUnavailable)
}
