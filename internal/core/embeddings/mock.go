package embeddings

import (
	"context"
	"hash/fnv"
	"math"
)

const mockDimensions = 8

// MockProvider generates deterministic pseudo-embeddings from text content.
// Identical texts produce identical vectors, which is enough for similarity
// ranking in tests.
type MockProvider struct {
	Err error
}

// EmbedBatch returns one deterministic vector per text, or the configured
// error.
func (m *MockProvider) EmbedBatch(_ context.Context, texts []string) (BatchResult, error) {
	if m.Err != nil {
		return BatchResult{}, m.Err
	}

	vectors := make([][]float32, len(texts))
	tokens := 0

	for i, text := range texts {
		vectors[i] = mockVector(text)
		tokens += len(text) / 4
	}

	return BatchResult{
		Vectors:  vectors,
		Tokens:   tokens,
		Provider: "mock",
	}, nil
}

func mockVector(text string) []float32 {
	vec := make([]float32, mockDimensions)

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(math.Sin(float64(seed % 1000)))
	}

	return vec
}
