// Package embeddings provides batch text embedding generation for the
// relevance pruner.
package embeddings

import (
	"context"
)

// Default output dimensions for text-embedding-3-small.
const DefaultDimensions = 1536

// BatchResult holds one batch of vectors plus token usage for the ledger.
// All vectors in a batch share the same dimension.
type BatchResult struct {
	Vectors  [][]float32
	Tokens   int
	Provider string
}

// Client generates embeddings for batches of texts. Implementations must
// return exactly one vector per input text, in input order.
type Client interface {
	EmbedBatch(ctx context.Context, texts []string) (BatchResult, error)
}
