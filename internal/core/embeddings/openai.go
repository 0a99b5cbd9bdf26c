package embeddings

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/opportunity-engine/reddit-research/internal/core/errkind"
	"github.com/opportunity-engine/reddit-research/internal/platform/observability"
)

// OpenAI embedding model constants.
const (
	ModelTextEmbedding3Small = "text-embedding-3-small"
	ModelTextEmbedding3Large = "text-embedding-3-large"

	openaiRateLimiterBurst = 5
	providerOpenAI         = "openai"
)

// OpenAIProvider implements Client against the OpenAI embeddings API.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	rateLimiter *rate.Limiter
}

// OpenAIConfig holds configuration for the OpenAI embedding provider.
type OpenAIConfig struct {
	APIKey    string
	Model     string
	RateLimit int // requests per second
}

// NewOpenAIProvider creates a new OpenAI embedding provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = ModelTextEmbedding3Small
	}

	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}

	return &OpenAIProvider{
		client:      openai.NewClient(cfg.APIKey),
		model:       cfg.Model,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), openaiRateLimiterBurst),
	}
}

// EmbedBatch generates one embedding per input text using the OpenAI API.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) (BatchResult, error) {
	if len(texts) == 0 {
		return BatchResult{Provider: providerOpenAI}, nil
	}

	if err := p.rateLimiter.Wait(ctx); err != nil {
		return BatchResult{}, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		observability.EmbeddingRequests.WithLabelValues(providerOpenAI, "error").Inc()

		return BatchResult{}, errkind.Tag(fmt.Errorf("openai embeddings: %w", err), errkind.KindTransient)
	}

	if len(resp.Data) != len(texts) {
		observability.EmbeddingRequests.WithLabelValues(providerOpenAI, "error").Inc()

		return BatchResult{}, fmt.Errorf("%w: got %d vectors for %d texts",
			errkind.ErrMalformedResponse, len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}

	observability.EmbeddingRequests.WithLabelValues(providerOpenAI, "success").Inc()
	observability.EmbeddingTokens.WithLabelValues(providerOpenAI).Add(float64(resp.Usage.PromptTokens))

	return BatchResult{
		Vectors:  vectors,
		Tokens:   resp.Usage.PromptTokens,
		Provider: providerOpenAI,
	}, nil
}
