// Package prune ranks fetched items against the brief by embedding cosine
// similarity and keeps an oversampled top slice for the classifier.
//
// Embeddings are an optimization, not a dependency: when the provider errors
// the pruner degrades to a uniform random sample of the same size, so the
// pipeline always proceeds.
package prune

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/opportunity-engine/reddit-research/internal/core/costs"
	"github.com/opportunity-engine/reddit-research/internal/core/domain"
	"github.com/opportunity-engine/reddit-research/internal/core/embeddings"
	"github.com/opportunity-engine/reddit-research/internal/core/errkind"
	"github.com/opportunity-engine/reddit-research/internal/platform/observability"
)

const (
	defaultBatchSize  = 64
	defaultCharBudget = 2000
	defaultOversample = 1.5

	// Below this pool size the oversample factor is raised so the
	// classifier still has enough input.
	minAdaptivePool    = 20
	adaptiveOversample = 2.0

	stagePrune = "prune"

	dropReasonRanked = "below_rank"

	logKeyCandidates = "candidates"
	logKeyKept       = "kept"
	logKeyTarget     = "target"
)

// Options bound one pruning pass.
type Options struct {
	MaxItems   int
	Oversample float64
	BatchSize  int
	CharBudget int
}

// Pruner scores items against the brief and keeps the most similar ones.
type Pruner struct {
	embedder embeddings.Client
	ledger   *costs.Ledger
	logger   *zerolog.Logger
}

func New(embedder embeddings.Client, ledger *costs.Ledger, logger *zerolog.Logger) *Pruner {
	return &Pruner{
		embedder: embedder,
		ledger:   ledger,
		logger:   logger,
	}
}

// Prune keeps the top maxItems×oversample items by cosine similarity to the
// brief questions. The fallback flag reports whether random sampling was
// used because embeddings were unavailable.
func (p *Pruner) Prune(
	ctx context.Context,
	brief domain.Brief,
	items []domain.FetchedItem,
	opts Options,
) (kept []domain.FetchedItem, fallback bool) {
	opts = withDefaults(opts)
	target := targetCount(opts, len(items))

	if len(items) <= target {
		return items, false
	}

	scores, err := p.scoreItems(ctx, brief, items, opts)
	if err != nil {
		p.logger.Warn().Err(err).Msg("embedding unavailable, falling back to random sample")
		observability.PruneFallbacks.Inc()

		return randomSample(items, target), true
	}

	ranked := make([]int, len(items))
	for i := range ranked {
		ranked[i] = i
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i]] > scores[ranked[j]]
	})

	kept = make([]domain.FetchedItem, 0, target)
	for _, idx := range ranked[:target] {
		kept = append(kept, items[idx])
	}

	observability.ItemsDropped.WithLabelValues(stagePrune, dropReasonRanked).Add(float64(len(items) - target))

	p.logger.Info().
		Int(logKeyCandidates, len(items)).
		Int(logKeyKept, len(kept)).
		Int(logKeyTarget, target).
		Msg("pruned corpus by relevance")

	return kept, false
}

func withDefaults(opts Options) Options {
	if opts.MaxItems <= 0 {
		opts.MaxItems = 1
	}

	if opts.Oversample <= 0 {
		opts.Oversample = defaultOversample
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	if opts.CharBudget <= 0 {
		opts.CharBudget = defaultCharBudget
	}

	return opts
}

// targetCount applies the oversample factor, adapting it upward for small
// candidate pools.
func targetCount(opts Options, available int) int {
	oversample := opts.Oversample

	if available < minAdaptivePool && oversample < adaptiveOversample {
		oversample = adaptiveOversample
	}

	target := int(math.Ceil(float64(opts.MaxItems) * oversample))

	if target > available {
		target = available
	}

	if target < 1 {
		target = 1
	}

	return target
}

// scoreItems embeds the brief and all item texts in batches and returns one
// similarity score per item.
func (p *Pruner) scoreItems(
	ctx context.Context,
	brief domain.Brief,
	items []domain.FetchedItem,
	opts Options,
) ([]float64, error) {
	briefResult, err := p.embedder.EmbedBatch(ctx, []string{briefText(brief, opts.CharBudget)})
	if err != nil {
		return nil, fmt.Errorf("embed brief: %w", err)
	}

	p.ledger.TrackEmbeddingTokens(briefResult.Tokens)

	if len(briefResult.Vectors) == 0 {
		return nil, fmt.Errorf("%w: no brief vector", errkind.ErrMalformedResponse)
	}

	briefVec := briefResult.Vectors[0]
	scores := make([]float64, len(items))

	for start := 0; start < len(items); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(items) {
			end = len(items)
		}

		texts := make([]string, 0, end-start)
		for _, item := range items[start:end] {
			texts = append(texts, embedText(item, opts.CharBudget))
		}

		result, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed batch at %d: %w", start, err)
		}

		p.ledger.TrackEmbeddingTokens(result.Tokens)

		if len(result.Vectors) != len(texts) {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts",
				errkind.ErrMalformedResponse, len(result.Vectors), len(texts))
		}

		for i, vec := range result.Vectors {
			scores[start+i] = CosineSimilarity(briefVec, vec)
		}
	}

	return scores, nil
}

func briefText(brief domain.Brief, budget int) string {
	return clipText(brief.Audience+"\n"+strings.Join(brief.Questions, "\n"), budget)
}

func embedText(item domain.FetchedItem, budget int) string {
	return clipText(item.Title+"\n"+item.Body, budget)
}

func clipText(text string, budget int) string {
	if len(text) > budget {
		return text[:budget]
	}

	return text
}

// CosineSimilarity returns the cosine of the angle between a and b in
// [-1, 1]. Mismatched lengths or a zero-norm vector yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64

	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// randomSample returns n uniformly chosen items via a partial Fisher-Yates
// shuffle, leaving the input untouched.
func randomSample(items []domain.FetchedItem, n int) []domain.FetchedItem {
	if n >= len(items) {
		return items
	}

	shuffled := make([]domain.FetchedItem, len(items))
	copy(shuffled, items)

	for i := 0; i < n; i++ {
		j := i + rand.Intn(len(shuffled)-i)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	return shuffled[:n]
}
