package prune

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opportunity-engine/reddit-research/internal/core/costs"
	"github.com/opportunity-engine/reddit-research/internal/core/domain"
	"github.com/opportunity-engine/reddit-research/internal/core/embeddings"
	"github.com/opportunity-engine/reddit-research/internal/core/errkind"
)

// axisEmbedder maps texts onto a 2D plane: the brief goes to (1,0) and items
// named "itemN" go to a vector whose x component shrinks with N, so lower N
// means more similar.
type axisEmbedder struct {
	calls int
}

func (a *axisEmbedder) EmbedBatch(_ context.Context, texts []string) (embeddings.BatchResult, error) {
	a.calls++

	vectors := make([][]float32, 0, len(texts))

	for _, text := range texts {
		var n int
		if _, err := fmt.Sscanf(text, "item%d", &n); err != nil {
			vectors = append(vectors, []float32{1, 0})

			continue
		}

		vectors = append(vectors, []float32{1.0 / float32(n+1), 1})
	}

	return embeddings.BatchResult{Vectors: vectors, Tokens: len(texts) * 10, Provider: "test"}, nil
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedBatch(context.Context, []string) (embeddings.BatchResult, error) {
	return embeddings.BatchResult{}, errkind.Tagf(errkind.KindTransient, "embedding api down")
}

func testItems(n int) []domain.FetchedItem {
	items := make([]domain.FetchedItem, 0, n)

	for i := 0; i < n; i++ {
		items = append(items, domain.FetchedItem{ID: fmt.Sprintf("id%d", i), Title: fmt.Sprintf("item%d", i)})
	}

	return items
}

func newTestPruner(embedder embeddings.Client) *Pruner {
	logger := zerolog.Nop()

	return New(embedder, costs.NewLedger(), &logger)
}

var testBrief = domain.Brief{Audience: "saas founders", Questions: []string{"pricing pains"}}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"zero norm", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"both empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, -1.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestPruner_KeepsMostSimilar(t *testing.T) {
	items := testItems(40)

	kept, fallback := newTestPruner(&axisEmbedder{}).Prune(context.Background(), testBrief, items, Options{
		MaxItems:   10,
		Oversample: 1.5,
	})

	require.False(t, fallback)
	require.Len(t, kept, 15)

	// item0..item14 are the most aligned with the brief vector.
	for i, item := range kept {
		assert.Equal(t, fmt.Sprintf("id%d", i), item.ID)
	}
}

func TestPruner_SmallPoolUntouched(t *testing.T) {
	items := testItems(5)
	embedder := &axisEmbedder{}

	kept, fallback := newTestPruner(embedder).Prune(context.Background(), testBrief, items, Options{MaxItems: 10})

	assert.False(t, fallback)
	assert.Len(t, kept, 5)
	assert.Zero(t, embedder.calls, "no embeddings needed when nothing is cut")
}

func TestPruner_AdaptiveOversampleForSmallPool(t *testing.T) {
	// 15 candidates, maxItems 5: base oversample would keep 8 but the
	// small pool raises the factor to 2 and keeps 10.
	items := testItems(15)

	kept, _ := newTestPruner(&axisEmbedder{}).Prune(context.Background(), testBrief, items, Options{
		MaxItems:   5,
		Oversample: 1.5,
	})

	assert.Len(t, kept, 10)
}

func TestPruner_FallbackRandomSample(t *testing.T) {
	items := testItems(40)

	kept, fallback := newTestPruner(failingEmbedder{}).Prune(context.Background(), testBrief, items, Options{
		MaxItems:   10,
		Oversample: 1.5,
	})

	require.True(t, fallback)
	assert.Len(t, kept, 15)

	valid := make(map[string]bool, len(items))
	for _, item := range items {
		valid[item.ID] = true
	}

	seen := make(map[string]bool)

	for _, item := range kept {
		assert.True(t, valid[item.ID])
		assert.False(t, seen[item.ID], "sampled item %s twice", item.ID)
		seen[item.ID] = true
	}
}

func TestPruner_TracksEmbeddingTokens(t *testing.T) {
	ledger := costs.NewLedger()
	logger := zerolog.Nop()
	pruner := New(&axisEmbedder{}, ledger, &logger)

	_, _ = pruner.Prune(context.Background(), testBrief, testItems(40), Options{MaxItems: 10})

	assert.Greater(t, ledger.TotalUSD(), 0.0)
}

func TestPruner_BatchesLargeCorpus(t *testing.T) {
	embedder := &axisEmbedder{}
	items := testItems(150)

	kept, fallback := newTestPruner(embedder).Prune(context.Background(), testBrief, items, Options{
		MaxItems:  10,
		BatchSize: 64,
	})

	require.False(t, fallback)
	assert.Len(t, kept, 15)
	// 1 brief call + ceil(150/64) item batches.
	assert.Equal(t, 4, embedder.calls)
}
