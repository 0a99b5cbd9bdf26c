package costs

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_TotalIsSumOfProviders(t *testing.T) {
	l := NewLedger()

	l.TrackSourceCalls(10)
	l.TrackEmbeddingTokens(50_000)
	l.TrackClassificationTokens(10_000, 1_000)

	snap := l.Snapshot()

	var sum float64
	for _, u := range snap.Providers {
		sum += u.CostUSD
	}

	assert.InDelta(t, sum, snap.TotalUSD, 1e-12)
	assert.Len(t, snap.Providers, 3)
}

func TestLedger_MonotonicallyNonDecreasing(t *testing.T) {
	l := NewLedger()

	prev := l.TotalUSD()
	for i := 0; i < 100; i++ {
		l.TrackSourceCalls(1)
		l.TrackEmbeddingTokens(100)

		total := l.TotalUSD()
		require.GreaterOrEqual(t, total, prev)
		prev = total
	}
}

func TestLedger_ConcurrentIncrements(t *testing.T) {
	l := NewLedger()

	var wg sync.WaitGroup

	const workers = 8

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for j := 0; j < 100; j++ {
				l.TrackSourceCalls(1)
			}
		}()
	}

	wg.Wait()

	snap := l.Snapshot()
	assert.Equal(t, int64(workers*100), snap.Providers[ProviderSource].Units)
}

func TestLedger_SnapshotIsCopy(t *testing.T) {
	l := NewLedger()
	l.TrackSourceCalls(1)

	snap := l.Snapshot()
	snap.Providers[ProviderSource] = Usage{Units: 999}

	assert.Equal(t, int64(1), l.Snapshot().Providers[ProviderSource].Units)
}
