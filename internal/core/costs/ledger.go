// Package costs tracks metered provider usage into a running monetary total.
package costs

import "sync"

// Provider names used as ledger keys.
const (
	ProviderSource         = "source"
	ProviderEmbeddings     = "embeddings"
	ProviderClassification = "classification"
)

// Per-unit rates in USD.
//
// Source calls are priced at the keyed-tier rate; the free tier still counts
// units so stats stay comparable across tiers. Token rates follow the OpenAI
// price sheet for the default models.
const (
	sourceCallRate = 0.00024 // per API call

	embeddingTokenRate = 0.02 / tokensPerMillion // text-embedding-3-small

	classPromptRate     = 0.15 / tokensPerMillion // gpt-4o-mini prompt
	classCompletionRate = 0.60 / tokensPerMillion // gpt-4o-mini completion

	tokensPerMillion = 1_000_000.0
)

// Usage is one provider's accumulated consumption.
type Usage struct {
	Units   int64   `json:"unitsConsumed"`
	CostUSD float64 `json:"costUSD"`
}

// Snapshot is a point-in-time copy of the ledger.
type Snapshot struct {
	Providers map[string]Usage `json:"providers"`
	TotalUSD  float64          `json:"totalUSD"`
}

// Ledger accumulates per-provider usage. One ledger is created per run and
// shared by every metered stage; increments are serialized by a mutex so
// concurrent stages never lose updates.
type Ledger struct {
	mu        sync.Mutex
	providers map[string]Usage
	total     float64
}

func NewLedger() *Ledger {
	return &Ledger{
		providers: make(map[string]Usage),
	}
}

// TrackSourceCalls records n source API calls.
func (l *Ledger) TrackSourceCalls(n int) {
	l.add(ProviderSource, int64(n), float64(n)*sourceCallRate)
}

// TrackEmbeddingTokens records tokens consumed by embedding requests.
func (l *Ledger) TrackEmbeddingTokens(tokens int) {
	l.add(ProviderEmbeddings, int64(tokens), float64(tokens)*embeddingTokenRate)
}

// TrackClassificationTokens records chat-completion tokens from the gate stage.
func (l *Ledger) TrackClassificationTokens(promptTokens, completionTokens int) {
	cost := float64(promptTokens)*classPromptRate + float64(completionTokens)*classCompletionRate
	l.add(ProviderClassification, int64(promptTokens+completionTokens), cost)
}

func (l *Ledger) add(provider string, units int64, cost float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u := l.providers[provider]
	u.Units += units
	u.CostUSD += cost
	l.providers[provider] = u

	l.total = 0
	for _, usage := range l.providers {
		l.total += usage.CostUSD
	}
}

// TotalUSD returns the current total cost.
func (l *Ledger) TotalUSD() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.total
}

// Snapshot returns a copy of the ledger safe to read and serialize.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := Snapshot{
		Providers: make(map[string]Usage, len(l.providers)),
		TotalUSD:  l.total,
	}

	for name, usage := range l.providers {
		out.Providers[name] = usage
	}

	return out
}
