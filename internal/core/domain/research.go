// Package domain defines the core entities flowing through the research pipeline.
package domain

import "time"

// Atom type constants.
const (
	AtomAudience = "audience"
	AtomProblem  = "problem"
	AtomContext  = "context"
	AtomSolution = "solution"
)

// Tier is a relevance bucket assigned by the classifier.
type Tier string

// Classification tiers. Irrelevant items are excluded from the final output.
const (
	TierHighValue     Tier = "HIGH_VALUE"
	TierModerateValue Tier = "MODERATE_VALUE"
	TierLowValue      Tier = "LOW_VALUE"
	TierIrrelevant    Tier = "IRRELEVANT"
)

// Valid reports whether t is one of the four known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierHighValue, TierModerateValue, TierLowValue, TierIrrelevant:
		return true
	default:
		return false
	}
}

// Brief is the immutable input describing one research run: who to research
// and what to find out.
type Brief struct {
	Audience          string
	Questions         []string
	MaxItems          int
	MaxAgeDays        int
	MinScore          int
	EmbeddingProvider string
	Premium           bool
	StoreVectors      bool
}

// KeywordAtom is one expanded search concept produced by the query expander.
type KeywordAtom struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
	Type   string  `json:"type"`
}

// FetchedItem is a raw post returned by the source search endpoint.
// Text fields are rewritten in place by the normalizer.
type FetchedItem struct {
	ID           string
	Subreddit    string
	Title        string
	Body         string
	Snippet      string
	Author       string
	Score        int
	UpvoteRatio  float64
	CreatedAt    int64
	URL          string
	CommentCount int
}

// CommentNode is one reply in a thread. Children are ordered; depth strictly
// increases from root to leaf. Never mutated after the tree parse.
type CommentNode struct {
	ID        string
	Author    string
	Body      string
	Score     int
	CreatedAt int64
	Depth     int
	Children  []CommentNode
}

// HydrationStats counts the outcome of one item's comment-tree fetch.
// Truncated counts nodes dropped only for exceeding depth or the node cap,
// as opposed to nodes rejected for low score or deleted bodies.
type HydrationStats struct {
	Fetched   int
	Truncated int
	Rejected  int
	Err       error
}

// HydratedItem is a surviving item enriched with its full content and
// comment tree. The tree belongs to exactly one HydratedItem.
type HydratedItem struct {
	FetchedItem

	FullBody string
	Comments []CommentNode
	Stats    HydrationStats
}

// Classification is the outcome of the gate stage for one item.
type Classification struct {
	ItemID      string `json:"itemId"`
	Tier        Tier   `json:"tier"`
	Explanation string `json:"explanation,omitempty"`
}

// Post is one classified item in the final output set.
type Post struct {
	Item           HydratedItem
	Classification Classification
}

// TierCounts breaks down classifications per tier.
type TierCounts struct {
	High       int `json:"high"`
	Moderate   int `json:"moderate"`
	Low        int `json:"low"`
	Irrelevant int `json:"irrelevant"`
}

// RunStats explains the shape of a run's result: counts at each stage,
// classification breakdown and cost. Always populated, including on
// partial failure.
type RunStats struct {
	RawFetched      int        `json:"rawFetched"`
	AfterEmbed      int        `json:"afterEmbed"`
	AfterGate       int        `json:"afterGate"`
	APICalls        int        `json:"apiCalls"`
	TokenCostUSD    float64    `json:"tokenCostUSD"`
	ElapsedSec      float64    `json:"elapsedSec"`
	Classifications TierCounts `json:"classifications"`
	Hydration       struct {
		Successful    int `json:"successful"`
		Failed        int `json:"failed"`
		TotalComments int `json:"totalComments"`
	} `json:"hydration"`
}

// Run identifies one pipeline execution for persistence.
type Run struct {
	ID        string
	Brief     Brief
	LinkID    string
	Status    string
	StartedAt time.Time
}

// Run status lifecycle values.
const (
	RunStatusPending   = "pending"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)
