// Package hydrate enriches surviving items with their full post body and a
// bounded comment tree fetched from the source.
package hydrate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opportunity-engine/reddit-research/internal/core/domain"
	"github.com/opportunity-engine/reddit-research/internal/core/errkind"
	"github.com/opportunity-engine/reddit-research/internal/platform/observability"
	"github.com/opportunity-engine/reddit-research/internal/search/normalize"
	"github.com/opportunity-engine/reddit-research/internal/source/reddit"
)

const (
	defaultConcurrency   = 4
	defaultMaxDepth      = 4
	defaultMinScore      = 1
	defaultMaxNodes      = 50
	threadRetries        = 2
	threadRetryBaseDelay = time.Second

	hydrationSuccess = "success"
	hydrationFailed  = "failed"

	logKeyItem     = "item_id"
	logKeyHydrated = "hydrated"
	logKeyFailed   = "failed"
)

// ThreadFetcher is the slice of the source client the hydrator needs.
type ThreadFetcher interface {
	FetchThread(ctx context.Context, subreddit, articleID string) (reddit.Thread, error)
}

// TokenBucket grants rate-limit permits before each thread fetch.
type TokenBucket interface {
	Acquire(ctx context.Context, n int) error
}

// Options bound the comment tree per item.
type Options struct {
	Concurrency int
	MaxDepth    int
	MinScore    int
	MaxNodes    int
}

// Stats aggregates hydration outcomes across a batch.
type Stats struct {
	Successful    int
	Failed        int
	TotalComments int
}

// Hydrator fetches comment trees with a fixed number of concurrent slots.
type Hydrator struct {
	client    ThreadFetcher
	limiter   TokenBucket
	logger    *zerolog.Logger
	retryBase time.Duration
}

func New(client ThreadFetcher, limiter TokenBucket, logger *zerolog.Logger) *Hydrator {
	return &Hydrator{
		client:    client,
		limiter:   limiter,
		logger:    logger,
		retryBase: threadRetryBaseDelay,
	}
}

// Hydrate fetches every item's comment tree concurrently. A failed item is
// returned minimally hydrated (normalized text, empty tree, recorded error)
// rather than dropped; order of the input is preserved.
func (h *Hydrator) Hydrate(ctx context.Context, items []domain.FetchedItem, opts Options) ([]domain.HydratedItem, Stats) {
	opts = withDefaults(opts)

	hydrated := make([]domain.HydratedItem, len(items))
	slots := make(chan struct{}, opts.Concurrency)

	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)

		go func(i int, item domain.FetchedItem) {
			defer wg.Done()

			slots <- struct{}{}
			defer func() { <-slots }()

			hydrated[i] = h.hydrateOne(ctx, item, opts)
		}(i, item)
	}

	wg.Wait()

	stats := Stats{}

	for _, item := range hydrated {
		if item.Stats.Err != nil {
			stats.Failed++

			continue
		}

		stats.Successful++
		stats.TotalComments += item.Stats.Fetched
	}

	h.logger.Info().
		Int(logKeyHydrated, stats.Successful).
		Int(logKeyFailed, stats.Failed).
		Int("comments", stats.TotalComments).
		Msg("hydration finished")

	return hydrated, stats
}

func withDefaults(opts Options) Options {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaultMaxDepth
	}

	if opts.MaxNodes <= 0 {
		opts.MaxNodes = defaultMaxNodes
	}

	return opts
}

func (h *Hydrator) hydrateOne(ctx context.Context, item domain.FetchedItem, opts Options) domain.HydratedItem {
	out := domain.HydratedItem{FetchedItem: item, FullBody: item.Body}

	subreddit, articleID, err := parsePermalink(item.URL)
	if err != nil {
		// Malformed permalinks are tolerated when the item itself carries
		// enough to address the thread.
		subreddit, articleID = item.Subreddit, item.ID

		if subreddit == "" || articleID == "" {
			out.Stats.Err = err
			observability.Hydrations.WithLabelValues(hydrationFailed).Inc()

			return out
		}
	}

	thread, err := h.fetchWithRetry(ctx, subreddit, articleID)
	if err != nil {
		h.logger.Warn().Err(err).Str(logKeyItem, item.ID).Msg("hydration failed")
		out.Stats.Err = err
		observability.Hydrations.WithLabelValues(hydrationFailed).Inc()

		return out
	}

	if thread.Post.Body != "" {
		out.FullBody = normalize.StripMarkdown(thread.Post.Body)
	}

	builder := &treeBuilder{opts: opts}
	out.Comments = builder.build(thread.Comments, 0)
	out.Stats.Fetched = builder.accepted
	out.Stats.Truncated = builder.truncated
	out.Stats.Rejected = builder.rejected

	observability.Hydrations.WithLabelValues(hydrationSuccess).Inc()

	return out
}

func (h *Hydrator) fetchWithRetry(ctx context.Context, subreddit, articleID string) (reddit.Thread, error) {
	var lastErr error

	for attempt := 0; attempt <= threadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return reddit.Thread{}, ctx.Err()
			case <-time.After(h.retryBase << (attempt - 1)):
			}
		}

		if err := h.limiter.Acquire(ctx, 1); err != nil {
			return reddit.Thread{}, err
		}

		thread, err := h.client.FetchThread(ctx, subreddit, articleID)
		if err == nil {
			return thread, nil
		}

		lastErr = err

		if !errkind.IsRetryable(err) {
			return reddit.Thread{}, err
		}
	}

	return reddit.Thread{}, lastErr
}

// parsePermalink extracts (subreddit, articleID) from a Reddit permalink of
// the form /r/<subreddit>/comments/<id>/<slug>/.
func parsePermalink(permalink string) (string, string, error) {
	parts := strings.Split(strings.Trim(permalink, "/"), "/")

	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "r" && parts[i+2] == "comments" && i+3 < len(parts) {
			return parts[i+1], parts[i+3], nil
		}
	}

	return "", "", errkind.Tag(
		fmt.Errorf("%w: unparseable permalink %q", errkind.ErrInvalidInput, permalink),
		errkind.KindFatal,
	)
}

// treeBuilder walks the raw comment forest accumulating accepted nodes
// against the depth, score and count bounds.
type treeBuilder struct {
	opts      Options
	accepted  int
	truncated int
	rejected  int
}

func (b *treeBuilder) build(comments []reddit.Comment, depth int) []domain.CommentNode {
	if depth >= b.opts.MaxDepth {
		b.truncated += countNodes(comments)

		return nil
	}

	nodes := make([]domain.CommentNode, 0, len(comments))

	for i, comment := range comments {
		if b.accepted >= b.opts.MaxNodes {
			b.truncated += countNodes(comments[i:])

			break
		}

		if deleted(comment.Body) || comment.Score < b.opts.MinScore {
			b.rejected++
			// The subtree of a rejected node is rejected with it.
			b.rejected += countNodes(comment.Replies)

			continue
		}

		b.accepted++

		node := domain.CommentNode{
			ID:        comment.ID,
			Author:    comment.Author,
			Body:      normalize.StripMarkdown(comment.Body),
			Score:     comment.Score,
			CreatedAt: comment.CreatedUTC,
			Depth:     depth,
			Children:  b.build(comment.Replies, depth+1),
		}

		nodes = append(nodes, node)
	}

	return nodes
}

func countNodes(comments []reddit.Comment) int {
	total := 0

	for _, comment := range comments {
		total += 1 + countNodes(comment.Replies)
	}

	return total
}

func deleted(body string) bool {
	trimmed := strings.TrimSpace(body)

	return trimmed == "" || trimmed == "[deleted]" || trimmed == "[removed]"
}
