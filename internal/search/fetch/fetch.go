// Package fetch pages through the source search endpoint once per expanded
// query and collects a deduplicated, recency- and score-filtered item list.
package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opportunity-engine/reddit-research/internal/core/costs"
	"github.com/opportunity-engine/reddit-research/internal/core/domain"
	"github.com/opportunity-engine/reddit-research/internal/core/errkind"
	"github.com/opportunity-engine/reddit-research/internal/platform/observability"
	"github.com/opportunity-engine/reddit-research/internal/source/reddit"
)

const (
	rateLimitRetries = 3
	retryBaseDelay   = 2 * time.Second
	defaultPageSize  = 100
	defaultAgeDays   = 90
	secondsPerDay    = 86400
	defaultMaxItems  = 1000

	dropReasonOld       = "too_old"
	dropReasonLowScore  = "low_score"
	dropReasonDuplicate = "duplicate"
	dropReasonEmpty     = "no_content"

	stageFetch = "fetch"

	logKeyQuery   = "query"
	logKeyFetched = "fetched"
	logKeyCalls   = "api_calls"
	logKeyErrors  = "errors"
)

// Searcher is the slice of the source client the fetcher needs.
type Searcher interface {
	SearchPosts(ctx context.Context, query string, opts reddit.SearchOptions) (reddit.SearchPage, error)
}

// TokenBucket grants rate-limit permits before each page request.
type TokenBucket interface {
	Acquire(ctx context.Context, n int) error
}

// Options bound one fetch pass.
type Options struct {
	MaxItems int
	AgeDays  int
	MinScore int
	PageSize int
}

// Stats summarizes one fetch pass across all queries.
type Stats struct {
	Fetched  int
	APICalls int
	Errors   int
}

// Fetcher collects posts for a set of queries under a shared rate limiter.
type Fetcher struct {
	client    Searcher
	limiter   TokenBucket
	ledger    *costs.Ledger
	logger    *zerolog.Logger
	retryBase time.Duration
}

func New(client Searcher, limiter TokenBucket, ledger *costs.Ledger, logger *zerolog.Logger) *Fetcher {
	return &Fetcher{
		client:    client,
		limiter:   limiter,
		ledger:    ledger,
		logger:    logger,
		retryBase: retryBaseDelay,
	}
}

// run accumulates shared state across concurrently fetched queries.
type run struct {
	mu     sync.Mutex
	seen   map[string]bool
	items  []domain.FetchedItem
	stats  Stats
	cutoff int64
	opts   Options
}

func (r *run) full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.items) >= r.opts.MaxItems
}

func (r *run) countCall() {
	r.mu.Lock()
	r.stats.APICalls++
	r.mu.Unlock()
}

func (r *run) countError() {
	r.mu.Lock()
	r.stats.Errors++
	r.mu.Unlock()
}

// admit applies dedup and the cap under one lock; returns false when the item
// was dropped or the run is already full.
func (r *run) admit(item domain.FetchedItem) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.items) >= r.opts.MaxItems {
		return false
	}

	if r.seen[item.ID] {
		observability.ItemsDropped.WithLabelValues(stageFetch, dropReasonDuplicate).Inc()

		return true
	}

	r.seen[item.ID] = true
	r.items = append(r.items, item)
	r.stats.Fetched++

	return true
}

// Fetch runs every query against the search endpoint and returns the merged,
// deduplicated item list. One failing query is counted in the stats and does
// not abort the others.
func (f *Fetcher) Fetch(ctx context.Context, queries []string, opts Options) ([]domain.FetchedItem, Stats) {
	if opts.MaxItems <= 0 {
		opts.MaxItems = defaultMaxItems
	}

	if opts.AgeDays <= 0 {
		opts.AgeDays = defaultAgeDays
	}

	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}

	state := &run{
		seen:   make(map[string]bool),
		cutoff: time.Now().Unix() - int64(opts.AgeDays)*secondsPerDay,
		opts:   opts,
	}

	var wg sync.WaitGroup

	for _, query := range queries {
		wg.Add(1)

		go func(q string) {
			defer wg.Done()

			f.fetchQuery(ctx, q, state)
		}(query)
	}

	wg.Wait()

	observability.ItemsFetched.Add(float64(state.stats.Fetched))

	f.logger.Info().
		Int(logKeyFetched, state.stats.Fetched).
		Int(logKeyCalls, state.stats.APICalls).
		Int(logKeyErrors, state.stats.Errors).
		Msg("bulk fetch finished")

	return state.items, state.stats
}

// fetchQuery pages strictly in sequence; the after cursor of one page is the
// input of the next.
func (f *Fetcher) fetchQuery(ctx context.Context, query string, state *run) {
	after := ""

	for {
		if state.full() {
			return
		}

		if err := f.limiter.Acquire(ctx, 1); err != nil {
			f.logger.Warn().Err(err).Str(logKeyQuery, query).Msg("rate limiter interrupted")
			state.countError()

			return
		}

		page, err := f.searchWithRetry(ctx, query, reddit.SearchOptions{
			Limit: state.opts.PageSize,
			After: after,
		}, state)
		if err != nil {
			f.logger.Warn().Err(err).Str(logKeyQuery, query).Msg("query failed")
			state.countError()

			return
		}

		for _, post := range page.Posts {
			// Results are newest-first: one item past the cutoff means
			// everything after it is older too.
			if post.CreatedUTC < state.cutoff {
				observability.ItemsDropped.WithLabelValues(stageFetch, dropReasonOld).Inc()

				return
			}

			if post.Score < state.opts.MinScore {
				observability.ItemsDropped.WithLabelValues(stageFetch, dropReasonLowScore).Inc()

				continue
			}

			if !meaningful(post) {
				observability.ItemsDropped.WithLabelValues(stageFetch, dropReasonEmpty).Inc()

				continue
			}

			if !state.admit(toItem(post)) {
				return
			}
		}

		if page.After == "" {
			return
		}

		after = page.After
	}
}

// searchWithRetry layers a short jittered backoff over the rate limiter for
// 429 responses. Other failures surface immediately.
func (f *Fetcher) searchWithRetry(
	ctx context.Context,
	query string,
	opts reddit.SearchOptions,
	state *run,
) (reddit.SearchPage, error) {
	var lastErr error

	for attempt := 1; attempt <= rateLimitRetries; attempt++ {
		state.countCall()
		f.ledger.TrackSourceCalls(1)

		page, err := f.client.SearchPosts(ctx, query, opts)
		if err == nil {
			return page, nil
		}

		lastErr = err

		if errkind.KindOf(err) != errkind.KindRateLimited || attempt == rateLimitRetries {
			return reddit.SearchPage{}, err
		}

		delay := f.retryBase<<(attempt-1) + time.Duration(rand.Int63n(int64(f.retryBase)/4+1))

		f.logger.Debug().
			Str(logKeyQuery, query).
			Dur("backoff", delay).
			Int("attempt", attempt).
			Msg("rate limited, backing off")

		select {
		case <-ctx.Done():
			return reddit.SearchPage{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	return reddit.SearchPage{}, lastErr
}

// meaningful rejects posts with nothing to analyze: a title alone is not
// enough unless the thread has comments to hydrate later.
func meaningful(post reddit.Post) bool {
	if post.Title == "" {
		return false
	}

	return post.Body != "" || post.NumComments > 0
}

func toItem(post reddit.Post) domain.FetchedItem {
	return domain.FetchedItem{
		ID:           post.ID,
		Subreddit:    post.Subreddit,
		Title:        post.Title,
		Body:         post.Body,
		Author:       post.Author,
		Score:        post.Score,
		UpvoteRatio:  post.UpvoteRatio,
		CreatedAt:    post.CreatedUTC,
		URL:          post.Permalink,
		CommentCount: post.NumComments,
	}
}
