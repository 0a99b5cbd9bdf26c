package hydrate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opportunity-engine/reddit-research/internal/core/domain"
	"github.com/opportunity-engine/reddit-research/internal/core/errkind"
	"github.com/opportunity-engine/reddit-research/internal/source/reddit"
)

type noLimit struct{}

func (noLimit) Acquire(context.Context, int) error { return nil }

type fakeThreads struct {
	mu      sync.Mutex
	threads map[string]reddit.Thread
	errs    map[string]error
	active  int32
	peak    int32
}

func (f *fakeThreads) FetchThread(_ context.Context, _, articleID string) (reddit.Thread, error) {
	current := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)

	for {
		peak := atomic.LoadInt32(&f.peak)
		if current <= peak || atomic.CompareAndSwapInt32(&f.peak, peak, current) {
			break
		}
	}

	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.errs[articleID]; ok {
		return reddit.Thread{}, err
	}

	return f.threads[articleID], nil
}

func item(id string) domain.FetchedItem {
	return domain.FetchedItem{
		ID:        id,
		Subreddit: "startups",
		Title:     "title " + id,
		Body:      "body " + id,
		URL:       "/r/startups/comments/" + id + "/some_slug/",
	}
}

func comment(id string, score int, body string, replies ...reddit.Comment) reddit.Comment {
	return reddit.Comment{ID: id, Author: "u_" + id, Body: body, Score: score, Replies: replies}
}

func newTestHydrator(client ThreadFetcher) *Hydrator {
	logger := zerolog.Nop()
	h := New(client, noLimit{}, &logger)
	h.retryBase = time.Millisecond

	return h
}

func TestHydrator_BuildsBoundedTree(t *testing.T) {
	deep := comment("c1", 10, "top level",
		comment("c2", 5, "depth one",
			comment("c3", 4, "depth two",
				comment("c4", 3, "depth three"))))

	fake := &fakeThreads{threads: map[string]reddit.Thread{
		"a": {
			Post:     reddit.Post{ID: "a", Body: "full **body**"},
			Comments: []reddit.Comment{deep, comment("low", 0, "weak"), comment("gone", 9, "[deleted]")},
		},
	}}

	hydrated, stats := newTestHydrator(fake).Hydrate(context.Background(), []domain.FetchedItem{item("a")}, Options{
		MaxDepth: 2,
		MinScore: 1,
		MaxNodes: 50,
	})

	require.Len(t, hydrated, 1)
	got := hydrated[0]

	assert.Equal(t, "full body", got.FullBody)
	require.Len(t, got.Comments, 1)
	assert.Equal(t, 0, got.Comments[0].Depth)
	require.Len(t, got.Comments[0].Children, 1)
	assert.Equal(t, 1, got.Comments[0].Children[0].Depth)
	assert.Empty(t, got.Comments[0].Children[0].Children, "depth cap must prune below max")

	assert.Equal(t, 2, got.Stats.Fetched)
	assert.Equal(t, 2, got.Stats.Truncated, "c3 subtree cut by depth")
	assert.Equal(t, 2, got.Stats.Rejected, "low score and deleted")
	assert.Equal(t, 1, stats.Successful)
}

func TestHydrator_NodeCap(t *testing.T) {
	comments := make([]reddit.Comment, 0, 10)
	for i := 0; i < 10; i++ {
		comments = append(comments, comment(fmt.Sprintf("c%d", i), 5, "fine"))
	}

	fake := &fakeThreads{threads: map[string]reddit.Thread{
		"a": {Comments: comments},
	}}

	hydrated, _ := newTestHydrator(fake).Hydrate(context.Background(), []domain.FetchedItem{item("a")}, Options{
		MaxNodes: 3,
		MaxDepth: 4,
	})

	got := hydrated[0]
	assert.Len(t, got.Comments, 3)
	assert.Equal(t, 3, got.Stats.Fetched)
	assert.Equal(t, 7, got.Stats.Truncated)
}

func TestHydrator_OneFailureAmongTen(t *testing.T) {
	fake := &fakeThreads{
		threads: make(map[string]reddit.Thread),
		errs: map[string]error{
			"item5": errkind.Tagf(errkind.KindFatal, "reddit status 404"),
		},
	}

	items := make([]domain.FetchedItem, 0, 10)

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("item%d", i)
		items = append(items, item(id))
		fake.mu.Lock()
		fake.threads[id] = reddit.Thread{Comments: []reddit.Comment{comment("c"+id, 5, "hello there")}}
		fake.mu.Unlock()
	}

	hydrated, stats := newTestHydrator(fake).Hydrate(context.Background(), items, Options{MinScore: 1})

	assert.Equal(t, 9, stats.Successful)
	assert.Equal(t, 1, stats.Failed)
	require.Len(t, hydrated, 10, "failed item stays in the batch")

	failed := hydrated[5]
	assert.Equal(t, "item5", failed.ID)
	assert.Error(t, failed.Stats.Err)
	assert.Empty(t, failed.Comments)
	assert.Equal(t, "body item5", failed.FullBody, "minimally hydrated record keeps original text")
}

func TestHydrator_BoundedConcurrency(t *testing.T) {
	fake := &fakeThreads{threads: make(map[string]reddit.Thread)}
	items := make([]domain.FetchedItem, 0, 12)

	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("p%d", i)
		items = append(items, item(id))
		fake.threads[id] = reddit.Thread{}
	}

	_, _ = newTestHydrator(fake).Hydrate(context.Background(), items, Options{Concurrency: 3})

	assert.LessOrEqual(t, atomic.LoadInt32(&fake.peak), int32(3))
}

func TestHydrator_RetriesTransient(t *testing.T) {
	fake := &fakeThreads{
		threads: map[string]reddit.Thread{"a": {Comments: []reddit.Comment{comment("c", 5, "ok")}}},
		errs:    map[string]error{"a": errkind.Tagf(errkind.KindTransient, "reddit status 503")},
	}

	h := newTestHydrator(&retryOnce{inner: fake})

	hydrated, stats := h.Hydrate(context.Background(), []domain.FetchedItem{item("a")}, Options{MinScore: 1})

	assert.Equal(t, 1, stats.Successful)
	assert.NoError(t, hydrated[0].Stats.Err)
}

// retryOnce fails the first call per article, then delegates.
type retryOnce struct {
	inner *fakeThreads
	mu    sync.Mutex
	seen  map[string]bool
}

func (r *retryOnce) FetchThread(ctx context.Context, subreddit, articleID string) (reddit.Thread, error) {
	r.mu.Lock()

	if r.seen == nil {
		r.seen = make(map[string]bool)
	}

	first := !r.seen[articleID]
	r.seen[articleID] = true
	r.mu.Unlock()

	if first {
		r.inner.mu.Lock()
		err := r.inner.errs[articleID]
		r.inner.mu.Unlock()

		if err != nil {
			return reddit.Thread{}, err
		}
	}

	r.inner.mu.Lock()
	thread := r.inner.threads[articleID]
	r.inner.mu.Unlock()

	return thread, nil
}

func TestHydrator_UnparseableURLFallsBackToItemFields(t *testing.T) {
	fake := &fakeThreads{threads: map[string]reddit.Thread{
		"weird": {Comments: []reddit.Comment{comment("c", 5, "still works")}},
	}}

	broken := domain.FetchedItem{ID: "weird", Subreddit: "startups", Body: "b", URL: "https://example.com/nope"}

	hydrated, stats := newTestHydrator(fake).Hydrate(context.Background(), []domain.FetchedItem{broken}, Options{MinScore: 1})

	assert.Equal(t, 1, stats.Successful)
	require.Len(t, hydrated[0].Comments, 1)
}

func TestParsePermalink(t *testing.T) {
	sub, id, err := parsePermalink("/r/startups/comments/abc123/how_do_you_validate/")
	require.NoError(t, err)
	assert.Equal(t, "startups", sub)
	assert.Equal(t, "abc123", id)

	_, _, err = parsePermalink("/totally/unrelated/path")
	require.Error(t, err)
	assert.Equal(t, errkind.KindFatal, errkind.KindOf(err))
}
