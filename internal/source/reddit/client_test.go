package reddit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opportunity-engine/reddit-research/internal/core/errkind"
)

const searchListing = `{
	"kind": "Listing",
	"data": {
		"after": "t3_next",
		"children": [
			{"kind": "t3", "data": {
				"id": "abc123",
				"subreddit": "startups",
				"subreddit_name_prefixed": "r/startups",
				"title": "How do you validate pricing?",
				"selftext": "We keep guessing and it hurts.",
				"author": "founder42",
				"score": 57,
				"upvote_ratio": 0.93,
				"created_utc": 1756300000.0,
				"permalink": "/r/startups/comments/abc123/how_do_you_validate_pricing/",
				"num_comments": 14
			}},
			{"kind": "t3", "data": {"id": "", "title": "missing id dropped"}},
			{"kind": "more", "data": {}}
		]
	}
}`

const commentListings = `[
	{"kind": "Listing", "data": {"children": [
		{"kind": "t3", "data": {
			"id": "abc123",
			"subreddit": "startups",
			"title": "How do you validate pricing?",
			"selftext": "We keep guessing and it hurts.",
			"score": 57,
			"created_utc": 1756300000.0,
			"permalink": "/r/startups/comments/abc123/x/"
		}}
	]}},
	{"kind": "Listing", "data": {"children": [
		{"kind": "t1", "data": {
			"id": "c1", "author": "pm_anna", "body": "Talk to ten customers.",
			"score": 20, "created_utc": 1756301000.0,
			"replies": {"kind": "Listing", "data": {"children": [
				{"kind": "t1", "data": {"id": "c2", "author": "founder42", "body": "Did that, still unsure.", "score": 5, "created_utc": 1756302000.0, "replies": ""}}
			]}}
		}},
		{"kind": "more", "data": {"count": 12}}
	]}}
]`

func TestClient_SearchPosts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "new", r.URL.Query().Get("sort"))
		assert.Equal(t, "pricing validation", r.URL.Query().Get("q"))

		_, _ = w.Write([]byte(searchListing))
	}))
	defer ts.Close()

	c := NewClient(Config{BaseURL: ts.URL})

	page, err := c.SearchPosts(context.Background(), "pricing validation", SearchOptions{Limit: 25})
	require.NoError(t, err)

	assert.Equal(t, "t3_next", page.After)
	require.Len(t, page.Posts, 1)

	post := page.Posts[0]
	assert.Equal(t, "abc123", post.ID)
	assert.Equal(t, "startups", post.Subreddit)
	assert.Equal(t, 57, post.Score)
	assert.Equal(t, int64(1756300000), post.CreatedUTC)
	assert.Equal(t, 14, post.NumComments)
	assert.InDelta(t, 0.93, post.UpvoteRatio, 1e-9)
}

func TestClient_FetchThread(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/r/startups/comments/abc123.json", r.URL.Path)

		_, _ = w.Write([]byte(commentListings))
	}))
	defer ts.Close()

	c := NewClient(Config{BaseURL: ts.URL})

	thread, err := c.FetchThread(context.Background(), "startups", "abc123")
	require.NoError(t, err)

	assert.Equal(t, "abc123", thread.Post.ID)
	require.Len(t, thread.Comments, 1)
	assert.Equal(t, "Talk to ten customers.", thread.Comments[0].Body)
	require.Len(t, thread.Comments[0].Replies, 1)
	assert.Equal(t, "c2", thread.Comments[0].Replies[0].ID)
}

func TestClient_RateLimitTagged(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := NewClient(Config{BaseURL: ts.URL})

	_, err := c.SearchPosts(context.Background(), "anything", SearchOptions{})
	require.Error(t, err)
	assert.Equal(t, errkind.KindRateLimited, errkind.KindOf(err))
}

func TestClient_MalformedResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>blocked</html>"))
	}))
	defer ts.Close()

	c := NewClient(Config{BaseURL: ts.URL})

	_, err := c.SearchPosts(context.Background(), "anything", SearchOptions{})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ErrMalformedResponse))
}

func TestClient_FetchThreadRejectsEmptyIDs(t *testing.T) {
	c := NewClient(Config{})

	_, err := c.FetchThread(context.Background(), "", "abc")
	require.Error(t, err)
	assert.Equal(t, errkind.KindFatal, errkind.KindOf(err))
}
