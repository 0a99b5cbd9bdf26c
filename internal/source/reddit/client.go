// Package reddit provides a defensive client for Reddit's public JSON API:
// paginated search and per-post comment-tree fetches.
//
// The free tier is unauthenticated and identified only by a rotating browser
// User-Agent; the keyed tier attaches application credentials. Both return
// the same listing envelopes.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opportunity-engine/reddit-research/internal/core/errkind"
	"github.com/opportunity-engine/reddit-research/internal/platform/observability"
)

const (
	defaultBaseURL = "https://www.reddit.com"
	defaultTimeout = 15 * time.Second
	maxPageSize    = 100

	endpointSearch   = "search"
	endpointComments = "comments"
)

// userAgents is rotated per request; Reddit throttles repeated identical
// unauthenticated agents aggressively.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0.4664.110 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:94.0) Gecko/20100101 Firefox/94.0",
}

// Client talks to the Reddit JSON API.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	clientID     string
	clientSecret string
}

// Config holds Reddit client settings.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	ClientID     string
	ClientSecret string
}

// NewClient creates a Reddit API client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
	}
}

// SearchOptions controls one search page request.
type SearchOptions struct {
	Limit int
	After string
}

// SearchPosts fetches one page of posts matching query, sorted newest first.
// Pagination within a query is strictly sequential: pass the returned After
// cursor to get the next page.
func (c *Client) SearchPosts(ctx context.Context, query string, opts SearchOptions) (SearchPage, error) {
	limit := opts.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("sort", "new")
	params.Set("type", "link")
	params.Set("limit", fmt.Sprintf("%d", limit))
	params.Set("raw_json", "1")

	if opts.After != "" {
		params.Set("after", opts.After)
	}

	body, err := c.get(ctx, endpointSearch, c.baseURL+"/search.json?"+params.Encode())
	if err != nil {
		return SearchPage{}, err
	}

	var envelope listingEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return SearchPage{}, fmt.Errorf("%w: search listing: %v", errkind.ErrMalformedResponse, err)
	}

	page := SearchPage{After: envelope.Data.After}

	for _, child := range envelope.Data.Children {
		if child.Kind != "t3" {
			continue
		}

		post, ok := parsePost(child.Data)
		if !ok {
			continue
		}

		page.Posts = append(page.Posts, post)
	}

	return page, nil
}

// FetchThread fetches a post's full content and comment tree.
func (c *Client) FetchThread(ctx context.Context, subreddit, articleID string) (Thread, error) {
	if subreddit == "" || articleID == "" {
		return Thread{}, errkind.Tag(
			fmt.Errorf("%w: empty subreddit or article id", errkind.ErrInvalidInput),
			errkind.KindFatal,
		)
	}

	endpoint := fmt.Sprintf("%s/r/%s/comments/%s.json?raw_json=1", c.baseURL, subreddit, articleID)

	body, err := c.get(ctx, endpointComments, endpoint)
	if err != nil {
		return Thread{}, err
	}

	// The comments endpoint returns a two-element array: the post listing
	// followed by the comment listing.
	var listings []listingEnvelope
	if err := json.Unmarshal(body, &listings); err != nil {
		return Thread{}, fmt.Errorf("%w: comment listings: %v", errkind.ErrMalformedResponse, err)
	}

	if len(listings) == 0 {
		return Thread{}, errkind.ErrEmptyResponse
	}

	thread := Thread{}

	for _, child := range listings[0].Data.Children {
		if child.Kind == "t3" {
			if post, ok := parsePost(child.Data); ok {
				thread.Post = post
				break
			}
		}
	}

	if len(listings) > 1 {
		thread.Comments = parseComments(listings[1].Data.Children)
	}

	return thread, nil
}

func (c *Client) get(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create reddit request: %w", err)
	}

	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	req.Header.Set("Accept", "application/json")

	if c.clientID != "" {
		req.SetBasicAuth(c.clientID, c.clientSecret)
	}

	start := time.Now()

	resp, err := c.httpClient.Do(req)

	observability.SourceRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	if err != nil {
		observability.SourceRequests.WithLabelValues(endpoint, "error").Inc()

		return nil, errkind.Tag(fmt.Errorf("reddit request: %w", err), errkind.KindTransient)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.SourceRequests.WithLabelValues(endpoint, "error").Inc()

		return nil, errkind.Tag(fmt.Errorf("read reddit response: %w", err), errkind.KindTransient)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		observability.SourceRequests.WithLabelValues(endpoint, "rate_limited").Inc()

		return nil, errkind.Tag(fmt.Errorf("reddit: %w", errkind.ErrRateLimited), errkind.KindRateLimited)
	case resp.StatusCode >= 500:
		observability.SourceRequests.WithLabelValues(endpoint, "error").Inc()

		return nil, errkind.Tagf(errkind.KindTransient, "reddit status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		observability.SourceRequests.WithLabelValues(endpoint, "error").Inc()

		return nil, errkind.Tagf(errkind.KindFatal, "reddit status %d", resp.StatusCode)
	}

	observability.SourceRequests.WithLabelValues(endpoint, "success").Inc()

	return body, nil
}

func parsePost(raw json.RawMessage) (Post, bool) {
	var data postData
	if err := json.Unmarshal(raw, &data); err != nil {
		return Post{}, false
	}

	if data.ID == "" || data.Title == "" {
		return Post{}, false
	}

	subreddit := data.Subreddit
	if subreddit == "" && data.SubredditPrefixed != "" {
		subreddit = strings.TrimPrefix(data.SubredditPrefixed, "r/")
	}

	return Post{
		ID:          data.ID,
		Subreddit:   subreddit,
		Title:       data.Title,
		Body:        data.SelfText,
		Author:      data.Author,
		Score:       data.Score,
		UpvoteRatio: data.UpvoteRatio,
		CreatedUTC:  int64(data.CreatedUTC),
		Permalink:   data.Permalink,
		NumComments: data.NumComments,
	}, true
}

func parseComments(children []childEnvelope) []Comment {
	comments := make([]Comment, 0, len(children))

	for _, child := range children {
		// "more" children are collapsed tails; skipping them keeps the
		// fetch to a single request per item.
		if child.Kind != "t1" {
			continue
		}

		var data commentData
		if err := json.Unmarshal(child.Data, &data); err != nil {
			continue
		}

		comment := Comment{
			ID:         data.ID,
			Author:     data.Author,
			Body:       data.Body,
			Score:      data.Score,
			CreatedUTC: int64(data.CreatedUTC),
		}

		// Replies are either a nested listing or an empty string.
		if len(data.Replies) > 0 && data.Replies[0] == '{' {
			var nested listingEnvelope
			if err := json.Unmarshal(data.Replies, &nested); err == nil {
				comment.Replies = parseComments(nested.Data.Children)
			}
		}

		comments = append(comments, comment)
	}

	return comments
}
