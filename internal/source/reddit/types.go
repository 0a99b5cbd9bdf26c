package reddit

import "encoding/json"

// Reddit wraps everything in kind/data envelopes ("Listing", "t3" for posts,
// "t1" for comments, "more" for collapsed tails). Fields here are the subset
// the pipeline reads; anything missing in a response decodes to its zero
// value rather than failing the item.

type listingEnvelope struct {
	Kind string      `json:"kind"`
	Data listingData `json:"data"`
}

type listingData struct {
	After    string          `json:"after"`
	Children []childEnvelope `json:"children"`
}

type childEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type postData struct {
	ID                  string  `json:"id"`
	Subreddit           string  `json:"subreddit"`
	SubredditPrefixed   string  `json:"subreddit_name_prefixed"`
	Title               string  `json:"title"`
	SelfText            string  `json:"selftext"`
	Author              string  `json:"author"`
	Score               int     `json:"score"`
	UpvoteRatio         float64 `json:"upvote_ratio"`
	CreatedUTC          float64 `json:"created_utc"`
	Permalink           string  `json:"permalink"`
	NumComments         int     `json:"num_comments"`
}

type commentData struct {
	ID         string          `json:"id"`
	Author     string          `json:"author"`
	Body       string          `json:"body"`
	Score      int             `json:"score"`
	CreatedUTC float64         `json:"created_utc"`
	Replies    json.RawMessage `json:"replies"`
}

// Post is one search result from the source.
type Post struct {
	ID           string
	Subreddit    string
	Title        string
	Body         string
	Author       string
	Score        int
	UpvoteRatio  float64
	CreatedUTC   int64
	Permalink    string
	NumComments  int
}

// SearchPage is one page of search results plus the pagination cursor.
type SearchPage struct {
	Posts []Post
	After string
}

// Comment is one parsed reply with its nested children.
type Comment struct {
	ID         string
	Author     string
	Body       string
	Score      int
	CreatedUTC int64
	Replies    []Comment
}

// Thread is a post's full content and top-level comment forest.
type Thread struct {
	Post     Post
	Comments []Comment
}
