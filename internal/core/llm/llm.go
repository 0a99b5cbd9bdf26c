// Package llm provides chat-completion access for the research pipeline.
//
// All pipeline prompts run at temperature 0 so query expansion and
// classification stay deterministic for a given input.
package llm

import (
	"context"
)

// Request is one chat-completion call.
type Request struct {
	System    string
	Prompt    string
	Model     string
	MaxTokens int
}

// Completion is the parsed outcome of one chat call, with token usage for
// the cost ledger.
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Client defines the chat-completion interface used by the expander and the
// gate.
type Client interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}
