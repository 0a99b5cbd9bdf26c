package llm

import (
	"context"
)

// MockClient is an in-memory Client for tests and local development.
// Responses are served in submission order; once exhausted the last response
// repeats. A nil Responses slice yields empty completions.
type MockClient struct {
	Responses []string
	Err       error

	calls int
}

// Complete returns the next canned response.
func (m *MockClient) Complete(_ context.Context, req Request) (Completion, error) {
	if m.Err != nil {
		return Completion{}, m.Err
	}

	content := ""

	if len(m.Responses) > 0 {
		idx := m.calls
		if idx >= len(m.Responses) {
			idx = len(m.Responses) - 1
		}

		content = m.Responses[idx]
	}

	m.calls++

	return Completion{
		Content:          content,
		Model:            req.Model,
		PromptTokens:     len(req.Prompt) / 4,
		CompletionTokens: len(content) / 4,
	}, nil
}

// Calls returns how many completions were requested.
func (m *MockClient) Calls() int { return m.calls }
