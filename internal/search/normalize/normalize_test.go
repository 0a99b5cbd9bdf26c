package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripMarkdown(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"link keeps text", "see [our docs](https://example.com) here", "see our docs here"},
		{"image removed", "before ![alt](https://example.com/x.png) after", "before after"},
		{"emphasis stripped", "this is **bold** and *italic* and ___deep___", "this is bold and italic and deep"},
		{"header stripped", "## Heading\nbody", "Heading\nbody"},
		{"quote marker stripped", "> quoted line\nnormal", "quoted line\nnormal"},
		{"inline code unwrapped", "run `go test` locally", "run go test locally"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripMarkdown(tt.input))
		})
	}
}

func TestStripMarkdown_CodeFence(t *testing.T) {
	input := "intro\n```\nfenced code\n```\noutro"
	got := StripMarkdown(input)

	assert.NotContains(t, got, "fenced code")
	assert.Contains(t, got, "intro")
	assert.Contains(t, got, "outro")
}

func TestTruncate_PrefersSentenceBoundary(t *testing.T) {
	text := "First sentence is long enough. Second sentence carries on for quite a while beyond the budget."

	got := Truncate(text, 50)
	assert.Equal(t, "First sentence is long enough.", got)
}

func TestTruncate_FallsBackToWordBoundary(t *testing.T) {
	text := "no sentence punctuation here just words going on and on and on"

	got := Truncate(text, 40)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len(got), 43)
	assert.NotContains(t, strings.TrimSuffix(got, "..."), "  ")
}

func TestTruncate_HardCut(t *testing.T) {
	text := strings.Repeat("x", 100)

	got := Truncate(text, 20)
	assert.Equal(t, strings.Repeat("x", 20)+"...", got)
}

func TestTruncate_ShortTextUntouched(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 100))
	assert.Equal(t, "", Truncate("", 100))
}

func TestSnippet(t *testing.T) {
	body := "hi\n\nThis paragraph is substantial enough to be used as the display snippet for the item.\n\nmore"

	got := Snippet("title", body)
	assert.Contains(t, got, "This paragraph is substantial")
}

func TestSnippet_FallsBackToTitle(t *testing.T) {
	assert.Equal(t, "the title", Snippet("the title", ""))
}

func TestClean_EmptyInput(t *testing.T) {
	title, body, snippet := Clean("", "")

	assert.Empty(t, title)
	assert.Empty(t, body)
	assert.Empty(t, snippet)
}
