// Package normalize cleans raw post text for embedding and classification.
//
// All functions are pure: no I/O, empty input yields empty output.
package normalize

import (
	"regexp"
	"strings"
)

const (
	// BodyBudget is the character budget applied to post bodies.
	BodyBudget = 4000

	// SnippetBudget caps the derived display snippet.
	SnippetBudget = 200

	minSubstantialParagraph = 40
	ellipsis                = "..."
)

var (
	mdLinkRegex    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdImageRegex   = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	mdCodeFence    = regexp.MustCompile("(?s)```.*?```")
	mdInlineCode   = regexp.MustCompile("`([^`]*)`")
	mdHeaderRegex  = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdQuoteRegex   = regexp.MustCompile(`(?m)^>\s?`)
	mdEmphasis     = regexp.MustCompile(`(\*{1,3}|_{1,3})([^*_]+)(\*{1,3}|_{1,3})`)
	mdHorizontal   = regexp.MustCompile(`(?m)^([-*_]\s*){3,}$`)
	spaceRunRegex  = regexp.MustCompile(`[ \t]+`)
	blankRunRegex  = regexp.MustCompile(`\n{3,}`)
)

// StripMarkdown removes Reddit markdown formatting, keeping the visible text.
func StripMarkdown(text string) string {
	if text == "" {
		return ""
	}

	text = mdCodeFence.ReplaceAllString(text, " ")
	text = mdImageRegex.ReplaceAllString(text, "")
	text = mdLinkRegex.ReplaceAllString(text, "$1")
	text = mdInlineCode.ReplaceAllString(text, "$1")
	text = mdHeaderRegex.ReplaceAllString(text, "")
	text = mdQuoteRegex.ReplaceAllString(text, "")
	text = mdEmphasis.ReplaceAllString(text, "$2")
	text = mdHorizontal.ReplaceAllString(text, "")
	text = spaceRunRegex.ReplaceAllString(text, " ")
	text = blankRunRegex.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// Truncate cuts text to at most budget characters, preferring a sentence
// boundary, then a word boundary, then a hard cut with an ellipsis.
func Truncate(text string, budget int) string {
	if budget <= 0 || len(text) <= budget {
		return text
	}

	cut := text[:budget]

	if idx := lastSentenceEnd(cut); idx > budget/2 {
		return strings.TrimSpace(cut[:idx+1])
	}

	if idx := strings.LastIndexAny(cut, " \n\t"); idx > budget/2 {
		return strings.TrimSpace(cut[:idx]) + ellipsis
	}

	return cut + ellipsis
}

func lastSentenceEnd(s string) int {
	best := -1

	for _, punct := range []string{".", "!", "?"} {
		if idx := strings.LastIndex(s, punct); idx > best {
			best = idx
		}
	}

	return best
}

// Snippet derives a short display snippet from the first substantial
// paragraph of body, falling back to the title.
func Snippet(title, body string) string {
	for _, para := range strings.Split(body, "\n") {
		para = strings.TrimSpace(para)
		if len(para) >= minSubstantialParagraph {
			return Truncate(para, SnippetBudget)
		}
	}

	if trimmed := strings.TrimSpace(body); trimmed != "" {
		return Truncate(trimmed, SnippetBudget)
	}

	return Truncate(strings.TrimSpace(title), SnippetBudget)
}

// Clean applies the full normalization pass to a title/body pair and derives
// the snippet.
func Clean(title, body string) (cleanTitle, cleanBody, snippet string) {
	cleanTitle = StripMarkdown(title)
	cleanBody = Truncate(StripMarkdown(body), BodyBudget)
	snippet = Snippet(cleanTitle, cleanBody)

	return cleanTitle, cleanBody, snippet
}
