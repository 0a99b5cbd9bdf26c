// Package expand turns a research brief into a bounded set of short search
// queries.
//
// One deterministic chat call asks for weighted keyword atoms typed as
// audience, problem, context or solution; a local heuristic takes over on
// any failure. Raw audience and question text performs poorly against a
// community search index, so queries are built from short colloquial
// combinations of atoms instead.
package expand

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/opportunity-engine/reddit-research/internal/core/domain"
	"github.com/opportunity-engine/reddit-research/internal/core/llm"
)

const (
	maxAtoms   = 20
	maxQueries = 15

	maxQueryWords = 3

	highWeight = 0.6

	// Heuristic fallback weights by atom type.
	fallbackAudienceWeight = 0.9
	fallbackProblemWeight  = 0.7
	fallbackContextWeight  = 0.5

	expandMaxTokens = 800

	logKeyAtoms = "atoms"
)

const systemPrompt = "You extract search keywords from audience research briefs. Respond with JSON only."

const promptTemplate = `Extract up to %d weighted keyword atoms for searching community discussion forums.

Audience: %s
Research questions:
%s

Each atom has "term" (1-3 colloquial words), "weight" (0.0-1.0, importance) and "type"
(one of "audience", "problem", "context", "solution").

Respond with a JSON object: {"atoms": [{"term": "...", "weight": 0.8, "type": "problem"}]}`

// Expander builds weighted keyword atoms and search queries from a brief.
type Expander struct {
	client llm.Client
	model  string
	logger *zerolog.Logger
}

func New(client llm.Client, model string, logger *zerolog.Logger) *Expander {
	return &Expander{
		client: client,
		model:  model,
		logger: logger,
	}
}

// Atoms expands the brief into at most 20 validated keyword atoms. On any
// LLM or parse failure it falls back to the local heuristic; the returned
// usage is zero in that case.
func (e *Expander) Atoms(ctx context.Context, brief domain.Brief) ([]domain.KeywordAtom, llm.Completion) {
	questions := "- " + strings.Join(brief.Questions, "\n- ")
	prompt := fmt.Sprintf(promptTemplate, maxAtoms, brief.Audience, questions)

	completion, err := e.client.Complete(ctx, llm.Request{
		System:    systemPrompt,
		Prompt:    prompt,
		Model:     e.model,
		MaxTokens: expandMaxTokens,
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("atom expansion failed, using heuristic fallback")

		return heuristicAtoms(brief), llm.Completion{}
	}

	atoms, err := parseAtoms(completion.Content)
	if err != nil || len(atoms) == 0 {
		e.logger.Warn().Err(err).Msg("atom parse failed, using heuristic fallback")

		return heuristicAtoms(brief), completion
	}

	e.logger.Debug().Int(logKeyAtoms, len(atoms)).Msg("expanded brief into atoms")

	return atoms, completion
}

type atomsResponse struct {
	Atoms []domain.KeywordAtom `json:"atoms"`
}

// parseAtoms tolerates extra prose around the JSON and drops malformed
// entries instead of failing the batch.
func parseAtoms(content string) ([]domain.KeywordAtom, error) {
	var resp atomsResponse
	if err := json.Unmarshal([]byte(extractJSON(content)), &resp); err != nil {
		return nil, fmt.Errorf("parse atoms json: %w", err)
	}

	atoms := make([]domain.KeywordAtom, 0, len(resp.Atoms))

	for _, atom := range resp.Atoms {
		atom.Term = strings.TrimSpace(atom.Term)
		if atom.Term == "" || !validAtomType(atom.Type) {
			continue
		}

		atom.Weight = clamp01(atom.Weight)

		atoms = append(atoms, atom)
		if len(atoms) >= maxAtoms {
			break
		}
	}

	return atoms, nil
}

func validAtomType(t string) bool {
	switch t {
	case domain.AtomAudience, domain.AtomProblem, domain.AtomContext, domain.AtomSolution:
		return true
	default:
		return false
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}

	if v > 1 {
		return 1
	}

	return v
}

// heuristicAtoms tokenizes the audience string and the questions with fixed
// weights by type. It never fails, so the pipeline always has queries.
func heuristicAtoms(brief domain.Brief) []domain.KeywordAtom {
	atoms := make([]domain.KeywordAtom, 0, maxAtoms)
	seen := make(map[string]bool)

	add := func(term, atomType string, weight float64) {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" || seen[term] || len(atoms) >= maxAtoms {
			return
		}

		seen[term] = true
		atoms = append(atoms, domain.KeywordAtom{Term: term, Weight: weight, Type: atomType})
	}

	for _, token := range keywords(brief.Audience) {
		add(token, domain.AtomAudience, fallbackAudienceWeight)
	}

	for _, question := range brief.Questions {
		for _, token := range keywords(question) {
			add(token, domain.AtomProblem, fallbackProblemWeight)
		}
	}

	// Pair adjacent audience words as context so combination strategies
	// still have something to work with.
	audienceTokens := keywords(brief.Audience)
	for i := 0; i+1 < len(audienceTokens); i++ {
		add(audienceTokens[i]+" "+audienceTokens[i+1], domain.AtomContext, fallbackContextWeight)
	}

	return atoms
}

func keywords(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	out := make([]string, 0, len(words))

	for _, w := range words {
		if len(w) >= 3 && !isStopWord(w) {
			out = append(out, w)
		}
	}

	return out
}

// extractJSON pulls a JSON object or array out of a response that might
// carry extra text around it.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")

	if start != -1 && end != -1 && end > start {
		return text[start : end+1]
	}

	start = strings.Index(text, "[")
	end = strings.LastIndex(text, "]")

	if start != -1 && end != -1 && end > start {
		return text[start : end+1]
	}

	return text
}
