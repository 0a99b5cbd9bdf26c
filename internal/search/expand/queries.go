package expand

import (
	"sort"
	"strings"

	"github.com/opportunity-engine/reddit-research/internal/core/domain"
)

// BuildQueries combines atoms into at most 15 deduplicated search queries of
// one to three words. Three strategies run in order: audience terms paired
// with problem terms, context terms paired with solution terms, then the
// heaviest atoms on their own.
func BuildQueries(atoms []domain.KeywordAtom) []string {
	byType := make(map[string][]domain.KeywordAtom, 4)

	for _, atom := range atoms {
		byType[atom.Type] = append(byType[atom.Type], atom)
	}

	for _, group := range byType {
		sortByWeight(group)
	}

	queries := make([]string, 0, maxQueries)
	seen := make(map[string]bool)

	add := func(parts ...string) {
		if len(queries) >= maxQueries {
			return
		}

		query := clip(strings.Join(parts, " "))
		if query == "" || seen[query] {
			return
		}

		seen[query] = true
		queries = append(queries, query)
	}

	for _, audience := range byType[domain.AtomAudience] {
		for _, problem := range byType[domain.AtomProblem] {
			add(audience.Term, problem.Term)
		}
	}

	for _, ctx := range byType[domain.AtomContext] {
		for _, solution := range byType[domain.AtomSolution] {
			add(ctx.Term, solution.Term)
		}
	}

	singles := make([]domain.KeywordAtom, 0, len(atoms))

	for _, atom := range atoms {
		if atom.Weight >= highWeight {
			singles = append(singles, atom)
		}
	}

	sortByWeight(singles)

	for _, atom := range singles {
		add(atom.Term)
	}

	return queries
}

func sortByWeight(atoms []domain.KeywordAtom) {
	sort.SliceStable(atoms, func(i, j int) bool {
		return atoms[i].Weight > atoms[j].Weight
	})
}

// clip lowercases a query and trims it to the word limit.
func clip(query string) string {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return ""
	}

	if len(words) > maxQueryWords {
		words = words[:maxQueryWords]
	}

	return strings.Join(words, " ")
}
