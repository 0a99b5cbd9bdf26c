// Package gate runs each hydrated item through a four-tier relevance
// classification and discards the irrelevant tier.
//
// The gate filters noise, it does not rank: HIGH_VALUE, MODERATE_VALUE and
// LOW_VALUE are all retained.
package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opportunity-engine/reddit-research/internal/core/costs"
	"github.com/opportunity-engine/reddit-research/internal/core/domain"
	"github.com/opportunity-engine/reddit-research/internal/core/llm"
	"github.com/opportunity-engine/reddit-research/internal/platform/observability"
	"github.com/opportunity-engine/reddit-research/internal/platform/scheduler"
)

const (
	classifyMaxTokens = 40
	commentBudget     = 1500
	bodyBudget        = 3000

	defaultConcurrency   = 5
	defaultRetryAttempts = 3
	defaultTaskTimeout   = 45 * time.Second

	logKeyItem = "item_id"
	logKeyTier = "tier"
)

const systemPrompt = "You classify community posts by how useful they are for audience research. " +
	"Answer with exactly one tier keyword on the first line."

const promptTemplate = `Research questions:
%s

Classify the post below into exactly one tier:
- HIGH_VALUE: directly answers one or more research questions with concrete first-hand detail.
- MODERATE_VALUE: touches a research question with some useful signal.
- LOW_VALUE: loosely related, little usable signal.
- IRRELEVANT: unrelated to the research questions.

Title: %s

Body:
%s

Top comments:
%s

Answer with the tier keyword only.`

// Options configure one classification pass.
type Options struct {
	Concurrency   int
	RetryAttempts int
	TaskTimeout   time.Duration
	Model         string
}

// Stats summarizes one classification pass.
type Stats struct {
	Tiers  domain.TierCounts
	Errors int
}

// Gate classifies hydrated items through the task scheduler.
type Gate struct {
	client llm.Client
	ledger *costs.Ledger
	logger *zerolog.Logger
}

func New(client llm.Client, ledger *costs.Ledger, logger *zerolog.Logger) *Gate {
	return &Gate{
		client: client,
		ledger: ledger,
		logger: logger,
	}
}

// Classify runs one scheduler unit per item, priority by item score, and
// returns the non-irrelevant posts. A unit that errors out counts its item
// as IRRELEVANT rather than failing the batch.
func (g *Gate) Classify(
	ctx context.Context,
	brief domain.Brief,
	items []domain.HydratedItem,
	opts Options,
) ([]domain.Post, Stats) {
	opts = withDefaults(opts)

	pool := scheduler.New(g.classifyHandler(brief, opts.Model), scheduler.Options{
		Concurrency:   opts.Concurrency,
		RetryAttempts: opts.RetryAttempts,
		TaskTimeout:   opts.TaskTimeout,
		Logger:        g.logger,
	})

	tasks := make([]scheduler.Task[domain.HydratedItem], 0, len(items))

	for _, item := range items {
		tasks = append(tasks, scheduler.Task[domain.HydratedItem]{
			ID:       item.ID,
			Payload:  item,
			Priority: item.Score,
		})
	}

	pool.SubmitBatch(ctx, tasks)

	results, err := pool.Drain(ctx)
	if err != nil {
		g.logger.Warn().Err(err).Msg("classification drain interrupted")
	}

	stats := Stats{}
	posts := make([]domain.Post, 0, len(results))

	for _, result := range results {
		tier := domain.TierIrrelevant

		if result.Err != nil {
			stats.Errors++
			g.logger.Warn().Err(result.Err).Str(logKeyItem, result.TaskID).Msg("classification failed")
		} else {
			tier = result.Value
		}

		countTier(&stats.Tiers, tier)
		observability.Classifications.WithLabelValues(string(tier)).Inc()

		if tier == domain.TierIrrelevant {
			continue
		}

		posts = append(posts, domain.Post{
			Item: result.Payload,
			Classification: domain.Classification{
				ItemID: result.Payload.ID,
				Tier:   tier,
			},
		})
	}

	g.logger.Info().
		Int("classified", len(results)).
		Int("kept", len(posts)).
		Int("errors", stats.Errors).
		Msg("gate finished")

	return posts, stats
}

func withDefaults(opts Options) Options {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = defaultRetryAttempts
	}

	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = defaultTaskTimeout
	}

	return opts
}

func (g *Gate) classifyHandler(brief domain.Brief, model string) scheduler.Handler[domain.HydratedItem, domain.Tier] {
	questions := "- " + strings.Join(brief.Questions, "\n- ")

	return func(ctx context.Context, item domain.HydratedItem) (domain.Tier, error) {
		prompt := fmt.Sprintf(promptTemplate,
			questions,
			item.Title,
			clip(itemBody(item), bodyBudget),
			clip(flattenComments(item.Comments), commentBudget),
		)

		completion, err := g.client.Complete(ctx, llm.Request{
			System:    systemPrompt,
			Prompt:    prompt,
			Model:     model,
			MaxTokens: classifyMaxTokens,
		})
		if err != nil {
			return domain.TierIrrelevant, err
		}

		g.ledger.TrackClassificationTokens(completion.PromptTokens, completion.CompletionTokens)

		tier := ParseTier(completion.Content)

		g.logger.Debug().Str(logKeyItem, item.ID).Str(logKeyTier, string(tier)).Msg("classified item")

		return tier, nil
	}
}

func itemBody(item domain.HydratedItem) string {
	if item.FullBody != "" {
		return item.FullBody
	}

	return item.Body
}

// flattenComments walks the tree depth-first, one line per comment.
func flattenComments(nodes []domain.CommentNode) string {
	var sb strings.Builder

	var walk func(nodes []domain.CommentNode)

	walk = func(nodes []domain.CommentNode) {
		for _, node := range nodes {
			sb.WriteString(fmt.Sprintf("[%d] %s\n", node.Score, node.Body))
			walk(node.Children)
		}
	}

	walk(nodes)

	return strings.TrimSpace(sb.String())
}

func clip(text string, budget int) string {
	if len(text) > budget {
		return text[:budget]
	}

	return text
}

// ParseTier reads a tier keyword from the first line of a model response,
// tolerating case and underscore/space variants. Anything unrecognized is
// IRRELEVANT.
func ParseTier(content string) domain.Tier {
	line := content

	if idx := strings.IndexByte(content, '\n'); idx != -1 {
		line = content[:idx]
	}

	normalized := strings.ToUpper(strings.TrimSpace(line))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.Trim(normalized, `"'.:*`)

	for _, tier := range []domain.Tier{
		domain.TierHighValue,
		domain.TierModerateValue,
		domain.TierLowValue,
		domain.TierIrrelevant,
	} {
		if strings.Contains(normalized, string(tier)) {
			return tier
		}
	}

	return domain.TierIrrelevant
}

func countTier(counts *domain.TierCounts, tier domain.Tier) {
	switch tier {
	case domain.TierHighValue:
		counts.High++
	case domain.TierModerateValue:
		counts.Moderate++
	case domain.TierLowValue:
		counts.Low++
	case domain.TierIrrelevant:
		counts.Irrelevant++
	}
}
