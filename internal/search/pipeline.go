// Package search wires the research pipeline: query expansion, bulk fetch,
// normalization, relevance pruning, hydration and the classification gate.
//
// The rate limiter and cost ledger are constructed per run and passed into
// every stage, so concurrent runs cannot cross-contaminate token buckets or
// cost totals.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/opportunity-engine/reddit-research/internal/core/costs"
	"github.com/opportunity-engine/reddit-research/internal/core/domain"
	"github.com/opportunity-engine/reddit-research/internal/core/embeddings"
	"github.com/opportunity-engine/reddit-research/internal/core/llm"
	"github.com/opportunity-engine/reddit-research/internal/platform/config"
	"github.com/opportunity-engine/reddit-research/internal/platform/observability"
	"github.com/opportunity-engine/reddit-research/internal/platform/ratelimit"
	"github.com/opportunity-engine/reddit-research/internal/search/expand"
	"github.com/opportunity-engine/reddit-research/internal/search/fetch"
	"github.com/opportunity-engine/reddit-research/internal/search/gate"
	"github.com/opportunity-engine/reddit-research/internal/search/hydrate"
	"github.com/opportunity-engine/reddit-research/internal/search/normalize"
	"github.com/opportunity-engine/reddit-research/internal/search/prune"
	"github.com/opportunity-engine/reddit-research/internal/source/reddit"
)

const (
	statusSuccess = "success"
	statusFailed  = "failed"

	logKeyRunID = "run_id"
)

// Recorder persists run parameters, final stats and classified posts.
// All calls are best-effort from the pipeline's point of view.
type Recorder interface {
	CreateRun(ctx context.Context, run domain.Run) error
	CompleteRun(ctx context.Context, runID, status string, stats domain.RunStats, spend costs.Snapshot) error
	SavePosts(ctx context.Context, runID string, posts []domain.Post) (int, error)
	SaveVectors(ctx context.Context, runID string, ids []string, vectors [][]float32) error
}

// Result is what the caller always receives, success or not.
type Result struct {
	RunID   string          `json:"runId"`
	Posts   []domain.Post   `json:"posts"`
	Stats   domain.RunStats `json:"stats"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
}

// Pipeline owns the long-lived clients and runs briefs end to end.
type Pipeline struct {
	cfg       *config.Config
	llmClient llm.Client
	embedders map[string]embeddings.Client
	recorder  Recorder
	logger    *zerolog.Logger
}

func NewPipeline(
	cfg *config.Config,
	llmClient llm.Client,
	embedders map[string]embeddings.Client,
	recorder Recorder,
	logger *zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		llmClient: llmClient,
		embedders: embedders,
		recorder:  recorder,
		logger:    logger,
	}
}

// Run executes the whole pipeline for one brief. It never returns an error:
// hard failures surface as a Result with Success=false and populated stats,
// since metered calls may already have been made.
func (p *Pipeline) Run(ctx context.Context, brief domain.Brief) (result Result) {
	runID := uuid.NewString()
	started := time.Now()
	logger := p.logger.With().Str(logKeyRunID, runID).Logger()
	ledger := costs.NewLedger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("pipeline panicked")

			result = p.finish(ctx, runID, started, ledger, result.Stats, nil,
				fmt.Sprintf("internal failure: %v", r))
		}
	}()

	logger.Info().
		Str("audience", brief.Audience).
		Int("max_items", brief.MaxItems).
		Bool("premium", brief.Premium).
		Msg("research run started")

	p.createRun(ctx, runID, brief, &logger)

	limiter := ratelimit.New(
		p.cfg.RedditRequestsPerMin,
		p.cfg.RedditRequestsPerMin,
		p.cfg.RedditBurstMultiplier,
	)

	source := p.sourceClient(brief)
	stats := domain.RunStats{}

	// Stage 1: expand the brief into queries.
	atoms, usage := expand.New(p.llmClient, p.cfg.LLMModel, &logger).Atoms(ctx, brief)
	ledger.TrackClassificationTokens(usage.PromptTokens, usage.CompletionTokens)

	queries := expand.BuildQueries(atoms)
	if len(queries) == 0 {
		return p.finish(ctx, runID, started, ledger, stats, nil, "brief expanded to zero queries")
	}

	// Stage 2: bulk fetch.
	fetcher := fetch.New(source, limiter, ledger, &logger)
	items, fetchStats := fetcher.Fetch(ctx, queries, fetch.Options{
		MaxItems: brief.MaxItems,
		AgeDays:  brief.MaxAgeDays,
		MinScore: brief.MinScore,
		PageSize: p.cfg.RedditPageSize,
	})

	stats.RawFetched = fetchStats.Fetched
	stats.APICalls = fetchStats.APICalls

	if len(items) == 0 {
		logger.Info().Msg("no items matched the brief")

		return p.finish(ctx, runID, started, ledger, stats, nil, "")
	}

	// Stage 3: normalize in place.
	for i := range items {
		items[i].Title, items[i].Body, items[i].Snippet = normalize.Clean(items[i].Title, items[i].Body)
	}

	// Stage 4: prune by relevance.
	pruner := prune.New(p.embedder(brief), ledger, &logger)
	kept, _ := pruner.Prune(ctx, brief, items, prune.Options{
		MaxItems:   brief.MaxItems,
		Oversample: p.cfg.OversampleFactor,
		BatchSize:  p.cfg.EmbedBatchSize,
		CharBudget: p.cfg.EmbedCharBudget,
	})

	stats.AfterEmbed = len(kept)

	// Stage 5: hydrate comment trees.
	hydrator := hydrate.New(source, limiter, &logger)
	hydratedItems, hydrationStats := hydrator.Hydrate(ctx, kept, hydrate.Options{
		Concurrency: p.cfg.HydrateConcurrency,
		MaxDepth:    p.cfg.MaxCommentDepth,
		MinScore:    p.cfg.MinCommentScore,
		MaxNodes:    p.cfg.MaxCommentNodes,
	})

	stats.Hydration.Successful = hydrationStats.Successful
	stats.Hydration.Failed = hydrationStats.Failed
	stats.Hydration.TotalComments = hydrationStats.TotalComments

	// Stage 6: the gate.
	posts, gateStats := gate.New(p.llmClient, ledger, &logger).Classify(ctx, brief, hydratedItems, gate.Options{
		Concurrency:   p.cfg.ClassifyConcurrency,
		RetryAttempts: p.cfg.RetryAttempts,
		TaskTimeout:   p.cfg.TaskTimeout,
		Model:         p.cfg.ChatModel(brief.Premium),
	})

	stats.AfterGate = len(posts)
	stats.Classifications = gateStats.Tiers

	p.persist(ctx, runID, brief, posts, &logger)

	return p.finish(ctx, runID, started, ledger, stats, posts, "")
}

// sourceClient attaches application credentials for premium briefs when they
// are configured; otherwise the free unauthenticated tier is used.
func (p *Pipeline) sourceClient(brief domain.Brief) *reddit.Client {
	cfg := reddit.Config{
		BaseURL: p.cfg.RedditBaseURL,
		Timeout: p.cfg.RedditTimeout,
	}

	if brief.Premium && p.cfg.RedditClientID != "" {
		cfg.ClientID = p.cfg.RedditClientID
		cfg.ClientSecret = p.cfg.RedditClientSecret
	}

	return reddit.NewClient(cfg)
}

func (p *Pipeline) embedder(brief domain.Brief) embeddings.Client {
	if client, ok := p.embedders[brief.EmbeddingProvider]; ok {
		return client
	}

	return p.embedders[config.DefaultEmbedProvider]
}

func (p *Pipeline) createRun(ctx context.Context, runID string, brief domain.Brief, logger *zerolog.Logger) {
	if p.recorder == nil {
		return
	}

	err := p.recorder.CreateRun(ctx, domain.Run{
		ID:        runID,
		Brief:     brief,
		Status:    domain.RunStatusPending,
		StartedAt: time.Now().UTC(),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("recording run start failed")
	}
}

func (p *Pipeline) persist(ctx context.Context, runID string, brief domain.Brief, posts []domain.Post, logger *zerolog.Logger) {
	if p.recorder == nil || !brief.StoreVectors || len(posts) == 0 {
		return
	}

	saved, err := p.recorder.SavePosts(ctx, runID, posts)
	if err != nil {
		logger.Warn().Err(err).Msg("saving posts failed")

		return
	}

	logger.Info().Int("saved", saved).Msg("posts persisted")

	p.saveVectors(ctx, runID, brief, posts, logger)
}

// saveVectors re-embeds the surviving posts so their vectors can be queried
// later; failures are logged, never fatal.
func (p *Pipeline) saveVectors(ctx context.Context, runID string, brief domain.Brief, posts []domain.Post, logger *zerolog.Logger) {
	texts := make([]string, 0, len(posts))
	ids := make([]string, 0, len(posts))

	for _, post := range posts {
		texts = append(texts, post.Item.Title+"\n"+post.Item.Body)
		ids = append(ids, post.Item.ID)
	}

	result, err := p.embedder(brief).EmbedBatch(ctx, texts)
	if err != nil || len(result.Vectors) != len(ids) {
		logger.Warn().Err(err).Msg("embedding posts for storage failed")

		return
	}

	if err := p.recorder.SaveVectors(ctx, runID, ids, result.Vectors); err != nil {
		logger.Warn().Err(err).Msg("saving vectors failed")
	}
}

// finish assembles the caller-facing result, records the run end and updates
// run-level metrics. An empty failure message means success, even with zero
// posts.
func (p *Pipeline) finish(
	ctx context.Context,
	runID string,
	started time.Time,
	ledger *costs.Ledger,
	stats domain.RunStats,
	posts []domain.Post,
	failure string,
) Result {
	stats.TokenCostUSD = ledger.TotalUSD()
	stats.ElapsedSec = time.Since(started).Seconds()

	if posts == nil {
		posts = []domain.Post{}
	}

	status := statusSuccess
	runStatus := domain.RunStatusCompleted

	if failure != "" {
		status = statusFailed
		runStatus = domain.RunStatusFailed
	}

	observability.ResearchRuns.WithLabelValues(status).Inc()
	observability.RunDuration.Observe(stats.ElapsedSec)
	observability.RunCostUSD.Observe(stats.TokenCostUSD)

	if p.recorder != nil {
		if err := p.recorder.CompleteRun(ctx, runID, runStatus, stats, ledger.Snapshot()); err != nil {
			p.logger.Warn().Err(err).Str(logKeyRunID, runID).Msg("recording run end failed")
		}
	}

	p.logger.Info().
		Str(logKeyRunID, runID).
		Int("posts", len(posts)).
		Float64("cost_usd", stats.TokenCostUSD).
		Float64("elapsed_sec", stats.ElapsedSec).
		Msg("research run finished")

	return Result{
		RunID:   runID,
		Posts:   posts,
		Stats:   stats,
		Success: failure == "",
		Error:   failure,
	}
}
