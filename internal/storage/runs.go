package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opportunity-engine/reddit-research/internal/core/costs"
	"github.com/opportunity-engine/reddit-research/internal/core/domain"
)

// CreateRun records the start of a research run with its parameters.
func (db *DB) CreateRun(ctx context.Context, run domain.Run) error {
	params, err := json.Marshal(runParams{
		Audience:          run.Brief.Audience,
		Questions:         run.Brief.Questions,
		MaxItems:          run.Brief.MaxItems,
		MaxAgeDays:        run.Brief.MaxAgeDays,
		MinScore:          run.Brief.MinScore,
		EmbeddingProvider: run.Brief.EmbeddingProvider,
		Premium:           run.Brief.Premium,
	})
	if err != nil {
		return fmt.Errorf("marshal run params: %w", err)
	}

	_, err = db.pool.Exec(ctx, `
		INSERT INTO research_runs (id, link_id, status, params, started_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		run.ID, run.LinkID, run.Status, params, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	return nil
}

type runParams struct {
	Audience          string   `json:"audience"`
	Questions         []string `json:"questions"`
	MaxItems          int      `json:"maxItems"`
	MaxAgeDays        int      `json:"maxAgeDays"`
	MinScore          int      `json:"minScore"`
	EmbeddingProvider string   `json:"embeddingProvider"`
	Premium           bool     `json:"premium"`
}

// CompleteRun records the terminal status, stats and cost breakdown of a run.
func (db *DB) CompleteRun(ctx context.Context, runID, status string, stats domain.RunStats, spend costs.Snapshot) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal run stats: %w", err)
	}

	costJSON, err := json.Marshal(spend)
	if err != nil {
		return fmt.Errorf("marshal cost snapshot: %w", err)
	}

	tag, err := db.pool.Exec(ctx, `
		UPDATE research_runs
		SET status = $2, stats = $3, cost = $4, finished_at = now()
		WHERE id = $1`,
		runID, status, statsJSON, costJSON,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", runID)
	}

	return nil
}
