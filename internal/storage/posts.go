package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/opportunity-engine/reddit-research/internal/core/domain"
)

const defaultSaveBatchSize = 50

// SavePosts upserts classified posts in fixed-size batches, keyed by
// (run_id, post_id) so replays are idempotent. It returns the number of
// posts written; a failing batch is skipped, not fatal.
func (db *DB) SavePosts(ctx context.Context, runID string, posts []domain.Post) (int, error) {
	saved := 0

	var lastErr error

	for start := 0; start < len(posts); start += db.saveBatchSize {
		end := start + db.saveBatchSize
		if end > len(posts) {
			end = len(posts)
		}

		n, err := db.savePostBatch(ctx, runID, posts[start:end])
		saved += n

		if err != nil {
			lastErr = err

			db.logger.Warn().Err(err).Int("batch_start", start).Msg("post batch failed")
		}
	}

	return saved, lastErr
}

func (db *DB) savePostBatch(ctx context.Context, runID string, posts []domain.Post) (int, error) {
	batch := &pgx.Batch{}

	for _, post := range posts {
		comments, err := json.Marshal(post.Item.Comments)
		if err != nil {
			return 0, fmt.Errorf("marshal comments for %s: %w", post.Item.ID, err)
		}

		batch.Queue(`
			INSERT INTO research_posts (
				run_id, post_id, subreddit, title, body, snippet, author,
				score, upvote_ratio, comment_count, url, tier, comments, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (run_id, post_id) DO UPDATE
			SET tier = EXCLUDED.tier, comments = EXCLUDED.comments, score = EXCLUDED.score`,
			runID,
			post.Item.ID,
			post.Item.Subreddit,
			post.Item.Title,
			post.Item.Body,
			post.Item.Snippet,
			post.Item.Author,
			post.Item.Score,
			post.Item.UpvoteRatio,
			post.Item.CommentCount,
			post.Item.URL,
			string(post.Classification.Tier),
			comments,
			time.Unix(post.Item.CreatedAt, 0).UTC(),
		)
	}

	results := db.pool.SendBatch(ctx, batch)

	defer func() {
		_ = results.Close()
	}()

	saved := 0

	for range posts {
		if _, err := results.Exec(); err != nil {
			return saved, fmt.Errorf("upsert post: %w", err)
		}

		saved++
	}

	return saved, nil
}

// SaveVectors stores one embedding vector per post for later similarity
// queries. Vector count must match id count.
func (db *DB) SaveVectors(ctx context.Context, runID string, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("vector count %d does not match id count %d", len(vectors), len(ids))
	}

	batch := &pgx.Batch{}

	for i, id := range ids {
		batch.Queue(`
			UPDATE research_posts
			SET embedding = $3
			WHERE run_id = $1 AND post_id = $2`,
			runID, id, pgvector.NewVector(vectors[i]),
		)
	}

	results := db.pool.SendBatch(ctx, batch)

	defer func() {
		_ = results.Close()
	}()

	for range ids {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("store vector: %w", err)
		}
	}

	return nil
}

// RunPosts returns the stored posts of a run ordered by tier then score,
// for retrieval by downstream consumers.
func (db *DB) RunPosts(ctx context.Context, runID string) ([]domain.Post, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT post_id, subreddit, title, body, snippet, author,
			score, upvote_ratio, comment_count, url, tier, comments, created_at
		FROM research_posts
		WHERE run_id = $1
		ORDER BY
			CASE tier
				WHEN 'HIGH_VALUE' THEN 0
				WHEN 'MODERATE_VALUE' THEN 1
				ELSE 2
			END,
			score DESC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post

	for rows.Next() {
		var (
			post      domain.Post
			tier      string
			comments  []byte
			createdAt time.Time
		)

		err := rows.Scan(
			&post.Item.ID,
			&post.Item.Subreddit,
			&post.Item.Title,
			&post.Item.Body,
			&post.Item.Snippet,
			&post.Item.Author,
			&post.Item.Score,
			&post.Item.UpvoteRatio,
			&post.Item.CommentCount,
			&post.Item.URL,
			&tier,
			&comments,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan post row: %w", err)
		}

		if len(comments) > 0 {
			if err := json.Unmarshal(comments, &post.Item.Comments); err != nil {
				return nil, fmt.Errorf("unmarshal comments for %s: %w", post.Item.ID, err)
			}
		}

		post.Item.CreatedAt = createdAt.Unix()
		post.Classification = domain.Classification{ItemID: post.Item.ID, Tier: domain.Tier(tier)}

		posts = append(posts, post)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate post rows: %w", err)
	}

	return posts, nil
}
