// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/opportunity-engine/reddit-research/internal/core/errkind"
)

// DefaultEmbedProvider is the embedding backend used when a brief does not
// name one.
const DefaultEmbedProvider = "openai"

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"local"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Port     int    `env:"PORT" envDefault:"8080"`

	// PostgresDSN is optional; with an empty DSN runs are not persisted.
	PostgresDSN string `env:"POSTGRES_DSN"`

	// OpenAI
	OpenAIAPIKey      string `env:"OPENAI_API_KEY,required"`
	LLMModel          string `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	PremiumLLMModel   string `env:"PREMIUM_LLM_MODEL" envDefault:"gpt-4o"`
	EmbeddingModel    string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	LLMRateLimitRPS   int    `env:"LLM_RATE_LIMIT_RPS" envDefault:"2"`
	EmbedRateLimitRPS int    `env:"EMBED_RATE_LIMIT_RPS" envDefault:"5"`

	// Reddit source API
	RedditBaseURL         string        `env:"REDDIT_BASE_URL" envDefault:"https://www.reddit.com"`
	RedditClientID        string        `env:"REDDIT_CLIENT_ID"`
	RedditClientSecret    string        `env:"REDDIT_CLIENT_SECRET"`
	RedditRequestsPerMin  int           `env:"REDDIT_REQUESTS_PER_MIN" envDefault:"60"`
	RedditBurstMultiplier float64       `env:"REDDIT_BURST_MULTIPLIER" envDefault:"1.5"`
	RedditTimeout         time.Duration `env:"REDDIT_TIMEOUT" envDefault:"15s"`
	RedditPageSize        int           `env:"REDDIT_PAGE_SIZE" envDefault:"100"`

	// Scheduler
	ClassifyConcurrency int           `env:"CLASSIFY_CONCURRENCY" envDefault:"5"`
	RetryAttempts       int           `env:"RETRY_ATTEMPTS" envDefault:"3"`
	TaskTimeout         time.Duration `env:"TASK_TIMEOUT" envDefault:"45s"`

	// Hydration
	HydrateConcurrency int `env:"HYDRATE_CONCURRENCY" envDefault:"4"`
	MaxCommentDepth    int `env:"MAX_COMMENT_DEPTH" envDefault:"4"`
	MinCommentScore    int `env:"MIN_COMMENT_SCORE" envDefault:"1"`
	MaxCommentNodes    int `env:"MAX_COMMENT_NODES" envDefault:"50"`

	// Pruning
	EmbedBatchSize   int     `env:"EMBED_BATCH_SIZE" envDefault:"64"`
	EmbedCharBudget  int     `env:"EMBED_CHAR_BUDGET" envDefault:"2000"`
	OversampleFactor float64 `env:"OVERSAMPLE_FACTOR" envDefault:"1.5"`

	// Storage
	SaveBatchSize int `env:"SAVE_BATCH_SIZE" envDefault:"50"`
}

func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional, error is expected when not present

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY", errkind.ErrMissingCredentials)
	}

	if c.RedditRequestsPerMin <= 0 {
		return fmt.Errorf("%w: REDDIT_REQUESTS_PER_MIN must be positive", errkind.ErrInvalidInput)
	}

	if c.ClassifyConcurrency <= 0 || c.HydrateConcurrency <= 0 {
		return fmt.Errorf("%w: concurrency settings must be positive", errkind.ErrInvalidInput)
	}

	return nil
}

// ChatModel returns the chat model for a run, honoring the premium flag.
func (c *Config) ChatModel(premium bool) string {
	if premium && c.PremiumLLMModel != "" {
		return c.PremiumLLMModel
	}

	return c.LLMModel
}
