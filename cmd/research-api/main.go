package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/opportunity-engine/reddit-research/internal/core/embeddings"
	"github.com/opportunity-engine/reddit-research/internal/core/llm"
	"github.com/opportunity-engine/reddit-research/internal/platform/config"
	"github.com/opportunity-engine/reddit-research/internal/platform/observability"
	"github.com/opportunity-engine/reddit-research/internal/search"
	"github.com/opportunity-engine/reddit-research/internal/server"
	"github.com/opportunity-engine/reddit-research/internal/storage"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setLogLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	var recorder search.Recorder

	var pinger observability.Pinger

	if cfg.PostgresDSN != "" {
		opts := storage.DefaultPoolOptions()
		opts.SaveBatchSize = cfg.SaveBatchSize

		db, err := storage.NewWithOptions(ctx, cfg.PostgresDSN, opts, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to run migrations")
		}

		recorder = db
		pinger = db
	} else {
		logger.Warn().Msg("POSTGRES_DSN not set, runs will not be persisted")
	}

	llmClient := llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:       cfg.OpenAIAPIKey,
		DefaultModel: cfg.LLMModel,
		RateLimitRPS: cfg.LLMRateLimitRPS,
	}, &logger)

	embedders := map[string]embeddings.Client{
		config.DefaultEmbedProvider: embeddings.NewOpenAIProvider(embeddings.OpenAIConfig{
			APIKey:    cfg.OpenAIAPIKey,
			Model:     cfg.EmbeddingModel,
			RateLimit: cfg.EmbedRateLimitRPS,
		}),
	}

	pipeline := search.NewPipeline(cfg, llmClient, embedders, recorder, &logger)

	health := observability.NewServer(pinger, cfg.Port, &logger)
	api := server.New(pipeline, health, cfg.Port, &logger)

	logger.Info().Msg("Starting research API")

	if err := api.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("API server error")
	}

	logger.Info().Msg("Research API stopped")
}

// setLogLevel sets the global log level based on the configuration.
func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
