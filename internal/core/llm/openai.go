package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/opportunity-engine/reddit-research/internal/core/errkind"
	"github.com/opportunity-engine/reddit-research/internal/platform/observability"
)

const (
	circuitBreakerThreshold = 5
	circuitBreakerTimeout   = time.Minute
	rateLimiterBurst        = 5
	errRateLimiter          = "rate limiter: %w"
)

type openaiClient struct {
	client       *openai.Client
	defaultModel string
	logger       *zerolog.Logger
	rateLimiter  *rate.Limiter

	// Circuit breaker state
	consecutiveFailures int
	circuitOpenUntil    time.Time
	mu                  sync.Mutex
}

// OpenAIConfig holds configuration for the OpenAI chat client.
type OpenAIConfig struct {
	APIKey       string
	DefaultModel string
	RateLimitRPS int
}

// NewOpenAI creates a chat client backed by the OpenAI API.
func NewOpenAI(cfg OpenAIConfig, logger *zerolog.Logger) Client {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openai.GPT4oMini
	}

	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 1
	}

	return &openaiClient{
		client:       openai.NewClient(cfg.APIKey),
		defaultModel: cfg.DefaultModel,
		logger:       logger,
		rateLimiter:  rate.NewLimiter(rate.Limit(float64(cfg.RateLimitRPS)), rateLimiterBurst),
	}
}

func (c *openaiClient) checkCircuit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Now().Before(c.circuitOpenUntil) {
		return errkind.Tagf(errkind.KindRateLimited, "circuit breaker open until %v", c.circuitOpenUntil)
	}

	return nil
}

func (c *openaiClient) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures = 0
}

func (c *openaiClient) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures++
	if c.consecutiveFailures >= circuitBreakerThreshold {
		c.circuitOpenUntil = time.Now().Add(circuitBreakerTimeout)
		c.logger.Warn().
			Int("consecutive_failures", c.consecutiveFailures).
			Time("open_until", c.circuitOpenUntil).
			Msg("Circuit breaker opened")
	}
}

func (c *openaiClient) Complete(ctx context.Context, req Request) (Completion, error) {
	if err := c.checkCircuit(); err != nil {
		return Completion{}, err
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return Completion{}, fmt.Errorf(errRateLimiter, err)
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: 0,
		MaxTokens:   req.MaxTokens,
	})

	observability.LLMRequestDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())

	if err != nil {
		c.recordFailure()

		return Completion{}, classifyAPIError(err)
	}

	c.recordSuccess()

	if len(resp.Choices) == 0 {
		return Completion{}, errkind.ErrEmptyResponse
	}

	observability.LLMTokens.WithLabelValues(model, "prompt").Add(float64(resp.Usage.PromptTokens))
	observability.LLMTokens.WithLabelValues(model, "completion").Add(float64(resp.Usage.CompletionTokens))

	return Completion{
		Content:          resp.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// classifyAPIError tags OpenAI failures with an explicit kind at the point
// they are raised.
func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if errkind.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return errkind.Tag(fmt.Errorf("openai chat: %w", err), errkind.KindRateLimited)
		case apiErr.HTTPStatusCode >= 500:
			return errkind.Tag(fmt.Errorf("openai chat: %w", err), errkind.KindTransient)
		case apiErr.HTTPStatusCode >= 400:
			return errkind.Tag(fmt.Errorf("openai chat: %w", err), errkind.KindFatal)
		}
	}

	if strings.Contains(strings.ToLower(err.Error()), "rate limit") {
		return errkind.Tag(fmt.Errorf("openai chat: %w", err), errkind.KindRateLimited)
	}

	return errkind.Tag(fmt.Errorf("openai chat: %w", err), errkind.KindTransient)
}
