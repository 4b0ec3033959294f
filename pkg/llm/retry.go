package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RetryConfig controls how transient provider failures are retried
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Logger       *zerolog.Logger
}

// DefaultRetryConfig returns 3 attempts with exponential backoff between 1s and 10s
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
}

// RetryingClient wraps a Client and retries transient failures
type RetryingClient struct {
	inner  Client
	config RetryConfig
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryingClient wraps inner with bounded exponential-backoff retries
func NewRetryingClient(inner Client, cfg RetryConfig) *RetryingClient {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = def.Multiplier
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &RetryingClient{
		inner:  inner,
		config: cfg,
		logger: logger,
		sleep:  sleepContext,
	}
}

// ModelSlug returns the wrapped client's model
func (c *RetryingClient) ModelSlug() string {
	return c.inner.ModelSlug()
}

// MaxTokens returns the wrapped client's context window
func (c *RetryingClient) MaxTokens() int {
	return c.inner.MaxTokens()
}

// Generate calls the wrapped client, retrying transient errors
func (c *RetryingClient) Generate(ctx context.Context, messages []Message, tools []ToolSpec) (Message, error) {
	var lastErr error

	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		msg, err := c.inner.Generate(ctx, messages, tools)
		if err == nil {
			return msg, nil
		}

		lastErr = err

		// Overflow and permanent errors go straight to the caller
		if !IsTransient(err) {
			return Message{}, err
		}

		if attempt == c.config.MaxAttempts {
			break
		}

		delay := c.delay(attempt)
		c.logger.Info().
			Str("model", c.inner.ModelSlug()).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying model call after transient error")

		if err := c.sleep(ctx, delay); err != nil {
			return Message{}, err
		}
	}

	return Message{}, fmt.Errorf("max retries (%d) exceeded: %w", c.config.MaxAttempts, lastErr)
}

func (c *RetryingClient) delay(attempt int) time.Duration {
	d := c.config.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.config.Multiplier)
		if d >= c.config.MaxDelay {
			return c.config.MaxDelay
		}
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
