package retryhttp

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls retry behavior for remote calls.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultConfig returns the retry defaults used when config omits them.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Caller wraps remote operations with classification-aware retries and
// exponential backoff. Every remote call in the pipeline goes through one
// shared Caller so retry policy is observed uniformly.
type Caller struct {
	cfg     Config
	logger  *slog.Logger
	context func() string // supplies the channel currently being processed
}

func NewCaller(cfg Config, logger *slog.Logger) *Caller {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}
	return &Caller{cfg: cfg, logger: logger}
}

// SetContextFunc installs a callback that names the channel currently being
// processed. The caller stays free of channel-state coupling; the callback is
// only consulted when logging a retry.
func (c *Caller) SetContextFunc(fn func() string) {
	c.context = fn
}

// Do runs fn, retrying retryable failures with exponential backoff until
// success, a non-retryable error, retry exhaustion, or context cancellation.
// The last error is returned on exhaustion.
func (c *Caller) Do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err

		if attempt >= c.cfg.MaxRetries {
			return lastErr
		}

		delay := c.Delay(attempt)
		var se *StatusError
		if errors.As(err, &se) && se.RetryAfter > 0 {
			delay = se.RetryAfter
			if delay > c.cfg.MaxDelay {
				delay = c.cfg.MaxDelay
			}
		}

		if c.logger != nil {
			attrs := []any{
				"op", op,
				"attempt", attempt + 1,
				"max_retries", c.cfg.MaxRetries,
				"delay", delay,
				"error", err,
			}
			if c.context != nil {
				if ch := c.context(); ch != "" {
					attrs = append(attrs, "channel", ch)
				}
			}
			c.logger.Warn("retrying remote call", attrs...)
		}

		if err := sleepContext(ctx, delay); err != nil {
			return lastErr
		}
	}
}

// Delay returns the backoff before retry number attempt+1: the base delay
// doubled per attempt, capped at the maximum.
func (c *Caller) Delay(attempt int) time.Duration {
	delay := c.cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}
	if delay > c.cfg.MaxDelay {
		return c.cfg.MaxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
