// Package retry wraps collaborator calls with exponential backoff.
// Only failures classified as transient are retried; everything else
// propagates immediately.
package retry

import (
	"context"
	"log"
	"time"

	"github.com/cogniscribe/api/internal/apperr"
)

// Config controls the backoff schedule.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig mirrors the service defaults: 3 attempts, 1s initial
// delay doubling up to 60s.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 60 * time.Second}
}

func (c Config) normalized() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	return c
}

// Do invokes fn until it succeeds, fails permanently, or the attempt
// budget is spent. On exhaustion the last underlying error is preserved
// inside an ExhaustedError.
func Do[T any](ctx context.Context, cfg Config, name string, fn func(context.Context) (T, error)) (T, error) {
	cfg = cfg.normalized()

	var zero T
	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !apperr.IsTransient(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		log.Printf("%s failed (attempt %d/%d): %v, retrying in %s", name, attempt, cfg.MaxAttempts, err, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}

		if next := delay * 2; next <= cfg.MaxDelay {
			delay = next
		} else {
			delay = cfg.MaxDelay
		}
	}

	return zero, &apperr.ExhaustedError{Attempts: cfg.MaxAttempts, Err: lastErr}
}
