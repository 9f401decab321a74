package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogniscribe/api/internal/apperr"
)

func fastConfig() Config {
	return Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastConfig(), "op", func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientFailures(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastConfig(), "op", func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, apperr.Dependency("whisper", true, errors.New("connection refused"))
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentFailure(t *testing.T) {
	calls := 0
	permanent := apperr.Dependency("summarizer", false, errors.New("empty response"))
	_, err := Do(context.Background(), fastConfig(), "op", func(ctx context.Context) (int, error) {
		calls++
		return 0, permanent
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, apperr.IsExhausted(err))

	var dep *apperr.DependencyError
	require.True(t, errors.As(err, &dep))
	assert.Equal(t, "summarizer", dep.Service)
}

func TestDoExhaustsBudget(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(), "op", func(ctx context.Context) (int, error) {
		calls++
		return 0, apperr.Dependency("whisper", true, errors.New("timeout"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var exhausted *apperr.ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorContains(t, exhausted.Err, "timeout")
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := Do(ctx, Config{MaxAttempts: 5, BaseDelay: time.Minute, MaxDelay: time.Minute}, "op",
		func(ctx context.Context) (int, error) {
			calls++
			cancel()
			return 0, apperr.Dependency("whisper", true, errors.New("timeout"))
		})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoNormalizesBadConfig(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Config{}, "op", func(ctx context.Context) (int, error) {
		calls++
		return 7, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
