package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_ExhaustsAndWrapsLastError(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		attempts++
		return ErrRateLimited
	})

	require.Error(t, err)
	assert.Equal(t, 4, attempts)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Contains(t, err.Error(), "failed after 3 retries")
}

func TestRetryWithResult_StopsOnNonRetryable(t *testing.T) {
	cfg := fastRetry()
	cfg.RetryIf = IsRetryable

	attempts := 0
	_, err := RetryWithResult(context.Background(), cfg, func() ([]float32, error) {
		attempts++
		return nil, ErrQuotaExceeded
	})

	assert.Equal(t, 1, attempts)
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
}

func TestRetryWithResult_RetriesRetryable(t *testing.T) {
	cfg := fastRetry()
	cfg.RetryIf = IsRetryable

	attempts := 0
	out, err := RetryWithResult(context.Background(), cfg, func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", ErrRateLimited
		}
		return "done", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 2, attempts)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Retry(ctx, fastRetry(), func() error {
		attempts++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, attempts)
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.NotNil(t, cfg.RetryIf)
	assert.True(t, cfg.Jitter)
}
