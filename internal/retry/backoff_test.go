package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duoexplain/internal/analyzer"
)

func quickConfig(retries int) RetryConfig {
	return RetryConfig{
		MaxRetries: retries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()
	assert.Equal(t, 0, config.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, config.BaseDelay)
	assert.Equal(t, 10*time.Second, config.MaxDelay)
	assert.Equal(t, 2.0, config.Multiplier)
	assert.Nil(t, config.RetryIf)
}

func TestRetryWithBackoff_SucceedsFirstTime(t *testing.T) {
	calls := 0
	result := RetryWithBackoff(context.Background(), quickConfig(2), func(context.Context) error {
		calls++
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, calls)
	assert.Empty(t, result.RetryReasons)
}

func TestRetryWithBackoff_RetriesRetryableErrors(t *testing.T) {
	calls := 0
	result := RetryWithBackoff(context.Background(), quickConfig(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return &analyzer.ServerError{StatusCode: 503, Message: "unavailable"}
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Len(t, result.RetryReasons, 2)
}

func TestRetryWithBackoff_StopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := &analyzer.InvalidPayloadError{Err: errors.New("missing title")}
	result := RetryWithBackoff(context.Background(), quickConfig(3), func(context.Context) error {
		calls++
		return permanent
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)
	assert.Same(t, permanent, result.LastError)
}

func TestRetryWithBackoff_ExhaustsRetries(t *testing.T) {
	result := RetryWithBackoff(context.Background(), quickConfig(2), func(context.Context) error {
		return &analyzer.TimeoutError{Timeout: time.Second}
	})

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	var timeoutErr *analyzer.TimeoutError
	assert.ErrorAs(t, result.LastError, &timeoutErr)
}

func TestRetryWithBackoff_CustomRetryIf(t *testing.T) {
	calls := 0
	config := quickConfig(2)
	config.RetryIf = func(error) bool { return true }

	result := RetryWithBackoff(context.Background(), config, func(context.Context) error {
		calls++
		return errors.New("anything")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_ContextCancelledDuringDelay(t *testing.T) {
	config := quickConfig(5)
	config.BaseDelay = time.Hour
	config.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan RetryResult, 1)
	go func() {
		done <- RetryWithBackoff(ctx, config, func(context.Context) error {
			calls++
			return &analyzer.NetworkError{Err: errors.New("connection refused")}
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case result := <-done:
		assert.False(t, result.Success)
		assert.Equal(t, 1, result.Attempts)
	case <-time.After(5 * time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
}

func TestCalculateDelay(t *testing.T) {
	config := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}

	assert.Equal(t, 100*time.Millisecond, calculateDelay(config, 0))
	assert.Equal(t, 200*time.Millisecond, calculateDelay(config, 1))
	assert.Equal(t, 400*time.Millisecond, calculateDelay(config, 2))
	assert.Equal(t, time.Second, calculateDelay(config, 10))

	config.Jitter = true
	for i := 0; i < 20; i++ {
		d := calculateDelay(config, 1)
		require.GreaterOrEqual(t, d, 180*time.Millisecond)
		require.LessOrEqual(t, d, 220*time.Millisecond)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", &analyzer.NetworkError{Err: errors.New("dial tcp: refused")}, true},
		{"timeout", &analyzer.TimeoutError{Timeout: time.Second}, true},
		{"server 500", &analyzer.ServerError{StatusCode: 500}, true},
		{"server 429", &analyzer.ServerError{StatusCode: 429}, true},
		{"server 400", &analyzer.ServerError{StatusCode: 400}, false},
		{"invalid payload", &analyzer.InvalidPayloadError{Err: errors.New("bad")}, false},
		{"wrapped server", fmt.Errorf("submit: %w", &analyzer.ServerError{StatusCode: 502}), true},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}
