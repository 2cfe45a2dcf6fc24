package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig configures exponential backoff around analyzer calls
type RetryConfig struct {
	MaxRetries int              `json:"max_retries"` // retries after the first attempt
	BaseDelay  time.Duration    `json:"base_delay"`  // delay before the first retry
	MaxDelay   time.Duration    `json:"max_delay"`   // upper bound for a single delay
	Multiplier float64          `json:"multiplier"`  // growth factor per retry
	Jitter     bool             `json:"jitter"`      // spread delays by up to 10%
	LogRetries bool             `json:"log_retries"` // log each retry decision
	RetryIf    func(error) bool `json:"-"`           // defaults to IsRetryableError
}

// RetryResult describes how an operation finished
type RetryResult struct {
	Attempts      int           `json:"attempts"`
	TotalDuration time.Duration `json:"total_duration"`
	LastError     error         `json:"-"`
	Success       bool          `json:"success"`
	RetryReasons  []string      `json:"retry_reasons"`
}

// DefaultRetryConfig retries nothing; callers opt in with MaxRetries
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 0,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		LogRetries: true,
	}
}

// RetryWithBackoff runs operation until it succeeds, returns a non-retryable
// error, runs out of retries, or ctx is done
func RetryWithBackoff(ctx context.Context, config RetryConfig, operation func(ctx context.Context) error) RetryResult {
	start := time.Now()
	retryIf := config.RetryIf
	if retryIf == nil {
		retryIf = IsRetryableError
	}

	result := RetryResult{RetryReasons: make([]string, 0)}

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		err := operation(ctx)
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(start)
			if config.LogRetries && attempt > 0 {
				log.Info().
					Int("retries", attempt).
					Dur("duration", result.TotalDuration).
					Msg("Operation succeeded after retrying")
			}
			return result
		}

		result.LastError = err
		result.RetryReasons = append(result.RetryReasons, err.Error())

		if attempt >= config.MaxRetries || !retryIf(err) {
			result.TotalDuration = time.Since(start)
			if config.LogRetries && config.MaxRetries > 0 {
				log.Warn().
					Err(err).
					Int("attempts", result.Attempts).
					Dur("duration", result.TotalDuration).
					Msg("Operation failed, giving up")
			}
			return result
		}

		if ctx.Err() != nil {
			result.TotalDuration = time.Since(start)
			return result
		}

		delay := calculateDelay(config, attempt)
		if config.LogRetries {
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Int("max_attempts", config.MaxRetries+1).
				Dur("delay", delay).
				Msg("Operation failed, retrying")
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.TotalDuration = time.Since(start)
			return result
		case <-timer.C:
		}
	}

	result.TotalDuration = time.Since(start)
	return result
}

// calculateDelay returns BaseDelay * Multiplier^attempt capped at MaxDelay
func calculateDelay(config RetryConfig, attempt int) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))
	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(config.BaseDelay)
		}
	}

	return time.Duration(delay)
}

type retryable interface {
	Retryable() bool
}

// IsRetryableError reports whether err (or anything it wraps) says it may
// succeed on a second attempt. Caller cancellation is never retryable.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
