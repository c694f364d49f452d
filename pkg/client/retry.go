package client

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	b24RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b24_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	b24RetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b24_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts uint

	// InitialBackoff is the delay before the first retry; it doubles per attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// retryWithBackoff executes fn with exponential backoff and jitter.
// Only errors classified as server, rate_limit or network are retried;
// anything else is returned as is after the first attempt.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, logger zerolog.Logger, fn func() error) error {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}

	jitter := cfg.InitialBackoff / 5
	if jitter <= 0 {
		jitter = time.Millisecond
	}

	var attempts uint
	err := retry.Do(
		func() error {
			attempts++
			return fn()
		},
		retry.Context(ctx),
		retry.Attempts(cfg.MaxAttempts),
		retry.Delay(cfg.InitialBackoff),
		retry.MaxDelay(cfg.MaxBackoff),
		retry.MaxJitter(jitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return shouldRetry(classOf(err))
		}),
		retry.OnRetry(func(n uint, err error) {
			// also invoked after the final attempt, which is not followed by a retry
			if n+1 >= cfg.MaxAttempts {
				return
			}
			class := classOf(err)
			b24RetriesTotal.WithLabelValues(string(class)).Inc()
			logger.Debug().
				Err(err).
				Str("error_class", string(class)).
				Uint("attempt", n+1).
				Msg("Retrying request after backoff")
		}),
	)
	if err == nil {
		if attempts > 1 {
			logger.Info().Uint("attempt", attempts).Msg("Request succeeded after retry")
		}
		return nil
	}

	class := classOf(err)
	if shouldRetry(class) && attempts >= cfg.MaxAttempts {
		b24RetryExhaustedTotal.WithLabelValues(string(class)).Inc()
		logger.Warn().
			Str("error_class", string(class)).
			Uint("max_attempts", cfg.MaxAttempts).
			Msg("Retry attempts exhausted")
		return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, err)
	}
	return err
}
