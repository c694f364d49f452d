package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for operating budget tracking.
var (
	b24OperatingSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "b24_operating_seconds",
		Help: "Operating seconds consumed by a method in the current window",
	}, []string{"method"})

	b24RateLimitBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b24_rate_limit_blocks_total",
		Help: "Total number of requests blocked due to a critical operating budget",
	}, []string{"method"})

	b24RateLimitWarningsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b24_rate_limit_warnings_total",
		Help: "Total number of requests sent while the operating budget was low",
	}, []string{"method"})
)

// defaultWindow is assumed when the portal omits operating_reset_at.
const defaultWindow = 10 * time.Minute

// Tracker records operating budgets and gates requests.
type Tracker struct {
	redis  redis.Cmdable
	logger zerolog.Logger
}

// NewTracker creates a new operating budget tracker.
func NewTracker(redisClient redis.Cmdable, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

func stateKey(method string) string {
	return RedisKeyPrefix + method
}

// GetState retrieves the state of method from Redis.
// Returns a healthy state with the full budget if nothing is recorded.
func (t *Tracker) GetState(ctx context.Context, method string) (*RateLimitState, error) {
	data, err := t.redis.Get(ctx, stateKey(method)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			t.logger.Debug().Str("method", method).Msg("No operating state in Redis, assuming full budget")
			return &RateLimitState{
				Method:     method,
				LastUpdate: time.Now(),
				IsHealthy:  true,
			}, nil
		}
		return nil, fmt.Errorf("get operating state: %w", err)
	}

	var state RateLimitState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse operating state: %w", err)
	}
	state.UpdateHealth()

	return &state, nil
}

// UpdateOperating stores the budget reported by a response for method.
// The key expires when the window resets.
func (t *Tracker) UpdateOperating(ctx context.Context, method string, operating float64, resetAt time.Time) error {
	now := time.Now()
	if resetAt.IsZero() {
		resetAt = now.Add(defaultWindow)
	}
	ttl := resetAt.Sub(now)
	if ttl <= 0 {
		// window already over, nothing worth keeping
		return nil
	}

	state := &RateLimitState{
		Method:           method,
		OperatingSeconds: operating,
		ResetAt:          resetAt,
		LastUpdate:       now,
	}
	state.UpdateHealth()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal operating state: %w", err)
	}
	if err := t.redis.Set(ctx, stateKey(method), data, ttl).Err(); err != nil {
		return fmt.Errorf("store operating state in redis: %w", err)
	}

	b24OperatingSeconds.WithLabelValues(method).Set(operating)

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Str("method", method).
			Float64("remaining", state.Remaining()).
			Time("reset_at", resetAt).
			Msg("Operating budget CRITICAL - requests will be blocked")
	case state.IsLow():
		t.logger.Warn().
			Str("method", method).
			Float64("remaining", state.Remaining()).
			Time("reset_at", resetAt).
			Msg("Operating budget low")
	default:
		t.logger.Debug().
			Str("method", method).
			Float64("operating", operating).
			Bool("is_healthy", state.IsHealthy).
			Msg("Operating budget updated")
	}

	return nil
}

// ShouldAllowRequest reports whether a request for method may be sent.
// It never sleeps: a low budget is only logged, a critical one blocks until
// the window resets.
func (t *Tracker) ShouldAllowRequest(ctx context.Context, method string) (bool, error) {
	state, err := t.GetState(ctx, method)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Str("method", method).
			Float64("remaining", state.Remaining()).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Operating budget critical - blocking request")

		b24RateLimitBlocksTotal.WithLabelValues(method).Inc()
		return false, nil
	}

	if state.IsLow() {
		t.logger.Warn().
			Str("method", method).
			Float64("remaining", state.Remaining()).
			Msg("Operating budget low - sending request")

		b24RateLimitWarningsTotal.WithLabelValues(method).Inc()
	}

	return true, nil
}
