// Package ratelimit tracks the per-method operating budget reported by the
// portal and gates requests once a method is close to exhausting it.
//
// Every response carries time.operating (seconds of server time the method
// has consumed in the current window) and time.operating_reset_at. The portal
// blocks a method once it spends OperatingLimit seconds inside one window.
package ratelimit

import (
	"time"
)

// RedisKeyPrefix prefixes the per-method state keys.
const RedisKeyPrefix = "b24:rate_limit:"

// OperatingLimit is the server time, in seconds, a method may consume per window.
const OperatingLimit = 480.0

// Thresholds on the remaining operating budget, in seconds.
const (
	// OperatingThresholdCritical blocks requests for the method below this value.
	OperatingThresholdCritical = 10.0

	// OperatingThresholdWarning logs a warning below this value.
	OperatingThresholdWarning = 60.0

	// OperatingThresholdHealthy marks the method healthy at or above this value.
	OperatingThresholdHealthy = 240.0
)

// RateLimitState is the operating budget of one method. It is shared across
// clients of the same portal via Redis.
type RateLimitState struct {
	// Method is the REST method the budget belongs to.
	Method string `json:"method"`

	// OperatingSeconds is the time.operating value from the latest response.
	OperatingSeconds float64 `json:"operating_seconds"`

	// ResetAt is when the budget window resets (time.operating_reset_at).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was recorded.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= OperatingThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// Remaining returns the operating seconds left in the current window.
// A window that has already reset has the full budget.
func (s *RateLimitState) Remaining() float64 {
	if !s.ResetAt.IsZero() && !time.Now().Before(s.ResetAt) {
		return OperatingLimit
	}
	remaining := OperatingLimit - s.OperatingSeconds
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsStale returns true if the state is older than maxAge.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests for the method should be blocked.
func (s *RateLimitState) NeedsCriticalBlock() bool {
	return s.Remaining() < OperatingThresholdCritical
}

// IsLow returns true if the budget is below the warning threshold but not critical.
func (s *RateLimitState) IsLow() bool {
	return s.Remaining() < OperatingThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the window resets, or 0.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth recomputes IsHealthy from the current budget.
func (s *RateLimitState) UpdateHealth() {
	s.IsHealthy = s.Remaining() >= OperatingThresholdHealthy
}
