// Package backoff provides the exponential backoff strategy used by the
// change listener's reconnect state machine.
package backoff

import (
	"fmt"
	"math"
	"time"
)

// Strategy defines the reconnect behavior after the listening connection is
// lost. Delays grow exponentially per attempt and attempts are bounded.
//
// The schedule follows: delay = min(BaseDelay * ExponentialBase^attempt, MaxDelay)
//
// Example with defaults (1s base, 2.0 exponential, 1m max):
//
//	Attempt 1: 1s
//	Attempt 2: 2s
//	Attempt 3: 4s
//	Attempt 4: 8s
type Strategy struct {
	BaseDelay       time.Duration // Delay before the first reconnect attempt
	MaxDelay        time.Duration // Upper bound on any single delay
	ExponentialBase float64       // Backoff multiplier (e.g., 2.0 for doubling)
	MaxAttempts     int           // Attempts before the listener stops retrying
}

// DefaultStrategy returns the production default reconnect strategy:
// 10 attempts, 1s base delay doubling up to a 1 minute cap.
func DefaultStrategy() Strategy {
	return Strategy{
		BaseDelay:       time.Second,
		MaxDelay:        time.Minute,
		ExponentialBase: 2.0,
		MaxAttempts:     10,
	}
}

// Delay returns the wait before reconnect attempt number attempt (0-based).
// Formula: delay = min(BaseDelay * ExponentialBase^attempt, MaxDelay)
func (s Strategy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return s.BaseDelay
	}

	delay := float64(s.BaseDelay) * math.Pow(s.ExponentialBase, float64(attempt))

	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}

	return time.Duration(delay)
}

// Exhausted reports whether the attempt budget is spent. Once exhausted, no
// further automatic reconnect happens until the listener is re-initialized
// externally.
func (s Strategy) Exhausted(attempts int) bool {
	return attempts >= s.MaxAttempts
}

// Schedule returns a human-readable description of the reconnect schedule.
// Useful for debugging and operational logs.
func (s Strategy) Schedule() string {
	schedule := "Reconnect Schedule:\n"
	for i := 0; i < s.MaxAttempts; i++ {
		schedule += fmt.Sprintf("  Attempt %d: after %v\n", i+1, s.Delay(i))
	}
	schedule += "  → Stop retrying\n"
	return schedule
}
