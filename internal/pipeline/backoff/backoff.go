// Package backoff computes retry delays and the dead-letter decision from a
// step's retry policy. Delays are exponential with jitter; waiting is always
// represented as a stored timestamp, never an in-process sleep.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/curatorhq/enrichd/internal/core/domain"
	"github.com/curatorhq/enrichd/internal/pipeline/classify"
)

// jitterFraction is the +/- spread applied to every computed delay so a
// burst of items failing together does not retry in lockstep.
const jitterFraction = 0.2

// Delay returns the backoff before the given attempt (1-based). Rate-limit
// failures use the policy's longer base. The result is capped at the
// policy's max before jitter is applied.
func Delay(policy domain.RetryPolicy, attempt int, failure classify.Type) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := float64(policy.BaseBackoff)
	if failure == classify.TypeRateLimit && policy.RateLimitMultiplier > 1 {
		base *= policy.RateLimitMultiplier
	}

	d := base * math.Pow(2, float64(attempt-1))
	if max := float64(policy.MaxBackoff); d > max {
		d = max
	}

	spread := d * jitterFraction
	d += (rand.Float64()*2 - 1) * spread
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// ShouldRetry reports whether another scheduled attempt is allowed after the
// given number of completed attempts.
func ShouldRetry(policy domain.RetryPolicy, attempt int) bool {
	return attempt < policy.MaxAttempts
}

// ShouldDeadLetter is the dead-letter decision: terminal classifications go
// immediately regardless of attempt count, retryable ones once attempts are
// exhausted.
func ShouldDeadLetter(policy domain.RetryPolicy, attempt int, c classify.Classification) bool {
	if !c.Retryable {
		return true
	}
	return !ShouldRetry(policy, attempt)
}
