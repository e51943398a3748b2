package domain

import "time"

// RetryPolicy is the per-step retry configuration, stored in the
// retry_policies table so tuning is a data change rather than a deploy.
type RetryPolicy struct {
	Step                string        `db:"step_name"`
	MaxAttempts         int           `db:"max_attempts"`
	BaseBackoff         time.Duration `db:"-"`
	MaxBackoff          time.Duration `db:"-"`
	RateLimitMultiplier float64       `db:"rate_limit_multiplier"`
}

// DefaultRetryPolicy is used when a step has no stored policy.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:         3,
	BaseBackoff:         time.Minute,
	MaxBackoff:          5 * time.Minute,
	RateLimitMultiplier: 10,
}
