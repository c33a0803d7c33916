package retry

import "time"

// Policy is the per-namespace (or global) retry configuration: a default
// backoff plus cause-specific overrides, and a cap on retry attempts
// (spec §4.2 "Retry policy").
type Policy struct {
	MaxRetries        int
	Default           BackoffConfig
	Overrides         map[FailureType]BackoffConfig
	MaxRetriesOverride map[FailureType]int
}

// DefaultPolicy matches spec §4.2's stated defaults: exponential backoff
// capped at 60s for most causes, with RATE_LIMIT on a longer retry budget
// (5 attempts, 5s base ±20% jitter, exponential up to 60s) and TIMEOUT on a
// short fixed delay of 4.5s to 5s (5s base, jitter capped at the 5s maximum)
// with a 2-attempt budget, since a timeout carries no
// server-side signal to wait out.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		Default:    DefaultBackoffConfig(),
		Overrides: map[FailureType]BackoffConfig{
			FailureRateLimit: {
				Strategy:   StrategyExponential,
				BaseDelay:  5 * time.Second,
				MaxDelay:   60 * time.Second,
				JitterFrac: 0.2,
			},
			FailureTimeout: {
				Strategy:   StrategyFixed,
				BaseDelay:  5 * time.Second,
				MaxDelay:   5 * time.Second,
				JitterFrac: 0.1,
			},
			FailureIncomplete: {
				Strategy:   StrategyExponential,
				BaseDelay:  1 * time.Second,
				MaxDelay:   60 * time.Second,
				JitterFrac: 0,
			},
		},
		MaxRetriesOverride: map[FailureType]int{
			FailureRateLimit: 5,
			FailureTimeout:   2,
		},
	}
}

// ConfigFor returns the backoff configuration for a failure cause, falling
// back to the policy default when no override is registered.
func (p Policy) ConfigFor(cause FailureType) BackoffConfig {
	if cfg, ok := p.Overrides[cause]; ok {
		return cfg
	}
	return p.Default
}

// MaxRetriesFor returns the retry budget for a failure cause, falling back
// to the policy-wide default when no cause-specific override is registered.
func (p Policy) MaxRetriesFor(cause FailureType) int {
	if n, ok := p.MaxRetriesOverride[cause]; ok {
		return n
	}
	return p.MaxRetries
}
