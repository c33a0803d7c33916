package retry

import (
	"math"
	"math/rand"
	"time"
)

// Strategy is the backoff shape selected per failure cause (spec §4.2
// "Backoff strategy").
type Strategy string

const (
	StrategyFixed       Strategy = "FIXED"
	StrategyLinear      Strategy = "LINEAR"
	StrategyExponential Strategy = "EXPONENTIAL"
)

// BackoffConfig mirrors the teacher's RetryConfig shape
// (internal/errors/retry.go) generalized to a named strategy and a
// capped-jitter exponential curve.
type BackoffConfig struct {
	Strategy   Strategy
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	JitterFrac float64 // fraction of the computed delay added/subtracted as jitter, e.g. 0.2
}

// DefaultBackoffConfig is the fallback used when a cause has no override.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Strategy:   StrategyExponential,
		BaseDelay:  2 * time.Second,
		MaxDelay:   60 * time.Second,
		JitterFrac: 0.2,
	}
}

// Delay computes the backoff for the given zero-based attempt number,
// applying the configured strategy, cap, and jitter. Grounded on the
// teacher's calculateBackoff (internal/errors/retry.go), generalized from a
// single exponential curve to the three named strategies spec §4.2 lists.
func Delay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	var base time.Duration
	switch cfg.Strategy {
	case StrategyFixed:
		base = cfg.BaseDelay
	case StrategyLinear:
		base = cfg.BaseDelay * time.Duration(attempt+1)
	case StrategyExponential:
		fallthrough
	default:
		multiplier := math.Pow(2, float64(attempt))
		base = time.Duration(float64(cfg.BaseDelay) * multiplier)
	}
	if cfg.MaxDelay > 0 && base > cfg.MaxDelay {
		base = cfg.MaxDelay
	}
	if cfg.JitterFrac <= 0 {
		return base
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	spread := float64(base) * cfg.JitterFrac
	offset := (rng.Float64()*2 - 1) * spread
	jittered := time.Duration(float64(base) + offset)
	if jittered < 0 {
		jittered = 0
	}
	if cfg.MaxDelay > 0 && jittered > cfg.MaxDelay {
		jittered = cfg.MaxDelay
	}
	return jittered
}
