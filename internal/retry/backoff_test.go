package retry

import (
	"math/rand"
	"testing"
	"time"
)

func TestDelayMonotonicWithoutJitter(t *testing.T) {
	cfg := BackoffConfig{Strategy: StrategyExponential, BaseDelay: time.Second, MaxDelay: time.Minute}
	prev := time.Duration(0)
	for attempt := 0; attempt < 5; attempt++ {
		d := Delay(cfg, attempt, nil)
		if d < prev {
			t.Fatalf("attempt %d: delay %v < previous %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestDelayCapsAtMax(t *testing.T) {
	cfg := BackoffConfig{Strategy: StrategyExponential, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	d := Delay(cfg, 20, nil)
	if d > cfg.MaxDelay {
		t.Fatalf("delay %v exceeds max %v", d, cfg.MaxDelay)
	}
}

func TestDelayJitterStaysWithinBounds(t *testing.T) {
	cfg := BackoffConfig{Strategy: StrategyFixed, BaseDelay: 10 * time.Second, MaxDelay: 10 * time.Second, JitterFrac: 0.5}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		d := Delay(cfg, 0, rng)
		if d < 0 || d > cfg.MaxDelay {
			t.Fatalf("jittered delay %v out of bounds [0, %v]", d, cfg.MaxDelay)
		}
	}
}

func TestDelayLinearGrowsByBase(t *testing.T) {
	cfg := BackoffConfig{Strategy: StrategyLinear, BaseDelay: time.Second, MaxDelay: time.Hour}
	d0 := Delay(cfg, 0, nil)
	d1 := Delay(cfg, 1, nil)
	if d1-d0 != time.Second {
		t.Fatalf("linear step mismatch: d0=%v d1=%v", d0, d1)
	}
}

func TestDelayFixedIsConstant(t *testing.T) {
	cfg := BackoffConfig{Strategy: StrategyFixed, BaseDelay: 3 * time.Second, MaxDelay: time.Hour}
	d0 := Delay(cfg, 0, nil)
	d5 := Delay(cfg, 5, nil)
	if d0 != d5 {
		t.Fatalf("fixed strategy should not vary with attempt: d0=%v d5=%v", d0, d5)
	}
}
