package stream

import (
	"math/rand"
	"time"
)

// BackoffConfig defines reconnect backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// NextBackoffDelay returns the reconnect delay before attempt N (1-based).
// Jitter spreads the result across [base/2, base*1.5) so a fleet of streams
// does not redial in lockstep.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	mult := cfg.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(cfg.InitialDelay)
	ceiling := float64(cfg.MaxDelay)
	for i := 1; i < attempt; i++ {
		delay *= mult
		if ceiling > 0 && delay >= ceiling {
			delay = ceiling
			break
		}
	}
	d := time.Duration(delay)
	if !cfg.Jitter {
		return d
	}
	half := d / 2
	if rng == nil {
		return half
	}
	return half + time.Duration(rng.Float64()*float64(d))
}
