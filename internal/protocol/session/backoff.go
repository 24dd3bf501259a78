package session

import (
	"math"
	"math/rand"
	"time"
)

// NextBackoffDelay returns the retransmit delay for attempt N (1-based).
// With jitter the delay lands in [0.5, 1.5) of the computed value.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	delay := float64(cfg.InitialDelay)
	if attempt > 1 {
		mult := cfg.Multiplier
		if mult < 1.0 {
			mult = 1.0
		}
		delay *= math.Pow(mult, float64(attempt-1))
	}
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 1.0
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}
