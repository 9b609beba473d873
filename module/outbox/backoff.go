package outbox

import (
	"math"
	"math/rand"
	"time"
)

const (
	backoffBase = 500 * time.Millisecond
	backoffCap  = 10 * time.Second
	jitterMax   = 0.3
)

// Delay computes the retry delay for a given attempt count:
//
//	min(base * 2^attempts * (1 + jitter), cap)
//
// jitter must be in [0, jitterMax). Exponential growth bounded by the cap
// and randomized so a reconnect doesn't fire every queued item at once.
func Delay(attempts int, jitter float64) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter >= jitterMax {
		jitter = jitterMax
	}
	d := float64(backoffBase) * math.Pow(2, float64(attempts)) * (1 + jitter)
	if d > float64(backoffCap) {
		return backoffCap
	}
	return time.Duration(d)
}

// Jitter draws a uniform value from [0, jitterMax).
func Jitter(rng *rand.Rand) float64 {
	if rng == nil {
		return rand.Float64() * jitterMax
	}
	return rng.Float64() * jitterMax
}
