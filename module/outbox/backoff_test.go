package outbox

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay_GrowsAndSaturates(t *testing.T) {
	// Without jitter the curve is exactly base * 2^n up to the cap.
	assert.Equal(t, 500*time.Millisecond, Delay(0, 0))
	assert.Equal(t, 1*time.Second, Delay(1, 0))
	assert.Equal(t, 2*time.Second, Delay(2, 0))
	assert.Equal(t, 4*time.Second, Delay(3, 0))
	assert.Equal(t, 8*time.Second, Delay(4, 0))
	assert.Equal(t, 10*time.Second, Delay(5, 0), "capped")
	assert.Equal(t, 10*time.Second, Delay(50, 0), "stays capped, no overflow")
}

func TestDelay_JitterBounds(t *testing.T) {
	for a := 0; a < 6; a++ {
		lo := Delay(a, 0)
		hi := Delay(a, 0.2999)
		assert.GreaterOrEqual(t, hi, lo)
		assert.LessOrEqual(t, hi, 10*time.Second)
		if lo < 10*time.Second {
			// Jitter inflates by strictly less than 30%.
			assert.Less(t, hi, lo+lo*3/10+time.Millisecond)
		}
	}
}

func TestDelay_ClampsBadInput(t *testing.T) {
	assert.Equal(t, Delay(0, 0), Delay(-3, -1), "negative inputs clamp to the floor")
	assert.Equal(t, Delay(2, 0.3), Delay(2, 5.0), "oversized jitter clamps to the max")
}

func TestDelay_NonDecreasing(t *testing.T) {
	prev := time.Duration(0)
	for a := 0; a < 20; a++ {
		d := Delay(a, 0)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", a)
		prev = d
	}
}

func TestJitter_Range(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		j := Jitter(rng)
		assert.GreaterOrEqual(t, j, 0.0)
		assert.Less(t, j, 0.3)
	}
}
