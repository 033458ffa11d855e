package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff returns the delay before retry number attempt (from 1)
type Backoff interface {
	Next(attempt int) time.Duration
}

// Exponential is base * multiplier^(attempt-1), capped at Max, with
// +/- Jitter proportional noise
type Exponential struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     float64
}

// DefaultBackoff starts at 500ms and doubles up to 30s with 20% jitter
func DefaultBackoff() Exponential {
	return Exponential{Base: 500 * time.Millisecond, Multiplier: 2, Max: 30 * time.Second, Jitter: 0.2}
}

func (b Exponential) Next(attempt int) time.Duration {
	if attempt <= 0 || b.Base <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult <= 0 {
		mult = 2
	}
	delay := float64(b.Base) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.Jitter > 0 && b.Jitter <= 1 {
		delay += delay * b.Jitter * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}
