package upstream

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff spaces reconnect attempts. Zero fields fall back to sane values.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		Min:    500 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: 0.2,
	}
}

func (b Backoff) IsZero() bool {
	return b == Backoff{}
}

// Next returns the delay before the given 1-based attempt.
func (b Backoff) Next(attempt int) time.Duration {
	b = b.normalized()
	if attempt < 1 {
		attempt = 1
	}

	wait := float64(b.Min) * math.Pow(b.Factor, float64(attempt-1))
	if wait > float64(b.Max) {
		wait = float64(b.Max)
	}
	if b.Jitter == 0 {
		return time.Duration(wait)
	}

	spread := wait * b.Jitter
	return time.Duration(wait - spread + rand.Float64()*2*spread)
}

func (b Backoff) normalized() Backoff {
	if b.Min <= 0 {
		b.Min = 100 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 30 * time.Second
	}
	if b.Factor <= 1 {
		b.Factor = 2
	}
	b.Jitter = max(0, min(b.Jitter, 1))
	return b
}
