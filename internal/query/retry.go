package query

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy decides, after failed attempt n (1-based), whether to try again
// and how long to wait first.
type RetryPolicy func(attempt int) (time.Duration, bool)

// RetryN allows at most attempts attempts in total, waiting delay between
// them.
func RetryN(attempts int, delay time.Duration) RetryPolicy {
	return func(attempt int) (time.Duration, bool) {
		if attempt >= attempts {
			return 0, false
		}
		return delay, true
	}
}

// Backoff defines exponential retry delays.
type Backoff struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
}

// Delay returns the wait before retry number attempt. Jitter scales the
// delay into [0.5, 1.5).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return b.jitter(float64(b.InitialDelay))
	}
	if b.InitialDelay <= 0 {
		return 0
	}
	if b.Multiplier < 1.0 {
		b.Multiplier = 1.0
	}
	delay := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(attempt-1))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	return b.jitter(delay)
}

func (b Backoff) jitter(delay float64) time.Duration {
	if b.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	return time.Duration(delay)
}

// Exponential retries up to attempts attempts in total with b's delays.
func Exponential(b Backoff, attempts int) RetryPolicy {
	return func(attempt int) (time.Duration, bool) {
		if attempt >= attempts {
			return 0, false
		}
		return b.Delay(attempt), true
	}
}
