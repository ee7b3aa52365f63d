// Package backoff computes capped exponential delays with jitter.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Exponential yields min(Cap, Base*2^n) adjusted by up to ±Jitter.
type Exponential struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter time.Duration

	// Rand returns a value in [0,1). Nil uses math/rand.
	Rand func() float64
}

// Default mirrors the service's documented reconnect policy.
func Default() Exponential {
	return Exponential{Base: time.Second, Cap: 60 * time.Second, Jitter: 250 * time.Millisecond}
}

// Raw returns the un-jittered delay for attempt n (0-based).
func (b Exponential) Raw(n int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	if n < 0 {
		n = 0
	}
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if b.Cap > 0 && d >= b.Cap {
			return b.Cap
		}
		if d <= 0 {
			return b.Cap
		}
	}
	if b.Cap > 0 && d > b.Cap {
		return b.Cap
	}
	return d
}

// Delay returns the jittered delay for attempt n. The result is never
// negative.
func (b Exponential) Delay(n int) time.Duration {
	d := b.Raw(n)
	if b.Jitter <= 0 {
		return d
	}
	r := b.Rand
	if r == nil {
		r = rand.Float64
	}
	offset := time.Duration((r()*2 - 1) * float64(b.Jitter))
	d += offset
	if d < 0 {
		return 0
	}
	return d
}
