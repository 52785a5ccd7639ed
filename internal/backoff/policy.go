// Package backoff computes capped exponential delays for retry loops.
package backoff

import (
	"time"
)

// Policy is the capped exponential schedule used between upstream attempts.
type Policy struct {
	// Base is the delay after the first failed attempt.
	Base time.Duration
	// Max caps every computed delay.
	Max time.Duration
}

// DefaultPolicy returns the schedule used when configuration leaves it unset.
// Base: 1s, Max: 60s
func DefaultPolicy() Policy {
	return Policy{
		Base: time.Second,
		Max:  60 * time.Second,
	}
}

// Delay returns min(Base * 2^attempt, Max) for a zero-based attempt index.
// A non-positive Max leaves the delay uncapped.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	d := p.Base
	for i := 0; i < attempt; i++ {
		// Stop doubling once the cap is reached or the next step would overflow.
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
		if d > time.Duration(1<<62)/2 {
			break
		}
		d *= 2
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Schedule lists the delays slept between attempts for a call with maxAttempts tries.
func (p Policy) Schedule(maxAttempts int) []time.Duration {
	if maxAttempts <= 1 {
		return nil
	}
	out := make([]time.Duration, 0, maxAttempts-1)
	for attempt := 0; attempt < maxAttempts-1; attempt++ {
		out = append(out, p.Delay(attempt))
	}
	return out
}
