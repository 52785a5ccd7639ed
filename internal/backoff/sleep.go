package backoff

import (
	"context"
	"sync"
	"time"
)

// SleepFunc blocks for d or until ctx is done. Retry loops take one so tests
// can observe the schedule without waiting it out.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc. A cancelled context wins over an
// elapsed timer, so no attempt starts after the caller has given up.
func Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil || d <= 0 {
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ctx.Err()
	}
}

// Recorder is a SleepFunc source that returns immediately and remembers the
// requested delays. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

// Sleep records d and reports ctx.Err().
func (r *Recorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

// Delays returns a copy of the recorded delays in call order.
func (r *Recorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// Total sums the recorded delays.
func (r *Recorder) Total() time.Duration {
	var total time.Duration
	for _, d := range r.Delays() {
		total += d
	}
	return total
}
