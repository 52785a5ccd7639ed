package process

import (
	"context"
	"sync"
	"time"
)

// DefaultWarnAfter is how long a command may wait for its lane before the
// wait hook fires.
const DefaultWarnAfter = 2 * time.Second

// Lanes serializes work per key. Commands that share a working directory run
// one at a time so tools like git never contend for the same lock file;
// different directories proceed in parallel.
type Lanes struct {
	mu    sync.Mutex
	lanes map[string]*lane

	// WarnAfter and OnWait report commands stuck behind others in their lane.
	WarnAfter time.Duration
	OnWait    func(key string, waited time.Duration)
}

type lane struct {
	sem     chan struct{}
	waiting int
	active  int
}

// LaneStats describes one lane.
type LaneStats struct {
	Key     string `json:"dir"`
	Waiting int    `json:"waiting"`
	Active  int    `json:"active"`
}

// NewLanes creates an empty set of lanes.
func NewLanes() *Lanes {
	return &Lanes{lanes: make(map[string]*lane), WarnAfter: DefaultWarnAfter}
}

func (l *Lanes) acquireLane(key string) *lane {
	l.mu.Lock()
	defer l.mu.Unlock()
	ln, ok := l.lanes[key]
	if !ok {
		ln = &lane{sem: make(chan struct{}, 1)}
		l.lanes[key] = ln
	}
	ln.waiting++
	return ln
}

func (l *Lanes) release(key string, ln *lane, ran bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ran {
		ln.active--
	} else {
		ln.waiting--
	}
	if ln.waiting == 0 && ln.active == 0 {
		delete(l.lanes, key)
	}
}

// Run executes task once every earlier task in the same lane has finished.
// If ctx ends while waiting, the task never runs and ctx's error is returned.
func Run[T any](ctx context.Context, l *Lanes, key string, task func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	ln := l.acquireLane(key)

	enqueued := time.Now()
	var warn <-chan time.Time
	if l.OnWait != nil && l.WarnAfter > 0 {
		timer := time.NewTimer(l.WarnAfter)
		defer timer.Stop()
		warn = timer.C
	}

	for {
		select {
		case ln.sem <- struct{}{}:
			l.mu.Lock()
			ln.waiting--
			ln.active++
			l.mu.Unlock()

			defer func() {
				<-ln.sem
				l.release(key, ln, true)
			}()
			return task(ctx)
		case <-warn:
			l.OnWait(key, time.Since(enqueued))
			warn = nil
		case <-ctx.Done():
			l.release(key, ln, false)
			return zero, ctx.Err()
		}
	}
}

// Stats returns the lanes that currently hold or await work.
func (l *Lanes) Stats() []LaneStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LaneStats, 0, len(l.lanes))
	for key, ln := range l.lanes {
		out = append(out, LaneStats{Key: key, Waiting: ln.waiting, Active: ln.active})
	}
	return out
}
