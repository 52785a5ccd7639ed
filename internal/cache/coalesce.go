package cache

import (
	"sync"
	"sync/atomic"
)

// Group suppresses duplicate concurrent work for the same key: while a call
// for a key is in flight, later callers wait for it and share its result.
// It has no memory once the call returns.
type Group[V any] struct {
	mu    sync.Mutex
	calls map[string]*call[V]

	shared   atomic.Uint64
	executed atomic.Uint64
}

type call[V any] struct {
	wg   sync.WaitGroup
	val  V
	err  error
	dups int
}

// Do runs fn once per in-flight key. The boolean reports whether the result
// was produced by another caller.
func (g *Group[V]) Do(key string, fn func() (V, error)) (V, error, bool) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[string]*call[V])
	}

	if c, ok := g.calls[key]; ok {
		c.dups++
		g.mu.Unlock()
		g.shared.Add(1)
		c.wg.Wait()
		return c.val, c.err, true
	}

	c := new(call[V])
	c.wg.Add(1)
	g.calls[key] = c
	g.mu.Unlock()
	g.executed.Add(1)

	defer func() {
		g.mu.Lock()
		delete(g.calls, key)
		g.mu.Unlock()
		c.wg.Done()
	}()

	c.val, c.err = fn()
	return c.val, c.err, false
}

// GroupResult is what DoChan delivers.
type GroupResult[V any] struct {
	Val    V
	Err    error
	Shared bool
}

// DoChan is Do delivered on a channel, so a caller can stop waiting without
// abandoning the call for everyone else sharing it.
func (g *Group[V]) DoChan(key string, fn func() (V, error)) <-chan GroupResult[V] {
	ch := make(chan GroupResult[V], 1)
	go func() {
		val, err, shared := g.Do(key, fn)
		ch <- GroupResult[V]{Val: val, Err: err, Shared: shared}
	}()
	return ch
}

// GroupStats counts executed and shared calls.
type GroupStats struct {
	Executed uint64 `json:"executed"`
	Shared   uint64 `json:"shared"`
}

// Stats returns statistics about the group.
func (g *Group[V]) Stats() GroupStats {
	return GroupStats{
		Executed: g.executed.Load(),
		Shared:   g.shared.Load(),
	}
}
