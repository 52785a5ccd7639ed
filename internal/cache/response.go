// Package cache holds the process-lifetime response cache that lets identical
// upstream requests skip a second LLM call.
package cache

import (
	"container/list"
	"sync"
)

// DefaultCapacity is used when Options.Capacity is not positive.
const DefaultCapacity = 100

// Options configures a ResponseCache.
type Options struct {
	// Capacity is the maximum number of distinct keys held.
	Capacity int
	// Disabled makes Get always miss and Put a no-op.
	Disabled bool
	// OnEvict is called, outside the lock, for each key evicted by Put.
	OnEvict func(key string)
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
	Enabled   bool   `json:"enabled"`
	// HitRate is Hits over lookups, 0 before the first lookup.
	HitRate float64 `json:"hit_rate"`
}

type entry struct {
	key   string
	value string
}

// ResponseCache is a bounded FIFO map from fingerprint to response text.
// Eviction follows insertion order only: reads do not refresh an entry and
// overwriting a key keeps its original position.
type ResponseCache struct {
	mu       sync.Mutex
	capacity int
	enabled  bool
	order    *list.List
	items    map[string]*list.Element
	onEvict  func(string)

	hits      uint64
	misses    uint64
	evictions uint64
}

// New creates a ResponseCache.
func New(opts Options) *ResponseCache {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ResponseCache{
		capacity: capacity,
		enabled:  !opts.Disabled,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		onEvict:  opts.OnEvict,
	}
}

// Get looks up the response stored for operation and args.
func (c *ResponseCache) Get(operation string, args any) (string, bool) {
	if !c.enabled {
		c.recordMiss()
		return "", false
	}
	key, err := Fingerprint(operation, args)
	if err != nil {
		c.recordMiss()
		return "", false
	}
	return c.GetKey(key)
}

// Put stores value for operation and args. Arguments that cannot be
// fingerprinted are not cached.
func (c *ResponseCache) Put(operation string, args any, value string) {
	if !c.enabled {
		return
	}
	key, err := Fingerprint(operation, args)
	if err != nil {
		return
	}
	c.PutKey(key, value)
}

// GetKey looks up a precomputed fingerprint.
func (c *ResponseCache) GetKey(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		c.misses++
		return "", false
	}
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return "", false
	}
	c.hits++
	return el.Value.(*entry).value, true
}

// PutKey stores value under a precomputed fingerprint.
func (c *ResponseCache) PutKey(key, value string) {
	var evicted []string

	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	if el, ok := c.items[key]; ok {
		el.Value.(*entry).value = value
		c.mu.Unlock()
		return
	}
	c.items[key] = c.order.PushBack(&entry{key: key, value: value})
	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		e := oldest.Value.(*entry)
		c.order.Remove(oldest)
		delete(c.items, e.key)
		c.evictions++
		evicted = append(evicted, e.key)
	}
	onEvict := c.onEvict
	c.mu.Unlock()

	if onEvict != nil {
		for _, key := range evicted {
			onEvict(key)
		}
	}
}

// Enabled reports whether the cache stores anything.
func (c *ResponseCache) Enabled() bool {
	return c.enabled
}

// Stats returns current counters.
func (c *ResponseCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.order.Len(),
		Capacity:  c.capacity,
		Enabled:   c.enabled,
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

func (c *ResponseCache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}
