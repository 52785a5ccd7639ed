package cache

import (
	"fmt"
	"sync"
	"testing"
)

func TestResponseCache_FIFOEviction(t *testing.T) {
	c := New(Options{Capacity: 2})

	c.Put("op", map[string]any{"k": "A"}, "a")
	c.Put("op", map[string]any{"k": "B"}, "b")
	c.Put("op", map[string]any{"k": "C"}, "c")

	if _, ok := c.Get("op", map[string]any{"k": "A"}); ok {
		t.Error("A should have been evicted")
	}
	for key, want := range map[string]string{"B": "b", "C": "c"} {
		got, ok := c.Get("op", map[string]any{"k": key})
		if !ok {
			t.Errorf("%s should be cached", key)
			continue
		}
		if got != want {
			t.Errorf("Get(%s) = %q, want %q", key, got, want)
		}
	}
	if c.Stats().Size != 2 {
		t.Errorf("size = %d, want 2", c.Stats().Size)
	}
}

func TestResponseCache_GetDoesNotRefresh(t *testing.T) {
	c := New(Options{Capacity: 2})

	c.PutKey("a", "1")
	c.PutKey("b", "2")
	if _, ok := c.GetKey("a"); !ok {
		t.Fatal("a should be cached")
	}
	c.PutKey("c", "3")

	if _, ok := c.GetKey("a"); ok {
		t.Error("reading a must not protect it from FIFO eviction")
	}
}

func TestResponseCache_OverwriteKeepsPosition(t *testing.T) {
	c := New(Options{Capacity: 2})

	c.PutKey("a", "1")
	c.PutKey("b", "2")
	c.PutKey("a", "updated")

	if got, _ := c.GetKey("a"); got != "updated" {
		t.Errorf("GetKey(a) = %q, want updated", got)
	}
	if c.Stats().Size != 2 {
		t.Fatalf("size = %d, want 2", c.Stats().Size)
	}

	c.PutKey("c", "3")
	if _, ok := c.GetKey("a"); ok {
		t.Error("overwritten key should keep its original (oldest) position")
	}
	keys := heldKeys(c)
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "c" {
		t.Errorf("held keys = %v, want [b c]", keys)
	}
}

func TestResponseCache_Disabled(t *testing.T) {
	c := New(Options{Disabled: true})

	c.Put("op", map[string]string{"x": "1"}, "value")
	if _, ok := c.Get("op", map[string]string{"x": "1"}); ok {
		t.Error("disabled cache must always miss")
	}
	c.PutKey("k", "v")
	if c.Stats().Size != 0 {
		t.Errorf("size = %d, want 0", c.Stats().Size)
	}
	if c.Enabled() {
		t.Error("Enabled() = true, want false")
	}
}

func TestResponseCache_OnEvict(t *testing.T) {
	var evicted []string
	c := New(Options{Capacity: 1, OnEvict: func(key string) { evicted = append(evicted, key) }})

	c.PutKey("a", "1")
	c.PutKey("b", "2")
	c.PutKey("c", "3")

	if len(evicted) != 2 || evicted[0] != "a" || evicted[1] != "b" {
		t.Errorf("evicted = %v, want [a b]", evicted)
	}
}

func TestResponseCache_Stats(t *testing.T) {
	c := New(Options{Capacity: 1})

	c.PutKey("a", "1")
	c.GetKey("a")
	c.GetKey("missing")
	c.PutKey("b", "2")

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Evictions != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.Size != 1 || stats.Capacity != 1 || !stats.Enabled {
		t.Errorf("Stats() = %+v", stats)
	}
	if rate := stats.HitRate; rate != 0.5 {
		t.Errorf("HitRate = %v, want 0.5", rate)
	}
}

func TestResponseCache_DefaultCapacity(t *testing.T) {
	c := New(Options{})
	for i := 0; i < DefaultCapacity+10; i++ {
		c.PutKey(fmt.Sprintf("k%d", i), "v")
	}
	if c.Stats().Size != DefaultCapacity {
		t.Errorf("size = %d, want %d", c.Stats().Size, DefaultCapacity)
	}
}

func TestResponseCache_UnmarshalableArgs(t *testing.T) {
	c := New(Options{})
	args := map[string]any{"fn": func() {}}
	c.Put("op", args, "value")
	if _, ok := c.Get("op", args); ok {
		t.Error("arguments that cannot be fingerprinted must not hit")
	}
	if c.Stats().Size != 0 {
		t.Errorf("size = %d, want 0", c.Stats().Size)
	}
}

func TestResponseCache_Concurrent(t *testing.T) {
	c := New(Options{Capacity: 50})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				args := map[string]int{"w": w, "i": i % 60}
				c.Put("op", args, "v")
				c.Get("op", args)
			}
		}(w)
	}
	wg.Wait()

	if n := c.Stats().Size; n > 50 {
		t.Errorf("size = %d exceeds capacity", n)
	}
	if len(heldKeys(c)) != len(c.items) {
		t.Error("order list and index disagree")
	}
}

// heldKeys lists the cached fingerprints, oldest first.
func heldKeys(c *ResponseCache) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}
