package cache

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestCache_GetPut(t *testing.T) {
	c := New[string, string]()

	if _, ok := c.Get("missing"); ok {
		t.Fatalf("expected miss on empty cache")
	}

	c.Put("a", "1")
	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Errorf("expected hit with 1, got %q %v", v, ok)
	}

	c.Put("a", "2")
	if v, _ := c.Get("a"); v != "2" {
		t.Errorf("expected replaced value 2, got %q", v)
	}
}

func TestCache_ZeroValueIsAHit(t *testing.T) {
	c := New[string, string]()
	c.Put("negative", "")

	v, ok := c.Get("negative")
	if !ok || v != "" {
		t.Errorf("expected stored empty value to be a hit, got %q %v", v, ok)
	}
}

func TestCache_TTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[string, int](WithTTL(time.Hour), WithClock(clock.Now))

	c.Put("k", 1)

	clock.Advance(59 * time.Minute)
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("expected entry alive before TTL")
	}

	clock.Advance(time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected entry expired at TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expected expired entry removed, len=%d", c.Len())
	}
}

func TestCache_TTLMeasuredFromInsertion(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[string, int](WithTTL(time.Hour), WithClock(clock.Now))

	c.Put("k", 1)
	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Minute)
		_, _ = c.Get("k") // reads do not extend the lifetime
	}
	clock.Advance(10 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Errorf("expected entry to expire an hour after insertion despite reads")
	}
}

func TestCache_LRUEviction(t *testing.T) {
	c := New[string, int](WithCapacity(2))

	c.Put("a", 1)
	c.Put("b", 2)
	_, _ = c.Get("a") // a is now most recently used
	c.Put("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Errorf("expected b to be evicted as least recently used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Errorf("expected a to survive")
	}
	if _, ok := c.Get("c"); !ok {
		t.Errorf("expected c to be present")
	}
	if c.Len() != 2 {
		t.Errorf("expected len 2, got %d", c.Len())
	}
}

func TestCache_Defaults(t *testing.T) {
	c := New[string, int](WithTTL(0), WithCapacity(-1), WithClock(nil))
	if c.TTL() != DefaultTTL {
		t.Errorf("expected default TTL, got %v", c.TTL())
	}
	c.Put("a", 1)
	c.Remove("a")
	if _, ok := c.Get("a"); ok {
		t.Errorf("expected removed entry to be absent")
	}
	c.Put("b", 2)
	c.Purge()
	if c.Len() != 0 {
		t.Errorf("expected purge to empty cache")
	}
}

func TestCache_Concurrent(t *testing.T) {
	c := New[int, int](WithCapacity(16))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Put(i%20, i)
			_, _ = c.Get(i % 7)
		}(i)
	}
	wg.Wait()

	if c.Len() > 16 {
		t.Errorf("capacity exceeded: %d", c.Len())
	}
}
