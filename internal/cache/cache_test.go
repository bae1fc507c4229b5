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

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLRUExpiresAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRU[float64](10, time.Minute, clock.Now)

	c.Set("alice", 12.5)
	if v, ok := c.Get("alice"); !ok || v != 12.5 {
		t.Fatalf("Get() = %v, %v; want 12.5, true", v, ok)
	}

	clock.Advance(61 * time.Second)
	if _, ok := c.Get("alice"); ok {
		t.Fatal("expected entry to expire")
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0 after expired read", c.Size())
	}

	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("Stats() = %d/%d, want 1/1", hits, misses)
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU[int](2, time.Hour, nil)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}

	c.Set("a", 10)
	if v, _ := c.Get("a"); v != 10 {
		t.Errorf("overwrite: got %d, want 10", v)
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}
}

func TestLRUDeletePrefix(t *testing.T) {
	c := NewLRU[int](10, time.Hour, nil)
	c.Set("alice\x00trend", 1)
	c.Set("alice\x00net", 2)
	c.Set("alicia\x00net", 3)

	if n := c.DeletePrefix("alice\x00"); n != 2 {
		t.Errorf("DeletePrefix() = %d, want 2", n)
	}
	if _, ok := c.Get("alicia\x00net"); !ok {
		t.Error("unrelated key removed")
	}
	c.Delete("alicia\x00net")
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0", c.Size())
	}
}

func TestJanitorSweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	a := NewLRU[int](10, time.Minute, clock.Now)
	b := NewLRU[string](10, time.Hour, clock.Now)
	a.Set("x", 1)
	a.Set("y", 2)
	b.Set("z", "keep")

	var reported int
	j := NewJanitor(func(n int) { reported = n }, a, b)

	clock.Advance(2 * time.Minute)
	if n := j.Sweep(); n != 2 {
		t.Errorf("Sweep() = %d, want 2", n)
	}
	if reported != 2 {
		t.Errorf("onClean got %d, want 2", reported)
	}
	if b.Size() != 1 {
		t.Error("unexpired entry removed")
	}
}

func TestJanitorStartStop(t *testing.T) {
	j := NewJanitor(nil)
	j.Start(time.Millisecond)
	j.Start(time.Millisecond)

	done := make(chan struct{})
	go func() {
		j.Stop()
		j.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return")
	}

	unstarted := NewJanitor(nil)
	unstarted.Stop()
	unstarted.Start(time.Millisecond)
}
