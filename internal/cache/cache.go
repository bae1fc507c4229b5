// Package cache holds short-lived read caches for aggregate queries.
package cache

import (
	"sync"
	"time"
)

// Cache is the read side the dev server uses; *LRU implements it.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	DeletePrefix(prefix string) int
	Size() int
}

var _ Cache[int] = (*LRU[int])(nil)

// Cleaner is a cache that can drop its expired entries.
type Cleaner interface {
	CleanExpired() int
}

// Janitor periodically cleans a set of caches until stopped.
type Janitor struct {
	caches   []Cleaner
	stop     chan struct{}
	done     chan struct{}
	onClean  func(removed int)

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewJanitor returns a janitor for caches. onClean, if set, is called after
// every sweep that removed something.
func NewJanitor(onClean func(removed int), caches ...Cleaner) *Janitor {
	return &Janitor{
		caches:  caches,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		onClean: onClean,
	}
}

// Start sweeps every interval in a background goroutine. Only the first
// call has an effect.
func (j *Janitor) Start(interval time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started || j.stopped {
		return
	}
	j.started = true
	go j.run(interval)
}

// Sweep cleans all caches once and returns the number of removed entries.
func (j *Janitor) Sweep() int {
	removed := 0
	for _, c := range j.caches {
		removed += c.CleanExpired()
	}
	if removed > 0 && j.onClean != nil {
		j.onClean(removed)
	}
	return removed
}

func (j *Janitor) run(interval time.Duration) {
	defer close(j.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.Sweep()
		case <-j.stop:
			return
		}
	}
}

// Stop ends the sweeping goroutine and waits for it. It is safe to call
// more than once, and before Start.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if j.stopped {
		j.mu.Unlock()
		return
	}
	j.stopped = true
	started := j.started
	close(j.stop)
	j.mu.Unlock()

	if started {
		<-j.done
	}
}
