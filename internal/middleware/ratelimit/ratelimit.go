// Package ratelimit applies a fixed per-client request budget per minute.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"moneymind/internal/log"
)

const (
	window    = time.Minute
	staleAge  = 10 * time.Minute
	sweepTick = 5 * time.Minute
)

type Config struct {
	// RequestsPerMinute of zero disables limiting.
	RequestsPerMinute int
	CleanupInterval   time.Duration
	Logger            *log.Logger
	Now               func() time.Time
}

func DefaultConfig() Config {
	return Config{RequestsPerMinute: 600, CleanupInterval: sweepTick}
}

// Decision is the outcome of one Take.
type Decision struct {
	Allowed   bool
	Remaining int
	// ResetIn is the time left in the client's current window.
	ResetIn time.Duration
}

type bucket struct {
	start time.Time
	seen  time.Time
	used  int
}

// Limiter counts requests per client key in fixed one-minute windows. A
// window starts at the client's first request after the previous one ended,
// so steady traffic never extends it.
type Limiter struct {
	budget int
	now    func() time.Time
	logger *log.Logger

	mu      sync.Mutex
	buckets map[string]*bucket
	limited int64

	stop     chan struct{}
	stopOnce sync.Once
}

func NewLimiter(cfg Config) *Limiter {
	if cfg.RequestsPerMinute < 0 {
		cfg.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = sweepTick
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}
	l := &Limiter{
		budget:  cfg.RequestsPerMinute,
		now:     cfg.Now,
		logger:  cfg.Logger.WithComponent(log.ComponentRateLimit),
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.sweepEvery(cfg.CleanupInterval)
	return l
}

// Take spends one request from key's budget.
func (l *Limiter) Take(key string) Decision {
	if l.budget == 0 {
		return Decision{Allowed: true, Remaining: math.MaxInt}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.start) >= window {
		b = &bucket{start: now}
		l.buckets[key] = b
	}
	b.seen = now
	b.used++

	d := Decision{
		Allowed:   b.used <= l.budget,
		Remaining: max(l.budget-b.used, 0),
		ResetIn:   b.start.Add(window).Sub(now),
	}
	if !d.Allowed {
		l.limited++
	}
	return d
}

// Allow reports whether key may make another request now.
func (l *Limiter) Allow(key string) bool {
	return l.Take(key).Allowed
}

func (l *Limiter) sweepEvery(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if n := l.sweep(); n > 0 {
				l.logger.Debug("Dropped idle rate limit buckets", "count", n)
			}
		case <-l.stop:
			return
		}
	}
}

// sweep forgets clients idle for longer than staleAge.
func (l *Limiter) sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-staleAge)
	n := 0
	for key, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// ActiveClients returns the number of tracked client keys.
func (l *Limiter) ActiveClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Stop ends the sweeper. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

type Metrics struct {
	TotalHits   int64
	ClientCount int64
}

func (l *Limiter) GetMetrics() Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Metrics{TotalHits: l.limited, ClientCount: int64(len(l.buckets))}
}

// Middleware limits requests per extractIP key. It always sets the
// X-RateLimit-* headers; a limited request also gets Retry-After and is
// answered by onLimit, or a plain 429 when onLimit is nil.
func (l *Limiter) Middleware(extractIP func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.budget == 0 {
				next.ServeHTTP(w, r)
				return
			}

			ip := extractIP(r)
			d := l.Take(ip)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.budget))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.ResetIn.Seconds()))))
			l.logger.WarnContext(r.Context(), "Rate limit exceeded",
				log.FieldClientIP, ip,
				log.FieldPath, r.URL.Path,
				"retry_in", d.ResetIn.Round(time.Second))
			if onLimit != nil {
				onLimit(w, r)
				return
			}
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
		})
	}
}
