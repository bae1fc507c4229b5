// Package devserver is a development backend that speaks the same JSON-over-POST
// contract as the production PHP backend, persisted in SQLite.
package devserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"moneymind/internal/cache"
	"moneymind/internal/config"
	"moneymind/internal/core"
	"moneymind/internal/events"
	"moneymind/internal/log"
	"moneymind/internal/middleware/ratelimit"
	"moneymind/internal/middleware/trace"
	"moneymind/internal/storage"
)

const (
	maxBodyBytes    = 64 << 10
	defaultCacheTTL = 30 * time.Second
	cacheSize       = 512
)

// Repository is the persistence the handlers need. *storage.SQLiteRepository
// implements it.
type Repository interface {
	CreateUser(ctx context.Context, c core.Credentials, p storage.Period) error
	Authenticate(ctx context.Context, username, password string) error
	UserExists(ctx context.Context, username string) (bool, error)
	UpsertIncome(ctx context.Context, username string, p storage.Period, in core.Income) error
	UpsertExpenses(ctx context.Context, username string, p storage.Period, e core.Expense) error
	LatestIncome(ctx context.Context, username string) (core.Income, storage.Period, error)
	LatestExpenses(ctx context.Context, username string) (core.Expense, storage.Period, error)
	IncomeTotalsByMonth(ctx context.Context, username string, year int) ([]core.MonthlyIncomePoint, error)
	ExpensesTotal(ctx context.Context, username string, p storage.Period) (float64, error)
	NetTotal(ctx context.Context, username string) (float64, error)
	Ping(ctx context.Context) error
}

var _ Repository = (*storage.SQLiteRepository)(nil)

type Options struct {
	Addr  string
	Repo  Repository
	Paths config.Paths
	// Publisher is optional; nil disables ledger-change events.
	Publisher events.Publisher
	Logger    *log.Logger
	// StringNumbers encodes amounts as JSON strings, like the PHP backend does.
	StringNumbers      bool
	RateLimitPerMinute int
	// CacheTTL bounds how long aggregate reads are served from memory.
	// Zero uses defaultCacheTTL; negative disables the cache.
	CacheTTL time.Duration
	Now      func() time.Time
}

type Server struct {
	http.Server
	repo          Repository
	paths         config.Paths
	publisher     events.Publisher
	logger        *log.Logger
	stringNumbers bool
	now           func() time.Time
	started       time.Time

	limiter *ratelimit.Limiter
	tracer  *trace.Middleware

	// nil when caching is disabled
	trends  *cache.LRU[[]core.MonthlyIncomePoint]
	totals  *cache.LRU[float64]
	janitor *cache.Janitor

	publishWG    sync.WaitGroup
	shutdownOnce sync.Once
}

// New wires routes and middleware, returning a ready-to-run server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	paths := opts.Paths
	if paths == (config.Paths{}) {
		paths = config.DefaultPaths()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		repo:          opts.Repo,
		paths:         paths,
		publisher:     opts.Publisher,
		logger:        logger.WithComponent(log.ComponentDevServer),
		stringNumbers: opts.StringNumbers,
		now:           now,
		started:       time.Now(),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.RateLimitPerMinute,
			Logger:            logger,
		}),
		tracer: trace.NewMiddleware(logger, extractClientIP),
	}
	s.initCache(opts.CacheTTL)

	mux := http.NewServeMux()
	mux.HandleFunc(paths.Auth, s.postOnly(s.handleAuth))
	mux.HandleFunc(paths.GetExpenses, s.postOnly(s.handleGetExpenses))
	mux.HandleFunc(paths.UpdateExpenses, s.postOnly(s.handleUpdateExpenses))
	mux.HandleFunc(paths.GetIncome, s.postOnly(s.handleGetIncome))
	mux.HandleFunc(paths.UpdateIncome, s.postOnly(s.handleUpdateIncome))
	mux.HandleFunc(paths.GetNetTotal, s.postOnly(s.handleGetNetTotal))
	mux.HandleFunc(paths.GetTotalIncome, s.postOnly(s.handleGetTotalIncome))
	mux.HandleFunc(paths.GetTotalExpenses, s.postOnly(s.handleGetTotalExpenses))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	var h http.Handler = mux
	h = s.limiter.Middleware(extractClientIP, s.onRateLimit)(h)
	h = s.tracer.Middleware(h)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown stops accepting requests, waits for pending event publishes and
// stops the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownErr = s.Server.Shutdown(ctx)
		s.limiter.Stop()
		if s.janitor != nil {
			s.janitor.Stop()
		}

		done := make(chan struct{})
		go func() {
			s.publishWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("Shutdown timed out waiting for event publishes")
		}
	})
	return shutdownErr
}

func (s *Server) period() storage.Period {
	return storage.PeriodOf(s.now())
}

// publish notifies listeners in the background; a broker outage never fails
// the update that triggered it.
func (s *Server) publish(ctx context.Context, username, resource string) {
	if s.publisher == nil {
		return
	}
	logger := log.FromContext(ctx)
	s.publishWG.Add(1)
	go func() {
		defer s.publishWG.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.publisher.PublishLedgerChanged(ctx, username, resource); err != nil {
			logger.WarnContext(ctx, "Failed to publish ledger change",
				log.FieldError, err,
				log.FieldUsername, username,
				log.FieldResource, resource)
		}
	}()
}

func (s *Server) initCache(ttl time.Duration) {
	if ttl < 0 {
		return
	}
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	s.trends = cache.NewLRU[[]core.MonthlyIncomePoint](cacheSize, ttl, s.now)
	s.totals = cache.NewLRU[float64](cacheSize, ttl, s.now)
	s.janitor = cache.NewJanitor(func(removed int) {
		s.logger.Debug("Expired aggregate cache entries", "removed", removed)
	}, s.trends, s.totals)
	s.janitor.Start(ttl)
}

func cacheKey(username, kind string) string {
	return username + "\x00" + kind
}

// invalidate drops every cached aggregate of username.
func (s *Server) invalidate(username string) {
	if s.trends == nil {
		return
	}
	prefix := cacheKey(username, "")
	n := s.trends.DeletePrefix(prefix) + s.totals.DeletePrefix(prefix)
	if n > 0 {
		s.logger.Debug("Invalidated aggregate cache", log.FieldUsername, username, "entries", n)
	}
}

func (s *Server) incomeTrend(ctx context.Context, username string, year int) ([]core.MonthlyIncomePoint, error) {
	key := cacheKey(username, fmt.Sprintf("trend:%d", year))
	if s.trends != nil {
		if points, ok := s.trends.Get(key); ok {
			return points, nil
		}
	}
	points, err := s.repo.IncomeTotalsByMonth(ctx, username, year)
	if err == nil && s.trends != nil {
		s.trends.Set(key, points)
	}
	return points, err
}

func (s *Server) expensesTotal(ctx context.Context, username string, p storage.Period) (float64, error) {
	key := cacheKey(username, fmt.Sprintf("expenses:%d-%02d", p.Year, p.Month))
	return s.cachedTotal(key, func() (float64, error) {
		return s.repo.ExpensesTotal(ctx, username, p)
	})
}

func (s *Server) netTotal(ctx context.Context, username string) (float64, error) {
	return s.cachedTotal(cacheKey(username, "net"), func() (float64, error) {
		return s.repo.NetTotal(ctx, username)
	})
}

// cachedTotal serves key from the cache, loading and storing it on a miss.
// Errors, ErrNotFound included, are never cached.
func (s *Server) cachedTotal(key string, load func() (float64, error)) (float64, error) {
	if s.totals != nil {
		if v, ok := s.totals.Get(key); ok {
			return v, nil
		}
	}
	v, err := load()
	if err == nil && s.totals != nil {
		s.totals.Set(key, v)
	}
	return v, err
}

// CacheStats reports aggregate cache hits and misses.
func (s *Server) CacheStats() (hits, misses int64) {
	if s.trends == nil {
		return 0, 0
	}
	th, tm := s.trends.Stats()
	nh, nm := s.totals.Stats()
	return th + nh, tm + nm
}
