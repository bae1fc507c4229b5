// Package trace tags each request with an ID and logs its completion.
package trace

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"moneymind/internal/log"
)

// RequestIDHeader carries the caller's request ID, echoed on the response.
const RequestIDHeader = "X-Request-ID"

var validRequestID = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

type requestIDKey struct{}

// Metrics summarizes the requests seen so far.
type Metrics struct {
	TotalRequests       int64
	ServerErrors        int64
	AverageResponseTime int64 // running mean, microseconds
}

type Middleware struct {
	extractIP func(*http.Request) string
	logger    *log.Logger

	mu      sync.Mutex
	metrics Metrics
}

// NewMiddleware returns a tracer. extractIP may be nil.
func NewMiddleware(logger *log.Logger, extractIP func(*http.Request) string) *Middleware {
	if logger == nil {
		logger = log.Discard()
	}
	return &Middleware{
		extractIP: extractIP,
		logger:    logger.WithComponent(log.ComponentTrace),
	}
}

// Middleware wraps next. A well-formed incoming X-Request-ID is reused so
// client and server logs correlate; otherwise one is generated.
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(RequestIDHeader)
		if !validRequestID.MatchString(id) {
			id = GenerateRequestID()
		}
		w.Header().Set(RequestIDHeader, id)

		var clientIP string
		if m.extractIP != nil {
			clientIP = m.extractIP(r)
		}

		logger := m.logger.With(log.FieldRequestID, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		ctx = log.NewContext(ctx, logger)

		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		elapsed := time.Since(start)
		m.observe(rec.status, elapsed)

		level := slog.LevelInfo
		switch {
		case rec.status >= 500:
			level = slog.LevelError
		case rec.status >= 400:
			level = slog.LevelWarn
		}
		fields := log.NewFields().
			WithRequest(r.Method, r.URL.Path, clientIP).
			WithHTTPResponse(rec.status, elapsed.Milliseconds(), rec.bytes)
		fields[log.FieldComponent] = log.ComponentTrace
		logger.Log(ctx, level, "HTTP request completed", fields.ToSlice()...)
	})
}

func (m *Middleware) observe(status int, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.TotalRequests++
	if status >= 500 {
		m.metrics.ServerErrors++
	}
	avg := m.metrics.AverageResponseTime
	m.metrics.AverageResponseTime = avg + (elapsed.Microseconds()-avg)/m.metrics.TotalRequests
}

// GetMetrics returns a copy of the current metrics.
func (m *Middleware) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

// recorder captures the status code and body size.
type recorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *recorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// GenerateRequestID returns a new "req_"-prefixed random ID.
func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

// GetRequestID returns the request ID stored by the middleware, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
