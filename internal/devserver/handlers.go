package devserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"moneymind/internal/core"
	"moneymind/internal/log"
	"moneymind/internal/storage"
)

const (
	resourceIncome   = "income"
	resourceExpenses = "expenses"
)

type (
	authRequest struct {
		Action    string `json:"action"`
		Username  string `json:"username"`
		Password  string `json:"password"`
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}

	usernameRequest struct {
		Username string `json:"username"`
	}

	updateIncomeRequest struct {
		Username string           `json:"username"`
		Income   *json.RawMessage `json:"income"`
	}

	updateExpensesRequest struct {
		Username string           `json:"username"`
		Expenses *json.RawMessage `json:"expenses"`
	}
)

func (s *Server) postOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeFailure(w, r, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		next(w, r)
	}
}

// onRateLimit answers in the JSON envelope; the limiter has already set
// Retry-After.
func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	writeFailure(w, r, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeFailure(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	switch req.Action {
	case "register":
		s.register(w, r, req)
	case "login":
		s.login(w, r, req)
	default:
		writeFailure(w, r, http.StatusBadRequest, "Unknown action")
	}
}

func (s *Server) register(w http.ResponseWriter, r *http.Request, req authRequest) {
	ctx := r.Context()
	logger := log.FromContext(ctx)

	if req.Username == "" || req.Password == "" {
		writeFailure(w, r, http.StatusBadRequest, "Username and password are required")
		return
	}

	err := s.repo.CreateUser(ctx, core.Credentials{
		Username:  req.Username,
		Password:  req.Password,
		Email:     strings.TrimSpace(req.Email),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
	}, s.period())
	switch {
	case errors.Is(err, storage.ErrUserExists):
		writeFailure(w, r, http.StatusConflict, "Username already exists")
		return
	case err != nil:
		logger.ErrorContext(ctx, "Registration failed",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeDatabase,
			log.FieldUsername, req.Username)
		writeFailure(w, r, http.StatusInternalServerError, "Registration failed")
		return
	}

	s.invalidate(req.Username)
	logger.InfoContext(ctx, "User registered", log.FieldUsername, req.Username)
	writeJSON(w, r, http.StatusOK, map[string]any{"success": true, "message": "Registration successful"})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request, req authRequest) {
	ctx := r.Context()
	err := s.repo.Authenticate(ctx, req.Username, req.Password)
	switch {
	case errors.Is(err, storage.ErrInvalidCredentials):
		// 200 with success:false, as the PHP backend answers.
		writeFailure(w, r, http.StatusOK, "Invalid username or password")
		return
	case err != nil:
		log.FromContext(ctx).ErrorContext(ctx, "Login failed",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeDatabase)
		writeFailure(w, r, http.StatusInternalServerError, "Login failed")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"success": true, "message": "Login successful"})
}

// readUsername decodes a {username} body, answering the request itself on
// failure.
func (s *Server) readUsername(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req usernameRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeFailure(w, r, http.StatusBadRequest, "Invalid request body")
		return "", false
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		writeFailure(w, r, http.StatusBadRequest, "Username is required")
		return "", false
	}
	return username, true
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
		log.FieldOperation, op,
		log.FieldError, err,
		log.FieldErrorType, log.ErrorTypeDatabase)
	writeFailure(w, r, http.StatusInternalServerError, "Internal server error")
}

func (s *Server) handleGetIncome(w http.ResponseWriter, r *http.Request) {
	username, ok := s.readUsername(w, r)
	if !ok {
		return
	}
	in, _, err := s.repo.LatestIncome(r.Context(), username)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeFailure(w, r, http.StatusOK, "No income data found")
	case err != nil:
		s.internalError(w, r, "getIncome", err)
	default:
		writeJSON(w, r, http.StatusOK, map[string]any{"success": true, "income": s.incomeBody(in)})
	}
}

func (s *Server) handleGetExpenses(w http.ResponseWriter, r *http.Request) {
	username, ok := s.readUsername(w, r)
	if !ok {
		return
	}
	e, _, err := s.repo.LatestExpenses(r.Context(), username)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeFailure(w, r, http.StatusOK, "No expenses found")
	case err != nil:
		s.internalError(w, r, "getExpenses", err)
	default:
		writeJSON(w, r, http.StatusOK, map[string]any{"success": true, "expenses": s.expensesBody(e)})
	}
}

func (s *Server) handleGetNetTotal(w http.ResponseWriter, r *http.Request) {
	username, ok := s.readUsername(w, r)
	if !ok {
		return
	}
	net, err := s.netTotal(r.Context(), username)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeFailure(w, r, http.StatusOK, "No net total found")
	case err != nil:
		s.internalError(w, r, "getNetTotal", err)
	default:
		writeJSON(w, r, http.StatusOK, map[string]any{"success": true, "net_total": s.amount(net)})
	}
}

// handleGetTotalIncome returns the per-month income totals of the current year.
func (s *Server) handleGetTotalIncome(w http.ResponseWriter, r *http.Request) {
	username, ok := s.readUsername(w, r)
	if !ok {
		return
	}
	points, err := s.incomeTrend(r.Context(), username, s.period().Year)
	if err != nil {
		s.internalError(w, r, "get_total_income", err)
		return
	}
	data := make([]map[string]any, len(points))
	for i, p := range points {
		data[i] = map[string]any{"month": p.Month, "total_income": s.amount(p.TotalIncome)}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"success": true, "data": data})
}

// handleGetTotalExpenses returns the current month's expense total; a month
// without a row totals zero.
func (s *Server) handleGetTotalExpenses(w http.ResponseWriter, r *http.Request) {
	username, ok := s.readUsername(w, r)
	if !ok {
		return
	}
	p := s.period()
	total, err := s.expensesTotal(r.Context(), username, p)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.internalError(w, r, "get_total_expenses", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"success":        true,
		"month":          p.Month,
		"total_expenses": s.amount(total),
	})
}

func (s *Server) handleUpdateIncome(w http.ResponseWriter, r *http.Request) {
	var req updateIncomeRequest
	if err := decodeBody(w, r, &req); err != nil || req.Income == nil {
		writeFailure(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	var in core.Income
	if err := json.Unmarshal(*req.Income, &in); err != nil {
		writeFailure(w, r, http.StatusBadRequest, "Invalid income data")
		return
	}
	s.update(w, r, req.Username, resourceIncome, func(username string) error {
		return s.repo.UpsertIncome(r.Context(), username, s.period(), in)
	})
}

func (s *Server) handleUpdateExpenses(w http.ResponseWriter, r *http.Request) {
	var req updateExpensesRequest
	if err := decodeBody(w, r, &req); err != nil || req.Expenses == nil {
		writeFailure(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	var e core.Expense
	if err := json.Unmarshal(*req.Expenses, &e); err != nil {
		writeFailure(w, r, http.StatusBadRequest, "Invalid expenses data")
		return
	}
	s.update(w, r, req.Username, resourceExpenses, func(username string) error {
		return s.repo.UpsertExpenses(r.Context(), username, s.period(), e)
	})
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, username, resource string, save func(string) error) {
	ctx := r.Context()
	username = strings.TrimSpace(username)
	if username == "" {
		writeFailure(w, r, http.StatusBadRequest, "Username is required")
		return
	}

	exists, err := s.repo.UserExists(ctx, username)
	if err != nil {
		s.internalError(w, r, "update_"+resource, err)
		return
	}
	if !exists {
		writeFailure(w, r, http.StatusNotFound, "User not found")
		return
	}

	if err := save(username); err != nil {
		s.internalError(w, r, "update_"+resource, err)
		return
	}
	s.invalidate(username)

	log.FromContext(ctx).InfoContext(ctx, "Ledger updated",
		log.FieldUsername, username,
		log.FieldResource, resource)
	s.publish(ctx, username, resource)
	writeJSON(w, r, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]any{}
	status, code := "ready", http.StatusOK
	if err := s.repo.Ping(r.Context()); err != nil {
		checks["database"] = "failed: " + err.Error()
		status, code = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}
	rl := s.limiter.GetMetrics()
	checks["rate_limiter"] = map[string]any{"active_clients": rl.ClientCount, "limited": rl.TotalHits}
	checks["events"] = s.publisher != nil
	tm := s.tracer.GetMetrics()
	checks["requests"] = map[string]any{
		"total":          tm.TotalRequests,
		"server_errors":  tm.ServerErrors,
		"avg_latency_us": tm.AverageResponseTime,
	}
	if s.trends != nil {
		hits, misses := s.CacheStats()
		checks["cache"] = map[string]any{
			"entries": s.trends.Size() + s.totals.Size(),
			"hits":    hits,
			"misses":  misses,
		}
	}

	writeJSON(w, r, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}
