package devserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"moneymind/internal/core"
	"moneymind/internal/log"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to encode response", log.FieldError, err)
	}
}

func writeFailure(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, r, status, map[string]any{"success": false, "message": message})
}

// decodeBody reads a JSON request body of at most maxBodyBytes.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return errors.New("content type must be application/json")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return nil
}

// amount renders a value the way the configured backend flavor does.
func (s *Server) amount(v float64) any {
	if s.stringNumbers {
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
	return v
}

func (s *Server) incomeBody(in core.Income) map[string]any {
	return map[string]any{
		"Job":         s.amount(in.Job),
		"RealEstate":  s.amount(in.RealEstate),
		"Investments": s.amount(in.Investments),
	}
}

func (s *Server) expensesBody(e core.Expense) map[string]any {
	return map[string]any{
		"rent":          s.amount(e.Rent),
		"groceries":     s.amount(e.Groceries),
		"utilities":     s.amount(e.Utilities),
		"insurance":     s.amount(e.Insurance),
		"gas":           s.amount(e.Gas),
		"miscellaneous": s.amount(e.Miscellaneous),
	}
}
