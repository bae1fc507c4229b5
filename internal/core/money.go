// Package core provides the finance domain values and the tolerant numeric
// decoding used for every amount the backend sends.
//
// The backend is known to serialize numbers inconsistently: the same field can
// arrive as 12.5, "12.5" or " 12.5 ". Each numeric field is decoded on its own
// (number, then trimmed string, then zero) so one bad field never fails the
// record that contains it.
package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidAmount is returned by ParseAmount for text that is not a finite number.
var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount converts user or wire text into a float64.
//
// Only plain decimal notation is accepted: an optional sign, digits with an
// optional fraction, and an optional exponent ("+5", ".5" and "1e3" parse).
// Surrounding whitespace is ignored. Empty text, digit separators, hex
// literals and non-finite values (NaN, Inf) are rejected.
//
// Examples:
//
//	ParseAmount("1200.50") -> 1200.5, nil
//	ParseAmount("  300 ")  -> 300, nil
//	ParseAmount("-12")     -> -12, nil
//	ParseAmount("1_0")     -> 0, ErrInvalidAmount
//	ParseAmount("0x1p4")   -> 0, ErrInvalidAmount
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || !isDecimal(s) {
		return 0, ErrInvalidAmount
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrInvalidAmount
	}
	return v, nil
}

func isDecimal(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.', r == '+', r == '-', r == 'e', r == 'E':
		default:
			return false
		}
	}
	return true
}

// LooseFloat decodes a single raw JSON value as a number.
//
// A JSON number is used as-is, a JSON string is trimmed and parsed, and
// anything else (null, bool, object, unparsable text, missing value) yields 0.
func LooseFloat(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
		v, err := ParseAmount(s)
		if err != nil {
			return 0
		}
		return v
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return 0
		}
		return v
	default:
		return 0
	}
}

// LooseInt decodes a raw JSON value the same way as LooseFloat and truncates
// the result toward zero.
func LooseInt(raw json.RawMessage) int {
	v := LooseFloat(raw)
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0
	}
	return int(math.Trunc(v))
}

// Amount is a float64 that accepts a JSON number or a numeric JSON string.
// Unparsable values decode to zero instead of failing.
type Amount float64

func (a *Amount) UnmarshalJSON(b []byte) error {
	*a = Amount(LooseFloat(b))
	return nil
}

// Float64 returns the amount as a plain float64.
func (a Amount) Float64() float64 {
	return float64(a)
}

// Count is an int with the same tolerance as Amount, used for month numbers.
type Count int

func (c *Count) UnmarshalJSON(b []byte) error {
	*c = Count(LooseInt(b))
	return nil
}

// normalizeKey folds wire keys so "RealEstate", "real_estate" and
// "realestate" all address the same field.
func normalizeKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "_", ""))
}

// looseObject splits a JSON object into its members keyed by normalized name.
// When two keys normalize to the same name the lexically smaller key wins.
func looseObject(b []byte) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(raw))
	winner := make(map[string]string, len(raw))
	for k, v := range raw {
		nk := normalizeKey(k)
		if prev, ok := winner[nk]; ok && prev < k {
			continue
		}
		winner[nk] = k
		out[nk] = v
	}
	return out, nil
}
