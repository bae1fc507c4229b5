package core

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownField = errors.New("unknown field")

// IncomeFields and ExpenseFields list the editable fields in display order.
var (
	IncomeFields  = []string{"job", "real_estate", "investments"}
	ExpenseFields = []string{"rent", "groceries", "utilities", "insurance", "gas", "miscellaneous"}
)

// IncomeDraft is a locally edited copy of an Income, owned by the
// presentation layer until it is committed.
type IncomeDraft struct {
	base  Income
	value Income
}

// NewIncomeDraft starts a draft from the current snapshot. A nil snapshot
// starts from zero.
func NewIncomeDraft(current *Income) *IncomeDraft {
	d := &IncomeDraft{}
	if current != nil {
		d.base = *current
		d.value = *current
	}
	return d
}

// Set parses text into the named field. Numeric parsing is the only
// validation applied.
func (d *IncomeDraft) Set(field, text string) error {
	v, err := ParseAmount(text)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	switch fieldKey(field) {
	case "job":
		d.value.Job = v
	case "realestate":
		d.value.RealEstate = v
	case "investments":
		d.value.Investments = v
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

func (d *IncomeDraft) Value() Income  { return d.value }
func (d *IncomeDraft) Modified() bool { return d.value != d.base }

// Reset discards the edits.
func (d *IncomeDraft) Reset() { d.value = d.base }

// ExpenseDraft is the Expense counterpart of IncomeDraft.
type ExpenseDraft struct {
	base  Expense
	value Expense
}

func NewExpenseDraft(current *Expense) *ExpenseDraft {
	d := &ExpenseDraft{}
	if current != nil {
		d.base = *current
		d.value = *current
	}
	return d
}

func (d *ExpenseDraft) Set(field, text string) error {
	v, err := ParseAmount(text)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	switch fieldKey(field) {
	case "rent":
		d.value.Rent = v
	case "groceries":
		d.value.Groceries = v
	case "utilities":
		d.value.Utilities = v
	case "insurance":
		d.value.Insurance = v
	case "gas":
		d.value.Gas = v
	case "miscellaneous", "misc":
		d.value.Miscellaneous = v
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

func (d *ExpenseDraft) Value() Expense { return d.value }
func (d *ExpenseDraft) Modified() bool { return d.value != d.base }
func (d *ExpenseDraft) Reset()         { d.value = d.base }

func fieldKey(field string) string {
	return normalizeKey(strings.ReplaceAll(strings.TrimSpace(field), "-", ""))
}
