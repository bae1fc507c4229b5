// Package export records dashboard snapshots to an external sink, one row per
// export run.
package export

import (
	"context"
	"errors"
	"strconv"
	"time"

	"moneymind/internal/core"
	"moneymind/internal/finance"
)

var ErrMissingUsername = errors.New("missing username")

// Header names the row columns in order.
var Header = []string{
	"Timestamp", "Username", "Month",
	"Income", "Expenses", "Net",
	"Rent", "Groceries", "Utilities", "Insurance", "Gas", "Miscellaneous",
}

// Row is one exported dashboard snapshot. NetTotal is nil when the server
// total had not been fetched.
type Row struct {
	Timestamp    time.Time
	Username     string
	Month        int
	IncomeTotal  float64
	ExpenseTotal float64
	NetTotal     *float64
	Expenses     core.Expense
}

func (r Row) Validate() error {
	if r.Username == "" {
		return ErrMissingUsername
	}
	return nil
}

// Values returns the row cells in Header order.
func (r Row) Values() []any {
	net := any("")
	if r.NetTotal != nil {
		net = *r.NetTotal
	}
	return []any{
		r.Timestamp.UTC().Format(time.RFC3339),
		r.Username,
		r.Month,
		r.IncomeTotal,
		r.ExpenseTotal,
		net,
		r.Expenses.Rent,
		r.Expenses.Groceries,
		r.Expenses.Utilities,
		r.Expenses.Insurance,
		r.Expenses.Gas,
		r.Expenses.Miscellaneous,
	}
}

// Strings renders the cells as text, for CSV-like sinks and logs.
func (r Row) Strings() []string {
	vals := r.Values()
	out := make([]string, len(vals))
	for i, v := range vals {
		switch x := v.(type) {
		case string:
			out[i] = x
		case int:
			out[i] = strconv.Itoa(x)
		case float64:
			out[i] = strconv.FormatFloat(x, 'f', 2, 64)
		}
	}
	return out
}

// RowFromState builds the export row for username from a store snapshot.
// The month comes from the server totals when known, else from now.
func RowFromState(username string, st finance.State, now time.Time) Row {
	row := Row{
		Timestamp: now,
		Username:  username,
		Month:     int(now.Month()),
	}
	switch {
	case st.Totals.ExpensesForMonth != nil:
		row.Month = st.Totals.ExpensesForMonth.Month
	case st.Totals.IncomeForMonth != nil:
		row.Month = st.Totals.IncomeForMonth.Month
	}
	if st.Income != nil {
		row.IncomeTotal = st.Income.Total()
	}
	if st.Expenses != nil {
		row.Expenses = *st.Expenses
		row.ExpenseTotal = st.Expenses.Total()
	}
	if st.Totals.NetTotal != nil {
		v := *st.Totals.NetTotal
		row.NetTotal = &v
	}
	return row
}

// Ports for outbound adapters.
type (
	SnapshotWriter interface {
		Append(ctx context.Context, r Row) (rowRef string, err error)
	}

	// SnapshotLister returns previously exported rows for a user.
	SnapshotLister interface {
		ListRows(ctx context.Context, username string) ([]Row, error)
	}
)
