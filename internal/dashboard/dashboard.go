// Package dashboard derives display data from a finance snapshot: the
// expense pie slices, the income trend line and the net total banner.
package dashboard

import (
	"fmt"
	"math"

	"moneymind/internal/core"
	"moneymind/internal/finance"
)

const (
	// TrendTicks is the number of y-axis labels on the income trend.
	TrendTicks = 5

	NoTrendData     = "No data available"
	TrendLoading    = "Loading income trend..."
	NetTotalLoading = "Calculating net total..."
)

// SliceColors cycle over the pie slices in order.
var SliceColors = []string{"red", "green", "blue", "orange", "purple", "brown"}

// Slice is one pie wedge, in degrees.
type Slice struct {
	Label      string
	Value      float64
	StartAngle float64
	EndAngle   float64
	Color      string
}

// ExpenseSlices splits the six expense categories into pie wedges. Slice i
// spans 360*prefix(i)/total to 360*prefix(i+1)/total. A zero total yields
// zero-width slices.
func ExpenseSlices(e core.Expense) []Slice {
	values := []struct {
		label string
		value float64
	}{
		{"Rent", e.Rent},
		{"Groceries", e.Groceries},
		{"Utilities", e.Utilities},
		{"Insurance", e.Insurance},
		{"Gas", e.Gas},
		{"Misc", e.Miscellaneous},
	}

	total := e.Total()
	angle := func(prefix float64) float64 {
		if total == 0 {
			return 0
		}
		return prefix / total * 360
	}

	slices := make([]Slice, len(values))
	prefix := 0.0
	for i, v := range values {
		start := angle(prefix)
		prefix += v.value
		slices[i] = Slice{
			Label:      v.label,
			Value:      v.value,
			StartAngle: start,
			EndAngle:   angle(prefix),
			Color:      SliceColors[i%len(SliceColors)],
		}
	}
	return slices
}

// TrendPoint is one income point scaled to the unit square. X runs from 0
// (first point) to 1 (last point); Y is the value over the series maximum.
type TrendPoint struct {
	Label string
	Month int
	Value float64
	X     float64
	Y     float64
}

type Trend struct {
	Points []TrendPoint
	// Ticks are the y-axis labels, from the maximum down to zero.
	Ticks   []int
	Max     float64
	Message string
}

// Empty reports whether there is nothing to plot.
func (t Trend) Empty() bool { return len(t.Points) == 0 }

// IncomeTrend lays out the series in server order. A nil series has not
// been fetched yet; an empty one has no data.
func IncomeTrend(series []core.MonthlyIncomePoint) Trend {
	if series == nil {
		return Trend{Message: TrendLoading}
	}
	if len(series) == 0 {
		return Trend{Message: NoTrendData}
	}

	maxValue := math.Inf(-1)
	for _, p := range series {
		maxValue = math.Max(maxValue, p.TotalIncome)
	}

	t := Trend{Max: maxValue, Points: make([]TrendPoint, len(series))}
	for i, p := range series {
		x := 0.0
		if len(series) > 1 {
			x = float64(i) / float64(len(series)-1)
		}
		y := 0.0
		if maxValue > 0 {
			y = p.TotalIncome / maxValue
		}
		t.Points[i] = TrendPoint{
			Label: fmt.Sprintf("Month %d", p.Month),
			Month: p.Month,
			Value: p.TotalIncome,
			X:     x,
			Y:     y,
		}
	}

	t.Ticks = make([]int, TrendTicks)
	for i := range t.Ticks {
		t.Ticks[i] = int(maxValue - maxValue/float64(TrendTicks-1)*float64(i))
	}
	return t
}

// Net is the net total banner.
type Net struct {
	Text    string
	Gain    bool
	Pending bool
}

// NetTotal formats the net total with two decimals. Zero counts as a gain.
func NetTotal(v *float64) Net {
	if v == nil {
		return Net{Text: NetTotalLoading, Pending: true}
	}
	return Net{Text: fmt.Sprintf("Net Total: $%.2f", *v), Gain: *v >= 0}
}

// View is everything the dashboard screen shows.
type View struct {
	Username         string
	Income           core.Income
	IncomeTotal      float64
	Expenses         core.Expense
	ExpenseTotal     float64
	IncomeForMonth   *core.MonthTotal
	ExpensesForMonth *core.MonthTotal
	Slices           []Slice
	Trend            Trend
	Net              Net
	IsSaving         bool
	ErrorMessage     string
}

// Build derives the view from a store snapshot. Missing income or expenses
// display as zeros.
func Build(username string, st finance.State) View {
	var (
		income   core.Income
		expenses core.Expense
	)
	if st.Income != nil {
		income = *st.Income
	}
	if st.Expenses != nil {
		expenses = *st.Expenses
	}
	return View{
		Username:         username,
		Income:           income,
		IncomeTotal:      income.Total(),
		Expenses:         expenses,
		ExpenseTotal:     expenses.Total(),
		IncomeForMonth:   st.Totals.IncomeForMonth,
		ExpensesForMonth: st.Totals.ExpensesForMonth,
		Slices:           ExpenseSlices(expenses),
		Trend:            IncomeTrend(st.IncomeTrend),
		Net:              NetTotal(st.Totals.NetTotal),
		IsSaving:         st.IsSaving,
		ErrorMessage:     st.ErrorMessage,
	}
}
