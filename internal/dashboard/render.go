package dashboard

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

const barWidth = 30

// Render writes the view as plain text for terminals.
func Render(w io.Writer, v View) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Dashboard for %s\n", v.Username)
	if v.ErrorMessage != "" {
		fmt.Fprintf(tw, "! %s\n", v.ErrorMessage)
	}
	if v.IsSaving {
		fmt.Fprintln(tw, "Saving...")
	}
	fmt.Fprintf(tw, "%s\n\n", v.Net.Text)

	fmt.Fprintln(tw, "Income\t")
	fmt.Fprintf(tw, "  Job\t%.2f\n", v.Income.Job)
	fmt.Fprintf(tw, "  Real estate\t%.2f\n", v.Income.RealEstate)
	fmt.Fprintf(tw, "  Investments\t%.2f\n", v.Income.Investments)
	fmt.Fprintf(tw, "  Total\t%.2f\n", v.IncomeTotal)
	if v.IncomeForMonth != nil {
		fmt.Fprintf(tw, "  Month %d\t%.2f\n", v.IncomeForMonth.Month, v.IncomeForMonth.Total)
	}
	fmt.Fprintln(tw, "\t")

	fmt.Fprintln(tw, "Expenses Breakdown\t")
	for _, s := range v.Slices {
		fmt.Fprintf(tw, "  %s\t%.2f\t%5.1f%%\t%s\n", s.Label, s.Value, (s.EndAngle-s.StartAngle)/3.6, s.Color)
	}
	fmt.Fprintf(tw, "  Total\t%.2f\n", v.ExpenseTotal)
	if v.ExpensesForMonth != nil {
		fmt.Fprintf(tw, "  Month %d\t%.2f\n", v.ExpensesForMonth.Month, v.ExpensesForMonth.Total)
	}
	fmt.Fprintln(tw, "\t")

	fmt.Fprintln(tw, "Income Trend\t")
	if v.Trend.Empty() {
		fmt.Fprintf(tw, "  %s\n", v.Trend.Message)
	} else {
		for _, p := range v.Trend.Points {
			fmt.Fprintf(tw, "  %s\t%.2f\t%s\n", p.Label, p.Value, strings.Repeat("#", int(p.Y*barWidth+0.5)))
		}
	}
	return tw.Flush()
}
