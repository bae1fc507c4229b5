package core

import (
	"encoding/json"
	"errors"
)

type (
	// Credentials is the plain-text input for login and registration.
	Credentials struct {
		Username  string
		Password  string
		Email     string
		FirstName string
		LastName  string
	}

	// Session is the authentication result. Username is empty iff
	// Authenticated is false.
	Session struct {
		Authenticated bool
		Username      string
	}

	// Income is one user's income breakdown.
	Income struct {
		Job         float64
		RealEstate  float64
		Investments float64
	}

	// Expense is one user's expense breakdown.
	Expense struct {
		Rent          float64
		Groceries     float64
		Utilities     float64
		Insurance     float64
		Gas           float64
		Miscellaneous float64
	}

	// MonthlyIncomePoint is one point of the income trend series.
	MonthlyIncomePoint struct {
		Month       int
		TotalIncome float64
	}

	// MonthTotal pairs a server-computed total with the month it covers.
	MonthTotal struct {
		Month int
		Total float64
	}

	// AggregateTotals holds the read-only server-computed summaries. A nil
	// member has not been fetched yet.
	AggregateTotals struct {
		NetTotal         *float64
		IncomeForMonth   *MonthTotal
		ExpensesForMonth *MonthTotal
	}
)

var ErrEmptyUsername = errors.New("empty username")

// NewSession returns an authenticated session for username.
func NewSession(username string) (Session, error) {
	if username == "" {
		return Session{}, ErrEmptyUsername
	}
	return Session{Authenticated: true, Username: username}, nil
}

// Total is always derived from the three sources.
func (i Income) Total() float64 {
	return i.Job + i.RealEstate + i.Investments
}

// Total is always derived from the six categories.
func (e Expense) Total() float64 {
	return e.Rent + e.Groceries + e.Utilities + e.Insurance + e.Gas + e.Miscellaneous
}

// Wire keys. Decoding matches them case-insensitively with underscores
// ignored, so the backend's "RealEstate" and the request's "real_estate"
// both land in RealEstate.
type incomeWire struct {
	Job         float64 `json:"job"`
	RealEstate  float64 `json:"real_estate"`
	Investments float64 `json:"investments"`
}

type expenseWire struct {
	Rent          float64 `json:"rent"`
	Groceries     float64 `json:"groceries"`
	Utilities     float64 `json:"utilities"`
	Insurance     float64 `json:"insurance"`
	Gas           float64 `json:"gas"`
	Miscellaneous float64 `json:"miscellaneous"`
}

func (i Income) MarshalJSON() ([]byte, error) {
	return json.Marshal(incomeWire(i))
}

func (i *Income) UnmarshalJSON(b []byte) error {
	obj, err := looseObject(b)
	if err != nil {
		return err
	}
	*i = Income{
		Job:         LooseFloat(obj["job"]),
		RealEstate:  LooseFloat(obj["realestate"]),
		Investments: LooseFloat(obj["investments"]),
	}
	return nil
}

func (e Expense) MarshalJSON() ([]byte, error) {
	return json.Marshal(expenseWire(e))
}

func (e *Expense) UnmarshalJSON(b []byte) error {
	obj, err := looseObject(b)
	if err != nil {
		return err
	}
	*e = Expense{
		Rent:          LooseFloat(obj["rent"]),
		Groceries:     LooseFloat(obj["groceries"]),
		Utilities:     LooseFloat(obj["utilities"]),
		Insurance:     LooseFloat(obj["insurance"]),
		Gas:           LooseFloat(obj["gas"]),
		Miscellaneous: LooseFloat(obj["miscellaneous"]),
	}
	return nil
}

func (p MonthlyIncomePoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Month       int     `json:"month"`
		TotalIncome float64 `json:"total_income"`
	}{p.Month, p.TotalIncome})
}

func (p *MonthlyIncomePoint) UnmarshalJSON(b []byte) error {
	obj, err := looseObject(b)
	if err != nil {
		return err
	}
	*p = MonthlyIncomePoint{
		Month:       LooseInt(obj["month"]),
		TotalIncome: LooseFloat(obj["totalincome"]),
	}
	return nil
}
