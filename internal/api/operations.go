package api

import (
	"context"

	"moneymind/internal/core"
)

// Operation names used in logs and error messages.
const (
	OpRegister         = "register"
	OpLogin            = "login"
	OpGetExpenses      = "getExpenses"
	OpUpdateExpenses   = "updateExpenses"
	OpGetIncome        = "getIncome"
	OpUpdateIncome     = "updateIncome"
	OpGetNetTotal      = "getNetTotal"
	OpGetTotalIncome   = "get_total_income"
	OpGetTotalExpenses = "get_total_expenses"
)

type (
	authRequest struct {
		Action    string `json:"action"`
		Username  string `json:"username"`
		Password  string `json:"password"`
		Email     string `json:"email,omitempty"`
		FirstName string `json:"first_name,omitempty"`
		LastName  string `json:"last_name,omitempty"`
	}

	usernameRequest struct {
		Username string `json:"username"`
	}

	updateIncomeRequest struct {
		Username string      `json:"username"`
		Income   core.Income `json:"income"`
	}

	updateExpensesRequest struct {
		Username string       `json:"username"`
		Expenses core.Expense `json:"expenses"`
	}

	statusEnvelope struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
	}

	expensesEnvelope struct {
		Success  *bool         `json:"success"`
		Expenses *core.Expense `json:"expenses"`
	}

	incomeEnvelope struct {
		Success *bool        `json:"success"`
		Income  *core.Income `json:"income"`
	}

	netTotalEnvelope struct {
		Success  *bool        `json:"success"`
		NetTotal *core.Amount `json:"net_total"`
	}

	incomeTrendEnvelope struct {
		Success *bool                     `json:"success"`
		Data    []core.MonthlyIncomePoint `json:"data"`
	}

	expensesTotalEnvelope struct {
		Success       *bool        `json:"success"`
		Month         core.Count   `json:"month"`
		TotalExpenses *core.Amount `json:"total_expenses"`
	}
)

// RegisterAck is the outcome of a transport-successful registration. Success
// is nil when the body carried no success flag.
type RegisterAck struct {
	Status  int
	Success *bool
	Message string
}

// Register sends the registration action. Transport failures and non-2xx
// statuses are errors; whether a 2xx body with success:false counts as a
// rejection is left to the caller.
func (c *Client) Register(ctx context.Context, cred core.Credentials) (RegisterAck, error) {
	r, err := c.post(ctx, OpRegister, c.paths.Auth, authRequest{
		Action:    "register",
		Username:  cred.Username,
		Password:  cred.Password,
		Email:     cred.Email,
		FirstName: cred.FirstName,
		LastName:  cred.LastName,
	}, true)
	if err != nil {
		return RegisterAck{}, err
	}
	if !is2xx(r.status) {
		err := &StatusError{Code: r.status}
		c.logFailure(ctx, OpRegister, err)
		return RegisterAck{Status: r.status}, err
	}

	ack := RegisterAck{Status: r.status}
	var env statusEnvelope
	if decode(OpRegister, r, &env, func(e *statusEnvelope) *bool { return e.Success }) == nil {
		ack.Success = env.Success
		ack.Message = env.Message
	}
	return ack, nil
}

// Login sends the login action. The body's success flag is authoritative
// regardless of HTTP status; success:false yields a *RejectedError carrying
// the server message verbatim.
func (c *Client) Login(ctx context.Context, username, password string) error {
	r, err := c.post(ctx, OpLogin, c.paths.Auth, authRequest{
		Action:   "login",
		Username: username,
		Password: password,
	}, true)
	if err != nil {
		return err
	}

	var env statusEnvelope
	if err := decode(OpLogin, r, &env, func(e *statusEnvelope) *bool { return e.Success }); err != nil {
		c.logFailure(ctx, OpLogin, err)
		return err
	}
	if !*env.Success {
		return &RejectedError{Op: OpLogin, Message: env.Message}
	}
	return nil
}

func (c *Client) GetExpenses(ctx context.Context, username string) (core.Expense, error) {
	r, err := c.post(ctx, OpGetExpenses, c.paths.GetExpenses, usernameRequest{username}, false)
	if err != nil {
		return core.Expense{}, err
	}
	var env expensesEnvelope
	if err := decode(OpGetExpenses, r, &env, func(e *expensesEnvelope) *bool { return e.Success }); err != nil {
		c.logFailure(ctx, OpGetExpenses, err)
		return core.Expense{}, err
	}
	if !*env.Success || env.Expenses == nil {
		return core.Expense{}, &NotFoundError{Resource: "expenses", Message: "No expenses found"}
	}
	return *env.Expenses, nil
}

func (c *Client) GetIncome(ctx context.Context, username string) (core.Income, error) {
	r, err := c.post(ctx, OpGetIncome, c.paths.GetIncome, usernameRequest{username}, false)
	if err != nil {
		return core.Income{}, err
	}
	var env incomeEnvelope
	if err := decode(OpGetIncome, r, &env, func(e *incomeEnvelope) *bool { return e.Success }); err != nil {
		c.logFailure(ctx, OpGetIncome, err)
		return core.Income{}, err
	}
	if !*env.Success || env.Income == nil {
		return core.Income{}, &NotFoundError{Resource: "income", Message: "No income data found"}
	}
	return *env.Income, nil
}

// UpdateExpenses sends the full expense record.
func (c *Client) UpdateExpenses(ctx context.Context, username string, e core.Expense) error {
	return c.update(ctx, OpUpdateExpenses, c.paths.UpdateExpenses,
		updateExpensesRequest{Username: username, Expenses: e}, "Failed to update expenses")
}

// UpdateIncome sends the full income record.
func (c *Client) UpdateIncome(ctx context.Context, username string, i core.Income) error {
	return c.update(ctx, OpUpdateIncome, c.paths.UpdateIncome,
		updateIncomeRequest{Username: username, Income: i}, "Failed to update income")
}

// update parses the loose {success} acknowledgement. Extra keys are ignored.
func (c *Client) update(ctx context.Context, op, path string, body any, failure string) error {
	r, err := c.post(ctx, op, path, body, false)
	if err != nil {
		return err
	}
	var env statusEnvelope
	if err := decode(op, r, &env, func(e *statusEnvelope) *bool { return e.Success }); err != nil {
		c.logFailure(ctx, op, err)
		return err
	}
	if !*env.Success {
		return &RejectedError{Op: op, Message: failure}
	}
	return nil
}

func (c *Client) GetNetTotal(ctx context.Context, username string) (float64, error) {
	r, err := c.post(ctx, OpGetNetTotal, c.paths.GetNetTotal, usernameRequest{username}, false)
	if err != nil {
		return 0, err
	}
	var env netTotalEnvelope
	if err := decode(OpGetNetTotal, r, &env, func(e *netTotalEnvelope) *bool { return e.Success }); err != nil {
		c.logFailure(ctx, OpGetNetTotal, err)
		return 0, err
	}
	if !*env.Success || env.NetTotal == nil {
		return 0, &NotFoundError{Resource: "net_total", Message: "No net total found"}
	}
	return env.NetTotal.Float64(), nil
}

// GetIncomeTrend returns the monthly income series in server order.
func (c *Client) GetIncomeTrend(ctx context.Context, username string) ([]core.MonthlyIncomePoint, error) {
	r, err := c.post(ctx, OpGetTotalIncome, c.paths.GetTotalIncome, usernameRequest{username}, false)
	if err != nil {
		return nil, err
	}
	var env incomeTrendEnvelope
	if err := decode(OpGetTotalIncome, r, &env, func(e *incomeTrendEnvelope) *bool { return e.Success }); err != nil {
		c.logFailure(ctx, OpGetTotalIncome, err)
		return nil, err
	}
	if !*env.Success || env.Data == nil {
		return nil, &NotFoundError{Resource: "income_trend", Message: "No income data found"}
	}
	return env.Data, nil
}

func (c *Client) GetExpensesTotal(ctx context.Context, username string) (core.MonthTotal, error) {
	r, err := c.post(ctx, OpGetTotalExpenses, c.paths.GetTotalExpenses, usernameRequest{username}, false)
	if err != nil {
		return core.MonthTotal{}, err
	}
	var env expensesTotalEnvelope
	if err := decode(OpGetTotalExpenses, r, &env, func(e *expensesTotalEnvelope) *bool { return e.Success }); err != nil {
		c.logFailure(ctx, OpGetTotalExpenses, err)
		return core.MonthTotal{}, err
	}
	if !*env.Success || env.TotalExpenses == nil {
		return core.MonthTotal{}, &NotFoundError{Resource: "expenses_total", Message: "No expense total found"}
	}
	return core.MonthTotal{Month: int(env.Month), Total: env.TotalExpenses.Float64()}, nil
}
