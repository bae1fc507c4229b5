// Package storage persists users and monthly income and expense rows for the
// development backend.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"moneymind/internal/core"
	"moneymind/internal/log"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNotFound           = errors.New("not found")
)

// Period identifies one calendar month.
type Period struct {
	Year  int
	Month int
}

func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: int(t.Month())}
}

type SQLiteRepository struct {
	db     *sql.DB
	logger *log.Logger
}

func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time avoids SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger = logger.WithComponent(log.ComponentStorage)
	logger.Debug("Database schema ready", log.FieldOperation, log.OpMigrate, "version", version)
	return &SQLiteRepository{db: db, logger: logger}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CreateUser stores the user with a bcrypt password hash and seeds zeroed
// income and expense rows for p.
func (r *SQLiteRepository) CreateUser(ctx context.Context, c core.Credentials, p Period) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, email, first_name, last_name)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT(username) DO NOTHING`,
		c.Username, string(hash), c.Email, c.FirstName, c.LastName)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserExists
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO income (username, year, month) VALUES (?, ?, ?)`,
		c.Username, p.Year, p.Month); err != nil {
		return fmt.Errorf("seed income: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO expenses (username, year, month) VALUES (?, ?, ?)`,
		c.Username, p.Year, p.Month); err != nil {
		return fmt.Errorf("seed expenses: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit user: %w", err)
	}

	r.logger.InfoContext(ctx, "User created", log.FieldUsername, c.Username)
	return nil
}

// Authenticate returns ErrInvalidCredentials for an unknown user or a wrong
// password alike.
func (r *SQLiteRepository) Authenticate(ctx context.Context, username, password string) error {
	var hash string
	err := r.db.QueryRowContext(ctx,
		`SELECT password_hash FROM users WHERE username = ?`, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("query user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// ListUsernames returns every registered username in sorted order.
func (r *SQLiteRepository) ListUsernames(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT username FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("query usernames: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan username: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UserExists(ctx context.Context, username string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE username = ?`, username).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query user: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) UpsertIncome(ctx context.Context, username string, p Period, in core.Income) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO income (username, year, month, job_cents, real_estate_cents, investments_cents, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(username, year, month) DO UPDATE SET
		   job_cents = excluded.job_cents,
		   real_estate_cents = excluded.real_estate_cents,
		   investments_cents = excluded.investments_cents,
		   updated_at = CURRENT_TIMESTAMP`,
		username, p.Year, p.Month, toCents(in.Job), toCents(in.RealEstate), toCents(in.Investments))
	if err != nil {
		return fmt.Errorf("upsert income: %w", err)
	}
	r.logger.DebugContext(ctx, "Income saved", log.FieldUsername, username, log.FieldMonth, p.Month)
	return nil
}

func (r *SQLiteRepository) UpsertExpenses(ctx context.Context, username string, p Period, e core.Expense) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO expenses (username, year, month, rent_cents, groceries_cents, utilities_cents,
		   insurance_cents, gas_cents, miscellaneous_cents, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(username, year, month) DO UPDATE SET
		   rent_cents = excluded.rent_cents,
		   groceries_cents = excluded.groceries_cents,
		   utilities_cents = excluded.utilities_cents,
		   insurance_cents = excluded.insurance_cents,
		   gas_cents = excluded.gas_cents,
		   miscellaneous_cents = excluded.miscellaneous_cents,
		   updated_at = CURRENT_TIMESTAMP`,
		username, p.Year, p.Month,
		toCents(e.Rent), toCents(e.Groceries), toCents(e.Utilities),
		toCents(e.Insurance), toCents(e.Gas), toCents(e.Miscellaneous))
	if err != nil {
		return fmt.Errorf("upsert expenses: %w", err)
	}
	r.logger.DebugContext(ctx, "Expenses saved", log.FieldUsername, username, log.FieldMonth, p.Month)
	return nil
}

// LatestIncome returns the most recent month's income row.
func (r *SQLiteRepository) LatestIncome(ctx context.Context, username string) (core.Income, Period, error) {
	var (
		p            Period
		job, re, inv int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT year, month, job_cents, real_estate_cents, investments_cents
		 FROM income WHERE username = ? ORDER BY year DESC, month DESC LIMIT 1`,
		username).Scan(&p.Year, &p.Month, &job, &re, &inv)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Income{}, Period{}, ErrNotFound
	}
	if err != nil {
		return core.Income{}, Period{}, fmt.Errorf("query income: %w", err)
	}
	return core.Income{Job: fromCents(job), RealEstate: fromCents(re), Investments: fromCents(inv)}, p, nil
}

// LatestExpenses returns the most recent month's expense row.
func (r *SQLiteRepository) LatestExpenses(ctx context.Context, username string) (core.Expense, Period, error) {
	var (
		p                     Period
		rent, groc, util, ins int64
		gas, misc             int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT year, month, rent_cents, groceries_cents, utilities_cents,
		   insurance_cents, gas_cents, miscellaneous_cents
		 FROM expenses WHERE username = ? ORDER BY year DESC, month DESC LIMIT 1`,
		username).Scan(&p.Year, &p.Month, &rent, &groc, &util, &ins, &gas, &misc)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, Period{}, ErrNotFound
	}
	if err != nil {
		return core.Expense{}, Period{}, fmt.Errorf("query expenses: %w", err)
	}
	return core.Expense{
		Rent:          fromCents(rent),
		Groceries:     fromCents(groc),
		Utilities:     fromCents(util),
		Insurance:     fromCents(ins),
		Gas:           fromCents(gas),
		Miscellaneous: fromCents(misc),
	}, p, nil
}

// IncomeTotalsByMonth returns the user's income total per month of year,
// ordered by month.
func (r *SQLiteRepository) IncomeTotalsByMonth(ctx context.Context, username string, year int) ([]core.MonthlyIncomePoint, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT month, job_cents + real_estate_cents + investments_cents
		 FROM income WHERE username = ? AND year = ? ORDER BY month`,
		username, year)
	if err != nil {
		return nil, fmt.Errorf("query income totals: %w", err)
	}
	defer rows.Close()

	out := []core.MonthlyIncomePoint{}
	for rows.Next() {
		var (
			month int
			cents int64
		)
		if err := rows.Scan(&month, &cents); err != nil {
			return nil, fmt.Errorf("scan income total: %w", err)
		}
		out = append(out, core.MonthlyIncomePoint{Month: month, TotalIncome: fromCents(cents)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate income totals: %w", err)
	}
	return out, nil
}

// ExpensesTotal returns the sum of the user's expenses for p.
func (r *SQLiteRepository) ExpensesTotal(ctx context.Context, username string, p Period) (float64, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx,
		`SELECT rent_cents + groceries_cents + utilities_cents + insurance_cents + gas_cents + miscellaneous_cents
		 FROM expenses WHERE username = ? AND year = ? AND month = ?`,
		username, p.Year, p.Month).Scan(&cents)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query expenses total: %w", err)
	}
	return fromCents(cents), nil
}

// NetTotal is the latest income total minus the latest expense total. A
// missing side counts as zero; ErrNotFound when both are missing.
func (r *SQLiteRepository) NetTotal(ctx context.Context, username string) (float64, error) {
	in, _, inErr := r.LatestIncome(ctx, username)
	if inErr != nil && !errors.Is(inErr, ErrNotFound) {
		return 0, inErr
	}
	ex, _, exErr := r.LatestExpenses(ctx, username)
	if exErr != nil && !errors.Is(exErr, ErrNotFound) {
		return 0, exErr
	}
	if inErr != nil && exErr != nil {
		return 0, ErrNotFound
	}
	return fromCents(toCents(in.Total()) - toCents(ex.Total())), nil
}

func toCents(v float64) int64 {
	return int64(math.Round(v * 100))
}

func fromCents(c int64) float64 {
	return float64(c) / 100
}
