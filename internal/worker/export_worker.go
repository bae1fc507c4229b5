// Package worker exports dashboard snapshots server-side, driven by ledger
// change events.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"moneymind/internal/core"
	"moneymind/internal/events"
	"moneymind/internal/export"
	"moneymind/internal/finance"
	"moneymind/internal/log"
	"moneymind/internal/storage"
)

// Ledger is the read side of the development database the worker needs.
// *storage.SQLiteRepository implements it.
type Ledger interface {
	UserExists(ctx context.Context, username string) (bool, error)
	ListUsernames(ctx context.Context) ([]string, error)
	LatestIncome(ctx context.Context, username string) (core.Income, storage.Period, error)
	LatestExpenses(ctx context.Context, username string) (core.Expense, storage.Period, error)
	ExpensesTotal(ctx context.Context, username string, p storage.Period) (float64, error)
	NetTotal(ctx context.Context, username string) (float64, error)
}

var _ Ledger = (*storage.SQLiteRepository)(nil)

// ExportWorker appends one snapshot row per ledger change.
type ExportWorker struct {
	ledger   Ledger
	exporter export.SnapshotWriter
	logger   *log.Logger
	now      func() time.Time
}

func NewExportWorker(ledger Ledger, exporter export.SnapshotWriter, logger *log.Logger, now func() time.Time) *ExportWorker {
	if logger == nil {
		logger = log.Discard()
	}
	if now == nil {
		now = time.Now
	}
	return &ExportWorker{
		ledger:   ledger,
		exporter: exporter,
		logger:   logger.WithComponent(log.ComponentExport),
		now:      now,
	}
}

// HandleLedgerChanged exports a fresh snapshot for the message's user. A
// user that no longer exists is skipped; other failures are returned so
// the message is redelivered.
func (w *ExportWorker) HandleLedgerChanged(ctx context.Context, msg *events.LedgerChanged) error {
	w.logger.InfoContext(ctx, "Processing ledger change",
		log.FieldUsername, msg.Username,
		log.FieldResource, msg.Resource,
		"event_time", msg.Timestamp)

	exists, err := w.ledger.UserExists(ctx, msg.Username)
	if err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if !exists {
		w.logger.WarnContext(ctx, "Skipping ledger change for unknown user",
			log.FieldUsername, msg.Username)
		return nil
	}

	_, err = w.Export(ctx, msg.Username)
	return err
}

// Export builds username's snapshot from the ledger and appends it.
func (w *ExportWorker) Export(ctx context.Context, username string) (string, error) {
	row, err := w.Snapshot(ctx, username)
	if err != nil {
		return "", err
	}
	ref, err := w.exporter.Append(ctx, row)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to export snapshot",
			log.FieldUsername, username,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeNetwork)
		return "", fmt.Errorf("append snapshot: %w", err)
	}
	w.logger.InfoContext(ctx, "Exported snapshot",
		log.FieldOperation, log.OpExport,
		log.FieldUsername, username,
		log.FieldMonth, row.Month,
		log.FieldRef, ref)
	return ref, nil
}

// Snapshot reads the same values the dashboard shows: latest income and
// expenses, the net total and the expense total of the latest month.
func (w *ExportWorker) Snapshot(ctx context.Context, username string) (export.Row, error) {
	var st finance.State

	in, _, err := w.ledger.LatestIncome(ctx, username)
	switch {
	case err == nil:
		st.Income = &in
	case !errors.Is(err, storage.ErrNotFound):
		return export.Row{}, fmt.Errorf("read income: %w", err)
	}

	e, p, err := w.ledger.LatestExpenses(ctx, username)
	switch {
	case err == nil:
		st.Expenses = &e
		total, err := w.ledger.ExpensesTotal(ctx, username, p)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return export.Row{}, fmt.Errorf("read expenses total: %w", err)
		}
		st.Totals.ExpensesForMonth = &core.MonthTotal{Month: p.Month, Total: total}
	case !errors.Is(err, storage.ErrNotFound):
		return export.Row{}, fmt.Errorf("read expenses: %w", err)
	}

	net, err := w.ledger.NetTotal(ctx, username)
	switch {
	case err == nil:
		st.Totals.NetTotal = &net
	case !errors.Is(err, storage.ErrNotFound):
		return export.Row{}, fmt.Errorf("read net total: %w", err)
	}

	return export.RowFromState(username, st, w.now().UTC()), nil
}

// ExportAll exports every registered user once. It keeps going past
// per-user failures and reports them joined.
func (w *ExportWorker) ExportAll(ctx context.Context) (int, error) {
	usernames, err := w.ledger.ListUsernames(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	if len(usernames) == 0 {
		w.logger.InfoContext(ctx, "No users to export")
		return 0, nil
	}

	var errs []error
	exported := 0
	for _, u := range usernames {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := w.Export(ctx, u); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
			continue
		}
		exported++
	}

	w.logger.InfoContext(ctx, "Bulk export completed",
		"total", len(usernames),
		"exported", exported,
		"errors", len(errs))
	return exported, errors.Join(errs...)
}
