// Package app wires the session gateway and the finance store onto one
// dispatch queue and exposes the flows the command-line client runs.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"moneymind/internal/auth"
	"moneymind/internal/core"
	"moneymind/internal/dashboard"
	"moneymind/internal/dispatch"
	"moneymind/internal/events"
	"moneymind/internal/export"
	"moneymind/internal/finance"
	"moneymind/internal/log"
)

var (
	ErrNotAuthenticated = errors.New("not logged in")
	ErrExportDisabled   = errors.New("no export backend configured")
)

// Client is the backend as both components see it. *api.Client implements it.
type Client interface {
	auth.Client
	finance.Client
}

type Options struct {
	Client         Client
	RegisterPolicy auth.RegisterPolicy
	// Exporter is optional; nil disables Export.
	Exporter export.SnapshotWriter
	Logger   *log.Logger
	Now      func() time.Time
}

type App struct {
	queue    *dispatch.Queue
	auth     *auth.Gateway
	finance  *finance.Store
	exporter export.SnapshotWriter
	logger   *log.Logger
	now      func() time.Time
}

func New(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	policy := opts.RegisterPolicy
	if policy == "" {
		policy = auth.PolicyBody
	}

	queue := dispatch.NewQueue(64, logger)
	return &App{
		queue:    queue,
		auth:     auth.NewGateway(opts.Client, queue, policy, logger),
		finance:  finance.NewStore(opts.Client, queue, logger),
		exporter: opts.Exporter,
		logger:   logger.WithComponent(log.ComponentApp),
		now:      now,
	}
}

// Close stops the dispatch queue. The app is unusable afterwards.
func (a *App) Close() {
	a.queue.Close()
}

func (a *App) Auth() *auth.Gateway     { return a.auth }
func (a *App) Finance() *finance.Store { return a.finance }

// Username returns the logged-in user, or "" when logged out.
func (a *App) Username() string {
	return a.auth.Snapshot().Session.Username
}

func (a *App) requireUser() (string, error) {
	username := a.Username()
	if username == "" {
		return "", ErrNotAuthenticated
	}
	return username, nil
}

// Register creates the account, logs in as it and refreshes the dashboard.
// A refresh failure is returned alongside the authenticated session.
func (a *App) Register(ctx context.Context, cred core.Credentials) (core.Session, error) {
	session, err := a.auth.Register(ctx, cred)
	if err != nil {
		return session, err
	}
	return session, a.afterLogin(ctx, session)
}

// Login authenticates and refreshes the dashboard. A refresh failure is
// returned alongside the authenticated session.
func (a *App) Login(ctx context.Context, username, password string) (core.Session, error) {
	session, err := a.auth.Login(ctx, username, password)
	if err != nil {
		return session, err
	}
	return session, a.afterLogin(ctx, session)
}

func (a *App) afterLogin(ctx context.Context, session core.Session) error {
	// Drop a previous user's snapshot before loading this one.
	if err := a.finance.Reset(); err != nil {
		return err
	}
	return a.finance.RefreshDashboard(ctx, session.Username)
}

// Logout ends the session locally and clears the finance snapshot.
func (a *App) Logout() error {
	return errors.Join(a.auth.Logout(), a.finance.Reset())
}

// Refresh re-runs the dashboard fetches for the logged-in user.
func (a *App) Refresh(ctx context.Context) error {
	username, err := a.requireUser()
	if err != nil {
		return err
	}
	return a.finance.RefreshDashboard(ctx, username)
}

// EditIncome applies field=value edits on top of the current income and
// sends the result. Unparsable values are rejected before anything is sent.
func (a *App) EditIncome(ctx context.Context, fields map[string]string) error {
	username, err := a.requireUser()
	if err != nil {
		return err
	}
	d := core.NewIncomeDraft(a.finance.Snapshot().Income)
	if err := setFields(d, fields); err != nil {
		return errors.Join(err, a.finance.SetError(err.Error()))
	}
	return a.finance.CommitIncomeDraft(ctx, username, d)
}

// EditExpenses is EditIncome for the expense categories.
func (a *App) EditExpenses(ctx context.Context, fields map[string]string) error {
	username, err := a.requireUser()
	if err != nil {
		return err
	}
	d := core.NewExpenseDraft(a.finance.Snapshot().Expenses)
	if err := setFields(d, fields); err != nil {
		return errors.Join(err, a.finance.SetError(err.Error()))
	}
	return a.finance.CommitExpenseDraft(ctx, username, d)
}

// setFields applies every edit to d, stopping at the first invalid one.
func setFields(d interface{ Set(field, text string) error }, fields map[string]string) error {
	for field, text := range fields {
		if err := d.Set(field, text); err != nil {
			return err
		}
	}
	return nil
}

// Dashboard derives the presentation view from the current snapshot.
func (a *App) Dashboard() dashboard.View {
	return dashboard.Build(a.Username(), a.finance.Snapshot())
}

// Export appends the current dashboard snapshot to the export sink and
// returns the sink's row reference.
func (a *App) Export(ctx context.Context) (string, error) {
	if a.exporter == nil {
		return "", ErrExportDisabled
	}
	username, err := a.requireUser()
	if err != nil {
		return "", err
	}

	row := export.RowFromState(username, a.finance.Snapshot(), a.now())
	ref, err := a.exporter.Append(ctx, row)
	if err != nil {
		a.logger.ErrorContext(ctx, "Export failed",
			log.FieldOperation, log.OpExport,
			log.FieldUsername, username,
			log.FieldError, err)
		return "", fmt.Errorf("export snapshot: %w", err)
	}
	a.logger.InfoContext(ctx, "Snapshot exported",
		log.FieldOperation, log.OpExport,
		log.FieldUsername, username,
		log.FieldRef, ref)
	return ref, nil
}

// HandleLedgerChange refreshes the dashboard when msg concerns the
// logged-in user and ignores it otherwise. Refresh failures land in the
// store's error message and are not returned, so the message is not requeued.
func (a *App) HandleLedgerChange(ctx context.Context, msg *events.LedgerChanged) error {
	username := a.Username()
	if username == "" || msg.Username != username {
		return nil
	}
	a.logger.DebugContext(ctx, "Ledger changed, refreshing",
		log.FieldOperation, log.OpConsume,
		log.FieldUsername, username,
		log.FieldResource, msg.Resource)
	if err := a.finance.RefreshDashboard(ctx, username); err != nil {
		a.logger.WarnContext(ctx, "Refresh after ledger change failed",
			log.FieldUsername, username,
			log.FieldError, err)
	}
	return nil
}
