// Package finance holds the authenticated user's latest known income,
// expenses and server-computed aggregates.
//
// Each fetch runs its request on the caller's goroutine and commits only the
// fields its own response carries, on the shared dispatch queue. Fetches for
// different fields therefore run fully in parallel, and completions for the
// same field never race. Requests are never superseded: when two updates are
// in flight the snapshot ends up holding whichever re-fetch completed last.
//
// Reset starts a new generation. Results of requests issued before it are
// discarded, so a slow response never lands in the next user's snapshot.
package finance

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"moneymind/internal/api"
	"moneymind/internal/core"
	"moneymind/internal/dispatch"
	"moneymind/internal/log"
	"moneymind/internal/observe"
)

// ErrNoChanges is returned when committing a draft with no edits.
var ErrNoChanges = errors.New("no changes to update")

const noChangesMessage = "No changes to update."

// Client is the part of the backend the store needs.
type Client interface {
	GetIncome(ctx context.Context, username string) (core.Income, error)
	GetExpenses(ctx context.Context, username string) (core.Expense, error)
	UpdateIncome(ctx context.Context, username string, i core.Income) error
	UpdateExpenses(ctx context.Context, username string, e core.Expense) error
	GetNetTotal(ctx context.Context, username string) (float64, error)
	GetIncomeTrend(ctx context.Context, username string) ([]core.MonthlyIncomePoint, error)
	GetExpensesTotal(ctx context.Context, username string) (core.MonthTotal, error)
}

// State is the observable store state. Nil members have not been fetched.
type State struct {
	Income       *core.Income
	Expenses     *core.Expense
	Totals       core.AggregateTotals
	IncomeTrend  []core.MonthlyIncomePoint
	IsSaving     bool
	ErrorMessage string
}

// Clone returns a deep copy so snapshots can be handed out safely.
func (s State) Clone() State {
	out := s
	if s.Income != nil {
		v := *s.Income
		out.Income = &v
	}
	if s.Expenses != nil {
		v := *s.Expenses
		out.Expenses = &v
	}
	if s.Totals.NetTotal != nil {
		v := *s.Totals.NetTotal
		out.Totals.NetTotal = &v
	}
	if s.Totals.IncomeForMonth != nil {
		v := *s.Totals.IncomeForMonth
		out.Totals.IncomeForMonth = &v
	}
	if s.Totals.ExpensesForMonth != nil {
		v := *s.Totals.ExpensesForMonth
		out.Totals.ExpensesForMonth = &v
	}
	out.IncomeTrend = slices.Clone(s.IncomeTrend)
	return out
}

// UpdatePolicy says when an update reaches the local snapshot.
type UpdatePolicy int

const (
	// OptimisticApply replaces the snapshot before the request is sent and
	// raises IsSaving until the response arrives. A failed update is not
	// rolled back.
	OptimisticApply UpdatePolicy = iota
	// ApplyAfterRefetch leaves the snapshot alone until the follow-up fetch.
	ApplyAfterRefetch
)

func (p UpdatePolicy) String() string {
	switch p {
	case OptimisticApply:
		return "optimistic"
	case ApplyAfterRefetch:
		return "after_refetch"
	default:
		return fmt.Sprintf("UpdatePolicy(%d)", int(p))
	}
}

type Store struct {
	client Client
	queue  *dispatch.Queue
	logger *log.Logger

	incomePolicy   UpdatePolicy
	expensesPolicy UpdatePolicy

	// state is written only on queue; mu guards the published copy.
	// gen is bumped on queue by Reset.
	gen   atomic.Uint64
	state State
	mu    sync.RWMutex
	snap  State
	bc    *observe.Broadcaster[State]
}

type Option func(*Store)

// WithIncomePolicy overrides the income update policy (default OptimisticApply).
func WithIncomePolicy(p UpdatePolicy) Option { return func(s *Store) { s.incomePolicy = p } }

// WithExpensesPolicy overrides the expenses update policy (default ApplyAfterRefetch).
func WithExpensesPolicy(p UpdatePolicy) Option { return func(s *Store) { s.expensesPolicy = p } }

func NewStore(client Client, queue *dispatch.Queue, logger *log.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = log.Discard()
	}
	s := &Store{
		client:         client,
		queue:          queue,
		logger:         logger.WithComponent(log.ComponentFinance),
		incomePolicy:   OptimisticApply,
		expensesPolicy: ApplyAfterRefetch,
		bc:             observe.NewBroadcaster[State](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a copy of the latest committed state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// Subscribe delivers a copy of each committed state.
func (s *Store) Subscribe() (<-chan State, func()) {
	return s.bc.Subscribe()
}

// GetIncome fetches and replaces the income snapshot.
func (s *Store) GetIncome(ctx context.Context, username string) (core.Income, error) {
	return s.getIncome(ctx, s.gen.Load(), username)
}

func (s *Store) getIncome(ctx context.Context, gen uint64, username string) (core.Income, error) {
	income, err := s.client.GetIncome(ctx, username)
	if err != nil {
		return income, s.fail(ctx, gen, "income", username, err)
	}
	return income, s.commit(gen, func(st *State) { st.Income = &income })
}

// FetchExpenses fetches and replaces the expenses snapshot.
func (s *Store) FetchExpenses(ctx context.Context, username string) (core.Expense, error) {
	return s.fetchExpenses(ctx, s.gen.Load(), username)
}

func (s *Store) fetchExpenses(ctx context.Context, gen uint64, username string) (core.Expense, error) {
	expenses, err := s.client.GetExpenses(ctx, username)
	if err != nil {
		return expenses, s.fail(ctx, gen, "expenses", username, err)
	}
	return expenses, s.commit(gen, func(st *State) { st.Expenses = &expenses })
}

// FetchNetTotal fetches and replaces the net total.
func (s *Store) FetchNetTotal(ctx context.Context, username string) (float64, error) {
	return s.fetchNetTotal(ctx, s.gen.Load(), username)
}

func (s *Store) fetchNetTotal(ctx context.Context, gen uint64, username string) (float64, error) {
	net, err := s.client.GetNetTotal(ctx, username)
	if err != nil {
		return net, s.fail(ctx, gen, "net_total", username, err)
	}
	return net, s.commit(gen, func(st *State) { st.Totals.NetTotal = &net })
}

// FetchIncomeTotal fetches the monthly income series and replaces it
// wholesale, in server order. The income total for the month is taken from
// the point with the highest month.
func (s *Store) FetchIncomeTotal(ctx context.Context, username string) ([]core.MonthlyIncomePoint, error) {
	return s.fetchIncomeTotal(ctx, s.gen.Load(), username)
}

func (s *Store) fetchIncomeTotal(ctx context.Context, gen uint64, username string) ([]core.MonthlyIncomePoint, error) {
	series, err := s.client.GetIncomeTrend(ctx, username)
	if err != nil {
		return series, s.fail(ctx, gen, "income_trend", username, err)
	}
	latest := latestMonth(series)
	return series, s.commit(gen, func(st *State) {
		st.IncomeTrend = slices.Clone(series)
		st.Totals.IncomeForMonth = latest
	})
}

// FetchExpensesTotal fetches the expense total for the current month.
func (s *Store) FetchExpensesTotal(ctx context.Context, username string) (core.MonthTotal, error) {
	return s.fetchExpensesTotal(ctx, s.gen.Load(), username)
}

func (s *Store) fetchExpensesTotal(ctx context.Context, gen uint64, username string) (core.MonthTotal, error) {
	total, err := s.client.GetExpensesTotal(ctx, username)
	if err != nil {
		return total, s.fail(ctx, gen, "expenses_total", username, err)
	}
	return total, s.commit(gen, func(st *State) { st.Totals.ExpensesForMonth = &total })
}

// UpdateIncome sends the full income record and re-fetches it on success.
func (s *Store) UpdateIncome(ctx context.Context, username string, income core.Income) error {
	return s.update(ctx, updateOp{
		resource: "income",
		username: username,
		policy:   s.incomePolicy,
		apply:    func(st *State) { st.Income = &income },
		send:     func(ctx context.Context) error { return s.client.UpdateIncome(ctx, username, income) },
		refetch: func(ctx context.Context, gen uint64) error {
			_, err := s.getIncome(ctx, gen, username)
			return err
		},
	})
}

// UpdateExpenses sends the full expense record and re-fetches it on success.
func (s *Store) UpdateExpenses(ctx context.Context, username string, expenses core.Expense) error {
	return s.update(ctx, updateOp{
		resource: "expenses",
		username: username,
		policy:   s.expensesPolicy,
		apply:    func(st *State) { st.Expenses = &expenses },
		send:     func(ctx context.Context) error { return s.client.UpdateExpenses(ctx, username, expenses) },
		refetch: func(ctx context.Context, gen uint64) error {
			_, err := s.fetchExpenses(ctx, gen, username)
			return err
		},
	})
}

type updateOp struct {
	resource string
	username string
	policy   UpdatePolicy
	apply    func(*State)
	send     func(context.Context) error
	refetch  func(context.Context, uint64) error
}

func (s *Store) update(ctx context.Context, op updateOp) error {
	gen := s.gen.Load()
	optimistic := op.policy == OptimisticApply
	if optimistic {
		if err := s.commit(gen, func(st *State) {
			op.apply(st)
			st.IsSaving = true
		}); err != nil {
			return err
		}
	}

	if err := op.send(ctx); err != nil {
		s.logger.WarnContext(ctx, "Update failed",
			log.FieldOperation, log.OpUpdate,
			log.FieldResource, op.resource,
			log.FieldUsername, op.username,
			log.FieldErrorType, api.ErrorType(err),
			log.FieldError, err)
		msg := api.Message(err)
		if cerr := s.commit(gen, func(st *State) {
			if optimistic {
				st.IsSaving = false
			}
			st.ErrorMessage = msg
		}); cerr != nil {
			return errors.Join(err, cerr)
		}
		return err
	}

	if optimistic {
		if err := s.commit(gen, func(st *State) { st.IsSaving = false }); err != nil {
			return err
		}
	}
	s.logger.InfoContext(ctx, "Update accepted",
		log.FieldOperation, log.OpUpdate,
		log.FieldResource, op.resource,
		log.FieldUsername, op.username,
		"policy", op.policy.String())

	return op.refetch(ctx, gen)
}

// CommitIncomeDraft submits the draft's value if it has edits. The draft is
// reset afterwards.
func (s *Store) CommitIncomeDraft(ctx context.Context, username string, d *core.IncomeDraft) error {
	if !d.Modified() {
		return s.noChanges()
	}
	value := d.Value()
	d.Reset()
	return s.UpdateIncome(ctx, username, value)
}

// CommitExpenseDraft submits the draft's value if it has edits. The draft is
// reset afterwards.
func (s *Store) CommitExpenseDraft(ctx context.Context, username string, d *core.ExpenseDraft) error {
	if !d.Modified() {
		return s.noChanges()
	}
	value := d.Value()
	d.Reset()
	return s.UpdateExpenses(ctx, username, value)
}

func (s *Store) noChanges() error {
	if err := s.SetError(noChangesMessage); err != nil {
		return errors.Join(ErrNoChanges, err)
	}
	return ErrNoChanges
}

// SetError shows msg as the current error message.
func (s *Store) SetError(msg string) error {
	return s.commit(s.gen.Load(), func(st *State) { st.ErrorMessage = msg })
}

// RefreshDashboard runs all five fetches concurrently. Every fetch commits
// its own result; the first error is returned after all have finished.
func (s *Store) RefreshDashboard(ctx context.Context, username string) error {
	gen := s.gen.Load()
	var g errgroup.Group
	g.Go(func() error { _, err := s.getIncome(ctx, gen, username); return err })
	g.Go(func() error { _, err := s.fetchExpenses(ctx, gen, username); return err })
	g.Go(func() error { _, err := s.fetchNetTotal(ctx, gen, username); return err })
	g.Go(func() error { _, err := s.fetchIncomeTotal(ctx, gen, username); return err })
	g.Go(func() error { _, err := s.fetchExpensesTotal(ctx, gen, username); return err })

	err := g.Wait()
	if err != nil {
		s.logger.WarnContext(ctx, "Dashboard refresh incomplete",
			log.FieldOperation, log.OpRefresh,
			log.FieldUsername, username,
			log.FieldError, err)
		return err
	}
	s.logger.DebugContext(ctx, "Dashboard refreshed", log.FieldOperation, log.OpRefresh, log.FieldUsername, username)
	return nil
}

// Reset drops every snapshot, for example after logout. Requests already in
// flight complete but no longer change the state.
func (s *Store) Reset() error {
	return s.apply(func(st *State) bool {
		s.gen.Add(1)
		*st = State{}
		return true
	})
}

// fail records the user-facing message for err and returns err.
func (s *Store) fail(ctx context.Context, gen uint64, resource, username string, err error) error {
	s.logger.WarnContext(ctx, "Fetch failed",
		log.FieldOperation, log.OpFetch,
		log.FieldResource, resource,
		log.FieldUsername, username,
		log.FieldErrorType, api.ErrorType(err),
		log.FieldError, err)
	msg := api.Message(err)
	if cerr := s.commit(gen, func(st *State) { st.ErrorMessage = msg }); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}

// commit applies fn on the queue and publishes the result. fn is skipped when
// the store was reset after gen was taken.
func (s *Store) commit(gen uint64, fn func(*State)) error {
	return s.apply(func(st *State) bool {
		if s.gen.Load() != gen {
			s.logger.Debug("Dropped result from before reset", "generation", gen)
			return false
		}
		fn(st)
		return true
	})
}

func (s *Store) apply(fn func(*State) bool) error {
	err := s.queue.Do(func() {
		if !fn(&s.state) {
			return
		}
		snap := s.state.Clone()
		s.mu.Lock()
		s.snap = snap
		s.mu.Unlock()
		s.bc.Publish(snap.Clone())
	})
	if err != nil {
		return fmt.Errorf("commit finance state: %w", err)
	}
	return nil
}

func latestMonth(series []core.MonthlyIncomePoint) *core.MonthTotal {
	if len(series) == 0 {
		return nil
	}
	best := series[0]
	for _, p := range series[1:] {
		if p.Month > best.Month {
			best = p
		}
	}
	return &core.MonthTotal{Month: best.Month, Total: best.TotalIncome}
}
