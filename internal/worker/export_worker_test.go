package worker

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"moneymind/internal/core"
	"moneymind/internal/events"
	"moneymind/internal/export"
	"moneymind/internal/export/memory"
	"moneymind/internal/storage"
)

var workerNow = time.Date(2025, 8, 12, 10, 0, 0, 0, time.UTC)

func newLedger(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "worker.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedUser(t *testing.T, repo *storage.SQLiteRepository, username string, in core.Income, e core.Expense) {
	t.Helper()
	ctx := context.Background()
	p := storage.PeriodOf(workerNow)
	if err := repo.CreateUser(ctx, core.Credentials{Username: username, Password: "pw"}, p); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := repo.UpsertIncome(ctx, username, p, in); err != nil {
		t.Fatalf("UpsertIncome() error = %v", err)
	}
	if err := repo.UpsertExpenses(ctx, username, p, e); err != nil {
		t.Fatalf("UpsertExpenses() error = %v", err)
	}
}

type failingWriter struct{ calls int }

func (f *failingWriter) Append(context.Context, export.Row) (string, error) {
	f.calls++
	return "", errors.New("sheets unavailable")
}

func TestHandleLedgerChangedExportsSnapshot(t *testing.T) {
	repo := newLedger(t)
	seedUser(t, repo, "alice", core.Income{Job: 3000, Investments: 200}, core.Expense{Rent: 1200, Gas: 50})

	sink := memory.New()
	w := NewExportWorker(repo, sink, nil, func() time.Time { return workerNow })

	msg := events.NewLedgerChanged("alice", "income")
	if err := w.HandleLedgerChanged(context.Background(), msg); err != nil {
		t.Fatalf("HandleLedgerChanged() error = %v", err)
	}

	rows, _ := sink.ListRows(context.Background(), "alice")
	if len(rows) != 1 {
		t.Fatalf("exported %d rows, want 1", len(rows))
	}
	r := rows[0]
	if r.Month != 8 {
		t.Errorf("Month = %d, want 8", r.Month)
	}
	if r.IncomeTotal != 3200 || r.ExpenseTotal != 1250 {
		t.Errorf("totals = %v/%v, want 3200/1250", r.IncomeTotal, r.ExpenseTotal)
	}
	if r.NetTotal == nil || *r.NetTotal != 1950 {
		t.Errorf("NetTotal = %v, want 1950", r.NetTotal)
	}
	if !r.Timestamp.Equal(workerNow) {
		t.Errorf("Timestamp = %v, want %v", r.Timestamp, workerNow)
	}
}

func TestHandleLedgerChangedSkipsUnknownUser(t *testing.T) {
	repo := newLedger(t)
	sink := memory.New()
	w := NewExportWorker(repo, sink, nil, nil)

	if err := w.HandleLedgerChanged(context.Background(), events.NewLedgerChanged("ghost", "expenses")); err != nil {
		t.Fatalf("HandleLedgerChanged() error = %v, want nil for unknown user", err)
	}
	if sink.Len() != 0 {
		t.Errorf("exported %d rows for unknown user", sink.Len())
	}
}

func TestHandleLedgerChangedReturnsExportError(t *testing.T) {
	repo := newLedger(t)
	seedUser(t, repo, "bob", core.Income{}, core.Expense{})

	fw := &failingWriter{}
	w := NewExportWorker(repo, fw, nil, nil)
	err := w.HandleLedgerChanged(context.Background(), events.NewLedgerChanged("bob", "income"))
	if err == nil || !strings.Contains(err.Error(), "sheets unavailable") {
		t.Fatalf("HandleLedgerChanged() error = %v, want export failure", err)
	}
	if fw.calls != 1 {
		t.Errorf("Append calls = %d, want 1", fw.calls)
	}
}

func TestExportAll(t *testing.T) {
	repo := newLedger(t)
	sink := memory.New()
	w := NewExportWorker(repo, sink, nil, func() time.Time { return workerNow })

	n, err := w.ExportAll(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("ExportAll() on empty ledger = %d, %v", n, err)
	}

	seedUser(t, repo, "alice", core.Income{Job: 1}, core.Expense{})
	seedUser(t, repo, "bob", core.Income{Job: 2}, core.Expense{})

	n, err = w.ExportAll(context.Background())
	if err != nil {
		t.Fatalf("ExportAll() error = %v", err)
	}
	if n != 2 || sink.Len() != 2 {
		t.Errorf("ExportAll() exported %d (sink %d), want 2", n, sink.Len())
	}

	fw := &failingWriter{}
	n, err = NewExportWorker(repo, fw, nil, nil).ExportAll(context.Background())
	if err == nil || n != 0 {
		t.Fatalf("ExportAll() with failing writer = %d, %v", n, err)
	}
	if fw.calls != 2 {
		t.Errorf("Append calls = %d, want 2 (keeps going past failures)", fw.calls)
	}
}
