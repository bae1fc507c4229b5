package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"moneymind/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "test.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	v1, err := RunMigrations(path)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	v2, err := RunMigrations(path)
	if err != nil {
		t.Fatalf("second run should be a no-op, got %v", err)
	}
	if v1 != 1 || v2 != 1 {
		t.Errorf("schema versions = %d, %d; want 1, 1", v1, v2)
	}
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	p := Period{Year: 2025, Month: 3}

	cred := core.Credentials{Username: "alice", Password: "s3cret", Email: "a@example.com"}
	if err := repo.CreateUser(ctx, cred, p); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := repo.CreateUser(ctx, cred, p); !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate CreateUser() = %v, want ErrUserExists", err)
	}

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{name: "valid", username: "alice", password: "s3cret"},
		{name: "wrong password", username: "alice", password: "nope", wantErr: ErrInvalidCredentials},
		{name: "unknown user", username: "bob", password: "s3cret", wantErr: ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.Authenticate(ctx, tt.username, tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Authenticate() = %v, want %v", err, tt.wantErr)
			}
		})
	}

	ok, err := repo.UserExists(ctx, "alice")
	if err != nil || !ok {
		t.Errorf("UserExists(alice) = %v, %v", ok, err)
	}
}

func TestRegisterSeedsZeroRows(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	p := Period{Year: 2025, Month: 6}
	if err := repo.CreateUser(ctx, core.Credentials{Username: "alice", Password: "pw"}, p); err != nil {
		t.Fatal(err)
	}

	in, got, err := repo.LatestIncome(ctx, "alice")
	if err != nil || in != (core.Income{}) || got != p {
		t.Errorf("LatestIncome() = %+v, %+v, %v", in, got, err)
	}
	ex, _, err := repo.LatestExpenses(ctx, "alice")
	if err != nil || ex != (core.Expense{}) {
		t.Errorf("LatestExpenses() = %+v, %v", ex, err)
	}
	net, err := repo.NetTotal(ctx, "alice")
	if err != nil || net != 0 {
		t.Errorf("NetTotal() = %v, %v", net, err)
	}
}

func TestUpsertAndAggregates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	if err := repo.CreateUser(ctx, core.Credentials{Username: "alice", Password: "pw"}, Period{2025, 1}); err != nil {
		t.Fatal(err)
	}

	if err := repo.UpsertIncome(ctx, "alice", Period{2025, 2}, core.Income{Job: 3000.10, RealEstate: 500}); err != nil {
		t.Fatal(err)
	}
	// Same month again overwrites.
	if err := repo.UpsertIncome(ctx, "alice", Period{2025, 2}, core.Income{Job: 3100.25, Investments: 20}); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpsertExpenses(ctx, "alice", Period{2025, 2}, core.Expense{Rent: 1200, Gas: 60.5}); err != nil {
		t.Fatal(err)
	}

	in, p, err := repo.LatestIncome(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if p != (Period{2025, 2}) || in != (core.Income{Job: 3100.25, Investments: 20}) {
		t.Errorf("LatestIncome() = %+v at %+v", in, p)
	}

	points, err := repo.IncomeTotalsByMonth(ctx, "alice", 2025)
	if err != nil {
		t.Fatal(err)
	}
	want := []core.MonthlyIncomePoint{{Month: 1, TotalIncome: 0}, {Month: 2, TotalIncome: 3120.25}}
	if len(points) != len(want) {
		t.Fatalf("IncomeTotalsByMonth() = %+v, want %+v", points, want)
	}
	for i := range want {
		if points[i] != want[i] {
			t.Errorf("point %d = %+v, want %+v", i, points[i], want[i])
		}
	}

	empty, err := repo.IncomeTotalsByMonth(ctx, "alice", 1999)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("IncomeTotalsByMonth(1999) = %v, %v; want empty non-nil", empty, err)
	}

	total, err := repo.ExpensesTotal(ctx, "alice", Period{2025, 2})
	if err != nil || total != 1260.5 {
		t.Errorf("ExpensesTotal() = %v, %v; want 1260.5", total, err)
	}
	if _, err := repo.ExpensesTotal(ctx, "alice", Period{2025, 9}); !errors.Is(err, ErrNotFound) {
		t.Errorf("ExpensesTotal(missing) = %v, want ErrNotFound", err)
	}

	net, err := repo.NetTotal(ctx, "alice")
	if err != nil || net != 1859.75 {
		t.Errorf("NetTotal() = %v, %v; want 1859.75", net, err)
	}
}

func TestNetTotalWithoutRows(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.NetTotal(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("NetTotal() = %v, want ErrNotFound", err)
	}
	if _, _, err := repo.LatestIncome(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestIncome() = %v, want ErrNotFound", err)
	}
}

func TestCents(t *testing.T) {
	tests := []struct {
		in   float64
		want int64
	}{
		{0, 0},
		{0.1, 10},
		{19.99, 1999},
		{-12.5, -1250},
	}
	for _, tt := range tests {
		if got := toCents(tt.in); got != tt.want {
			t.Errorf("toCents(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestListUsernames(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	got, err := repo.ListUsernames(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("ListUsernames() on empty db = %v, %v", got, err)
	}

	p := Period{Year: 2025, Month: 1}
	for _, u := range []string{"carol", "alice", "bob"} {
		if err := repo.CreateUser(ctx, core.Credentials{Username: u, Password: "pw"}, p); err != nil {
			t.Fatalf("CreateUser(%s) error = %v", u, err)
		}
	}
	got, err = repo.ListUsernames(ctx)
	if err != nil {
		t.Fatalf("ListUsernames() error = %v", err)
	}
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("ListUsernames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ListUsernames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
