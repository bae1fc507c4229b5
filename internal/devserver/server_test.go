package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneymind/internal/api"
	"moneymind/internal/core"
	"moneymind/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishLedgerChanged(_ context.Context, username, resource string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, username+":"+resource)
	return nil
}

func (p *recordingPublisher) recorded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

var fixedNow = time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, stringNumbers bool) (*Server, *httptest.Server, *recordingPublisher) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "dev.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	pub := &recordingPublisher{}
	s := New(Options{
		Repo:          repo,
		Publisher:     pub,
		StringNumbers: stringNumbers,
		Now:           func() time.Time { return fixedNow },
	})
	ts := httptest.NewServer(s.Handler)
	t.Cleanup(func() {
		ts.Close()
		_ = s.Shutdown(context.Background())
	})
	return s, ts, pub
}

func post(t *testing.T, ts *httptest.Server, path, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestEndToEndWithClient(t *testing.T) {
	s, ts, pub := newTestServer(t, true)
	client := api.NewClient(api.Options{BaseURL: ts.URL})
	ctx := context.Background()

	ack, err := client.Register(ctx, core.Credentials{Username: "alice", Password: "pw", Email: "a@example.com"})
	require.NoError(t, err)
	require.NotNil(t, ack.Success)
	assert.True(t, *ack.Success)

	require.NoError(t, client.Login(ctx, "alice", "pw"))

	err = client.Login(ctx, "alice", "wrong")
	var rejected *api.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "Invalid username or password", rejected.Message)

	in, err := client.GetIncome(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, core.Income{}, in, "registration seeds a zero row")

	require.NoError(t, client.UpdateIncome(ctx, "alice", core.Income{Job: 3000, RealEstate: 250.5, Investments: 100}))
	require.NoError(t, client.UpdateExpenses(ctx, "alice", core.Expense{Rent: 1200, Groceries: 300, Gas: 49.99}))

	in, err = client.GetIncome(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, core.Income{Job: 3000, RealEstate: 250.5, Investments: 100}, in)

	ex, err := client.GetExpenses(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, core.Expense{Rent: 1200, Groceries: 300, Gas: 49.99}, ex)

	net, err := client.GetNetTotal(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 3350.5-1549.99, net, 1e-9)

	trend, err := client.GetIncomeTrend(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []core.MonthlyIncomePoint{{Month: 5, TotalIncome: 3350.5}}, trend)

	total, err := client.GetExpensesTotal(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, core.MonthTotal{Month: 5, Total: 1549.99}, total)

	require.NoError(t, s.Shutdown(ctx))
	assert.ElementsMatch(t, []string{"alice:income", "alice:expenses"}, pub.recorded())
}

func TestRegisterDuplicateIsConflict(t *testing.T) {
	_, ts, _ := newTestServer(t, false)
	client := api.NewClient(api.Options{BaseURL: ts.URL})
	ctx := context.Background()

	_, err := client.Register(ctx, core.Credentials{Username: "bob", Password: "pw"})
	require.NoError(t, err)

	_, err = client.Register(ctx, core.Credentials{Username: "bob", Password: "pw"})
	var status *api.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusConflict, status.Code)
}

func TestNumbersEncoding(t *testing.T) {
	tests := []struct {
		name          string
		stringNumbers bool
		wantJob       any
	}{
		{name: "strings like the PHP backend", stringNumbers: true, wantJob: "0.00"},
		{name: "plain numbers", stringNumbers: false, wantJob: float64(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts, _ := newTestServer(t, tt.stringNumbers)
			code, _ := post(t, ts, "/api.php", `{"action":"register","username":"carol","password":"pw"}`)
			require.Equal(t, http.StatusOK, code)

			code, body := post(t, ts, "/getIncome.php", `{"username":"carol"}`)
			require.Equal(t, http.StatusOK, code)
			income := body["income"].(map[string]any)
			assert.Equal(t, tt.wantJob, income["Job"])
			assert.Contains(t, income, "RealEstate")
		})
	}
}

func TestFetchUnknownUser(t *testing.T) {
	_, ts, _ := newTestServer(t, true)
	client := api.NewClient(api.Options{BaseURL: ts.URL})
	ctx := context.Background()

	_, err := client.GetIncome(ctx, "ghost")
	assert.True(t, errors.Is(err, api.ErrNotFound))
	assert.Equal(t, "No income data found", api.Message(err))

	_, err = client.GetExpenses(ctx, "ghost")
	assert.True(t, errors.Is(err, api.ErrNotFound))

	_, err = client.GetNetTotal(ctx, "ghost")
	assert.True(t, errors.Is(err, api.ErrNotFound))

	trend, err := client.GetIncomeTrend(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, trend)

	err = client.UpdateIncome(ctx, "ghost", core.Income{Job: 1})
	assert.True(t, errors.Is(err, api.ErrRejected))
}

func TestRequestValidation(t *testing.T) {
	_, ts, _ := newTestServer(t, true)

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantMsg  string
	}{
		{name: "malformed json", path: "/getIncome.php", body: `{`, wantCode: 400, wantMsg: "Invalid request body"},
		{name: "missing username", path: "/getExpenses.php", body: `{}`, wantCode: 400, wantMsg: "Username is required"},
		{name: "unknown action", path: "/api.php", body: `{"action":"delete"}`, wantCode: 400, wantMsg: "Unknown action"},
		{name: "register without password", path: "/api.php", body: `{"action":"register","username":"x"}`, wantCode: 400, wantMsg: "Username and password are required"},
		{name: "update without payload", path: "/updateIncome.php", body: `{"username":"x"}`, wantCode: 400, wantMsg: "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := post(t, ts, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantMsg, body["message"])
		})
	}
}

func TestPostOnly(t *testing.T) {
	_, ts, _ := newTestServer(t, true)
	resp, err := http.Get(ts.URL + "/getIncome.php")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodPost, resp.Header.Get("Allow"))
}

func TestHealthAndReady(t *testing.T) {
	_, ts, _ := newTestServer(t, true)
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"), path)
	}
}

func TestReadyReportsRequestMetrics(t *testing.T) {
	_, ts, _ := newTestServer(t, true)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Checks struct {
			Requests struct {
				Total        float64 `json:"total"`
				ServerErrors float64 `json:"server_errors"`
			} `json:"requests"`
		} `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	// The readiness request itself is recorded after it is answered.
	assert.Equal(t, 1.0, body.Checks.Requests.Total)
	assert.Zero(t, body.Checks.Requests.ServerErrors)
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{name: "direct", remote: "203.0.113.9:5000", want: "203.0.113.9"},
		{name: "untrusted peer ignores xff", remote: "203.0.113.9:5000", xff: "198.51.100.1", want: "203.0.113.9"},
		{name: "trusted proxy uses xff", remote: "127.0.0.1:5000", xff: "198.51.100.1, 10.0.0.1", want: "198.51.100.1"},
		{name: "trusted proxy bad xff", remote: "10.0.0.2:5000", xff: "garbage", want: "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, extractClientIP(r))
		})
	}
}

func TestAggregateCacheInvalidatedOnUpdate(t *testing.T) {
	s, ts, _ := newTestServer(t, false)
	code, _ := post(t, ts, "/api.php", `{"action":"register","username":"zoe","password":"pw"}`)
	require.Equal(t, http.StatusOK, code)

	_, out := post(t, ts, "/getNetTotal.php", `{"username":"zoe"}`)
	assert.Equal(t, 0.0, out["net_total"])
	_, out = post(t, ts, "/getNetTotal.php", `{"username":"zoe"}`)
	assert.Equal(t, 0.0, out["net_total"])

	hits, misses := s.CacheStats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	code, _ = post(t, ts, "/updateIncome.php", `{"username":"zoe","income":{"Job":500}}`)
	require.Equal(t, http.StatusOK, code)

	_, out = post(t, ts, "/getNetTotal.php", `{"username":"zoe"}`)
	assert.Equal(t, 500.0, out["net_total"])
	_, out = post(t, ts, "/get_total_expenses.php", `{"username":"zoe"}`)
	assert.Equal(t, 0.0, out["total_expenses"])
}

func TestAggregateCacheDisabled(t *testing.T) {
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "nocache.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	s := New(Options{Repo: repo, CacheTTL: -1, Now: func() time.Time { return fixedNow }})
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	hits, misses := s.CacheStats()
	assert.Zero(t, hits)
	assert.Zero(t, misses)
	s.invalidate("nobody")
}
