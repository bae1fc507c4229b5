package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneymind/internal/devserver"
	"moneymind/internal/storage"
)

func newBackend(t *testing.T) string {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("EXPORT_BACKEND", "memory")

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "cli.db"), nil)
	require.NoError(t, err)
	srv := devserver.New(devserver.Options{
		Repo:          repo,
		StringNumbers: true,
		Now:           func() time.Time { return time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC) },
	})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
		repo.Close()
	})
	return ts.URL
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), err
}

func TestRunRegisterThenDashboard(t *testing.T) {
	url := newBackend(t)

	out, err := runCLI(t, "", "register", "-url", url, "-user", "alice", "-password", "secret", "-email", "a@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Registered alice")
	assert.Contains(t, out, "Net Total: $0.00")

	out, err = runCLI(t, "", "dashboard", "-url", url, "-user", "alice", "-password", "secret")
	require.NoError(t, err)
	assert.Contains(t, out, "Dashboard for alice")
	assert.Contains(t, out, "Month 9")
}

func TestRunPromptsForPassword(t *testing.T) {
	url := newBackend(t)

	_, err := runCLI(t, "", "register", "-url", url, "-user", "bob", "-password", "pw")
	require.NoError(t, err)

	out, err := runCLI(t, "pw\n", "login", "-url", url, "-user", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "Password: ")
	assert.Contains(t, out, "Logged in as bob")
}

func TestRunSetIncomeAndExpenses(t *testing.T) {
	url := newBackend(t)
	_, err := runCLI(t, "", "register", "-url", url, "-user", "carol", "-password", "pw")
	require.NoError(t, err)

	out, err := runCLI(t, "", "set-income", "-url", url, "-user", "carol", "-password", "pw", "job=3000", "investments=150.5")
	require.NoError(t, err)
	assert.Contains(t, out, "3000.00")
	assert.Contains(t, out, "3150.50")

	out, err = runCLI(t, "", "set-expenses", "-url", url, "-user", "carol", "-password", "pw", "rent=1200", "misc=40")
	require.NoError(t, err)
	assert.Contains(t, out, "1240.00")

	out, err = runCLI(t, "", "dashboard", "-url", url, "-user", "carol", "-password", "pw")
	require.NoError(t, err)
	assert.Contains(t, out, "Net Total: $1910.50")
}

func TestRunSetIncomeRejectsBadInput(t *testing.T) {
	url := newBackend(t)
	_, err := runCLI(t, "", "register", "-url", url, "-user", "dave", "-password", "pw")
	require.NoError(t, err)

	_, err = runCLI(t, "", "set-income", "-url", url, "-user", "dave", "-password", "pw", "job=abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job")

	_, err = runCLI(t, "", "set-income", "-url", url, "-user", "dave", "-password", "pw", "bonus=1")
	require.Error(t, err)

	_, err = runCLI(t, "", "set-expenses", "-url", url, "-user", "dave", "-password", "pw", "rent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field=value")
}

func TestRunExportUsesMemoryBackend(t *testing.T) {
	url := newBackend(t)
	_, err := runCLI(t, "", "register", "-url", url, "-user", "erin", "-password", "pw")
	require.NoError(t, err)

	out, err := runCLI(t, "", "export", "-url", url, "-user", "erin", "-password", "pw")
	require.NoError(t, err)
	assert.Contains(t, out, "Exported snapshot for erin (mem:1)")
}

func TestRunLoginFailure(t *testing.T) {
	url := newBackend(t)
	_, err := runCLI(t, "", "register", "-url", url, "-user", "frank", "-password", "right")
	require.NoError(t, err)

	_, err = runCLI(t, "", "login", "-url", url, "-user", "frank", "-password", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login failed")
}

func TestRunDuplicateRegister(t *testing.T) {
	url := newBackend(t)
	_, err := runCLI(t, "", "register", "-url", url, "-user", "gina", "-password", "pw")
	require.NoError(t, err)

	_, err = runCLI(t, "", "register", "-url", url, "-user", "gina", "-password", "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registration failed")
}

func TestRunArgumentErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no command", nil, "missing command"},
		{"unknown command", []string{"frobnicate"}, "unknown command"},
		{"missing user", []string{"login", "-url", "http://localhost:1", "-password", "x"}, "missing required flags: user"},
		{"no assignments", []string{"set-income", "-user", "x", "-password", "x"}, "no field=value pairs"},
		{"empty password", []string{"login", "-url", "http://localhost:1", "-user", "x"}, "password cannot be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", "error")
			_, err := runCLI(t, "\n", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunHelp(t *testing.T) {
	out, err := runCLI(t, "", "help")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage: moneymind")

	_, err = runCLI(t, "", "login", "-h")
	assert.True(t, errors.Is(err, flag.ErrHelp))
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"rent=1200", " gas =40", "misc="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"rent": "1200", "gas": "40", "misc": ""}, got)

	_, err = parseAssignments([]string{"=5"})
	assert.Error(t, err)
}
