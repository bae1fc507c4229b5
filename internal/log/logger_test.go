package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewJSONTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelDebug, Format: "json", Component: ComponentAuth, Output: &buf})
	l.Info("login ok", FieldUsername, "alice")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected json record, got %q: %v", buf.String(), err)
	}
	if rec[FieldComponent] != ComponentAuth || rec[FieldUsername] != "alice" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestWithComponentDoesNotDuplicate(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Component: ComponentApp, Output: &buf}).WithComponent(ComponentFinance)
	l.Warn("x")
	out := buf.String()
	if strings.Count(out, "component=") != 1 || !strings.Contains(out, "component=finance") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"": slog.LevelInfo, "DEBUG": slog.LevelDebug, "warn": slog.LevelWarn, "error": slog.LevelError}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestContextCarriesLogger(t *testing.T) {
	l := Discard().WithComponent(ComponentDevServer)
	ctx := NewContext(context.Background(), l)
	if got := FromContext(ctx); got != l {
		t.Fatalf("FromContext() = %+v, want stored logger", got)
	}
	if FromContext(context.Background()).Component() != "unknown" {
		t.Fatal("expected fallback logger")
	}
	if FromContext(NewContext(context.Background(), nil)).Component() != "unknown" {
		t.Fatal("nil logger should fall back")
	}
}

func TestFieldsToSliceIsSorted(t *testing.T) {
	got := NewFields().
		WithRequest("POST", "/getIncome.php", "").
		WithHTTPResponse(404, 3, 17).
		ToSlice()

	var keys []string
	for i := 0; i < len(got); i += 2 {
		keys = append(keys, got[i].(string))
	}
	want := "bytes,duration_ms,method,path,status_code,success"
	if strings.Join(keys, ",") != want {
		t.Errorf("keys = %v, want %s", keys, want)
	}
	if got[len(got)-1] != false {
		t.Errorf("success = %v, want false for 404", got[len(got)-1])
	}
}
