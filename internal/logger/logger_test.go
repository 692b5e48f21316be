package logger

import (
	"context"
	"testing"

	"github.com/respondmesh/respondmesh/internal/config"
)

func TestNew(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "fire-chief-agent"}
	l, closer := New(cfg)
	defer closer.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsync(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "fire-chief-agent", Async: true}
	l, closer := New(cfg)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	closer.Close()
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input).String()
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestCorrelationIDContext(t *testing.T) {
	ctx := context.Background()

	if got := CorrelationID(ctx); got != "" {
		t.Errorf("expected empty correlation ID, got %q", got)
	}

	ctx = WithCorrelationID(ctx, "cid-123")
	if got := CorrelationID(ctx); got != "cid-123" {
		t.Errorf("expected cid-123, got %q", got)
	}
}
