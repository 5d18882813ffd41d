package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "DEBUG"},
		{"INFO", "INFO"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"bogus", "INFO"},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in).String(); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(&buf, "info", "json").Component("detector").Venue("binance")

	log.LogError(context.Background(), "feed failed", errors.New("boom"), "attempt", 2)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	for key, want := range map[string]any{
		"msg":       "feed failed",
		"component": "detector",
		"venue":     "binance",
		"error":     "boom",
		"attempt":   float64(2),
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %v", key, entry[key], want)
		}
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(&buf, "warn", "text")

	log.LogDebug(context.Background(), "hidden")
	log.LogInfo(context.Background(), "hidden too")
	log.LogWarn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("below-level entries were written: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn entry missing: %s", out)
	}
}

func TestNoopMetrics(t *testing.T) {
	m := NewNoopMetrics()
	ctx := context.Background()

	// Every recorder must be safe when metrics are disabled.
	m.RecordQuoteUpdate(ctx, "binance", "SOL-USDC")
	m.SetFeedConnected(ctx, "raydium", true)
	m.RecordDecodeError(ctx, "PoolState", "too_short")
	m.RecordOpportunity(ctx, "binance", "raydium", 0.5, 0)
	m.RecordNotification(ctx, "log", true)
	if err := m.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestDisabledTracing(t *testing.T) {
	tp, err := NewTracerProvider(context.Background(), TracingConfig{ServiceName: "test"})
	if err != nil {
		t.Fatalf("NewTracerProvider: %v", err)
	}
	ctx, span := tp.Tracer().StartSpan(context.Background(), SpanEvaluate)
	span.NoticeError(errors.New("ignored"))
	span.End()

	if span.TraceID() != "" {
		t.Errorf("noop span has trace id %q", span.TraceID())
	}
	if ctx == nil {
		t.Error("nil context")
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
