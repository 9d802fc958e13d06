package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"transitionos/internal/config"
)

func TestNewLoggerEmitsJSONWithRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug", "PROD")
	logger.Info("backend call", "account_number", "555-666-777", "api_key", "k", "header", "Bearer abc", "task_id", 12)

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v (%s)", err, buf.String())
	}
	for _, key := range []string{"timestamp", "level", "msg", "service"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing key %q in %v", key, entry)
		}
	}
	for _, key := range []string{"account_number", "api_key", "header"} {
		if entry[key] != "[REDACTED]" {
			t.Fatalf("expected %s redacted, got %v", key, entry[key])
		}
	}
	if entry["task_id"] != float64(12) {
		t.Fatalf("expected task_id to pass through, got %v", entry["task_id"])
	}
}

func TestNewLoggerTextInDev(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "info", "DEV").Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug must be filtered at info level")
	}
	NewLogger(&buf, "info", "DEV").Info("shown", "password", "x")
	out := buf.String()
	if strings.HasPrefix(out, "{") || !strings.Contains(out, "password=[REDACTED]") {
		t.Fatalf("expected redacted text output, got %q", out)
	}
}

func TestInitOTelDisabledIsNoop(t *testing.T) {
	p, err := InitOTel(context.Background(), config.Telemetry{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if p.Tracer == nil || p.Meter == nil {
		t.Fatalf("expected noop tracer and meter")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitOTelRejectsUnknownExporter(t *testing.T) {
	if _, err := InitOTel(context.Background(), config.Telemetry{Enabled: true, Exporter: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
}

func TestMiddlewareAssignsRequestID(t *testing.T) {
	var buf bytes.Buffer
	var seen string
	h := Middleware(nil, NewLogger(&buf, "info", "PROD"), "test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("expected request id propagation, got %q / %q", seen, rec.Header().Get(RequestIDHeader))
	}
	if !strings.Contains(buf.String(), `"status":418`) {
		t.Fatalf("expected access log with status, got %s", buf.String())
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "fixed-id")
	h.ServeHTTP(rec, req)
	if seen != "fixed-id" {
		t.Fatalf("expected incoming id to be kept, got %q", seen)
	}
}
