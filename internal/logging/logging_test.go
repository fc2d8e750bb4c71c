package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := GetTraceID(ctx); got != "" {
		t.Fatalf("expected empty trace ID, got %q", got)
	}

	id := NewTraceID()
	if id == "" {
		t.Fatal("NewTraceID returned empty string")
	}
	ctx = WithTraceID(ctx, id)
	if got := GetTraceID(ctx); got != id {
		t.Fatalf("trace ID mismatch: got %q want %q", got, id)
	}
}

func TestLogRequestFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("httpapi", &buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	log.LogRequest(ctx, "POST", "/api/v1/pipeline/runs", 201, 125*time.Millisecond)

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("access log is not JSON: %v (%q)", err, buf.String())
	}
	if record["trace_id"] != "trace-1" {
		t.Fatalf("expected trace_id, got %v", record)
	}
	if record["method"] != "POST" || record["status"] != float64(201) {
		t.Fatalf("unexpected request fields: %v", record)
	}
	if record["duration_ms"] != float64(125) {
		t.Fatalf("expected duration_ms 125, got %v", record["duration_ms"])
	}
}

func TestWithContextAnnotates(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("auth", &buf)

	ctx := WithTraceID(context.Background(), "trace-2")
	ctx = context.WithValue(ctx, UserIDKey, "user-9")
	log.WithContext(ctx).WithError(errors.New("boom")).Warn("token rejected")

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if record["trace_id"] != "trace-2" || record["user_id"] != "user-9" {
		t.Fatalf("context fields missing: %v", record)
	}
	if record["error"] != "boom" {
		t.Fatalf("expected error field, got %v", record)
	}
}

func TestSecurityEvent(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("ratelimit", &buf)

	log.LogSecurityEvent(context.Background(), "rate_limit_exceeded", map[string]interface{}{"key": "10.0.0.1"})

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if record["event"] != "rate_limit_exceeded" || record["key"] != "10.0.0.1" {
		t.Fatalf("unexpected security event: %v", record)
	}
	if record["level"] != "warn" {
		t.Fatalf("expected warn level, got %v", record["level"])
	}
}
