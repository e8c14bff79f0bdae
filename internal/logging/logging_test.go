package logging

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/appforge-labs/appforge/pkg/logger"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithUserID(ctx, "u-1")
	ctx = WithTraceID(ctx, "t-1")

	if got := GetUserID(ctx); got != "u-1" {
		t.Fatalf("user id: got %q", got)
	}
	if got := GetTraceID(ctx); got != "t-1" {
		t.Fatalf("trace id: got %q", got)
	}
	if got := GetUserID(context.Background()); got != "" {
		t.Fatalf("user id should default empty, got %q", got)
	}
}

func TestWithTraceIDIgnoresEmpty(t *testing.T) {
	ctx := context.Background()
	if got := GetTraceID(WithTraceID(ctx, "")); got != "" {
		t.Fatalf("expected empty trace id, got %q", got)
	}
}

func TestLogRequestIncludesContextFields(t *testing.T) {
	base := logger.New(logger.LoggingConfig{Level: "debug", Format: "json"})
	var buf bytes.Buffer
	base.SetOutput(&buf)

	log := NewLogger(base)
	ctx := WithTraceID(WithUserID(context.Background(), "u-9"), "trace-9")
	log.LogRequest(ctx, "GET", "/api/modules", 200, 12*time.Millisecond)

	out := buf.String()
	for _, want := range []string{"trace-9", "u-9", "/api/modules", "request completed"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Fatalf("log output missing %q: %s", want, out)
		}
	}
}

func TestNewTraceIDUnique(t *testing.T) {
	if NewTraceID() == NewTraceID() {
		t.Fatal("trace ids should be unique")
	}
}
