package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestGetServiceErrorUnwrapsChains(t *testing.T) {
	base := NotFound("module")
	wrapped := fmt.Errorf("load module: %w", base)

	got := GetServiceError(wrapped)
	if got == nil {
		t.Fatal("expected service error in chain")
	}
	if got.Code != CodeNotFound || got.HTTPStatus != http.StatusNotFound {
		t.Fatalf("unexpected error mapping: %+v", got)
	}
}

func TestGetServiceErrorNilForPlainErrors(t *testing.T) {
	if got := GetServiceError(stderrors.New("boom")); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestWithDetailsAccumulates(t *testing.T) {
	err := RateLimitExceeded(10, "1s").WithDetails("key", "user-1")

	if err.Details["limit"] != 10 {
		t.Fatalf("limit detail missing: %v", err.Details)
	}
	if err.Details["window"] != "1s" {
		t.Fatalf("window detail missing: %v", err.Details)
	}
	if err.Details["key"] != "user-1" {
		t.Fatalf("key detail missing: %v", err.Details)
	}
}

func TestInvalidTokenKeepsCause(t *testing.T) {
	cause := stderrors.New("signature invalid")
	err := InvalidToken(cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
	if err.HTTPStatus != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", err.HTTPStatus)
	}
}
