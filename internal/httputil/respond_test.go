package httputil

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/appforge-labs/appforge/internal/errors"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, 201, map[string]string{"id": "m1"})

	if rec.Code != 201 {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["id"] != "m1" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestWriteServiceErrorUsesErrorStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteServiceError(rec, apperrors.NotFound("Module"))

	if rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "Module not found" || body.Code != string(apperrors.CodeNotFound) {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestWriteServiceErrorHidesUnknownErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteServiceError(rec, errors.New("pq: connection refused"))

	if rec.Code != 500 {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if strings.Contains(body.Error, "connection refused") {
		t.Fatalf("internal detail leaked: %+v", body)
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name": "Inventory"}`))
	if err := DecodeJSON(rec, req, &dst); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dst.Name != "Inventory" {
		t.Fatalf("unexpected value %q", dst.Name)
	}

	req = httptest.NewRequest("POST", "/", strings.NewReader(`{"name": "x", "bogus": 1}`))
	if err := DecodeJSON(rec, req, &dst); err == nil {
		t.Fatal("expected unknown field error")
	}

	req = httptest.NewRequest("POST", "/", strings.NewReader(`not json`))
	if err := DecodeJSON(rec, req, &dst); err == nil {
		t.Fatal("expected syntax error")
	}
}
