package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInvalidEnvelope(t *testing.T) {
	err := Invalid("shipping address is required")
	if err.Code != "invalid_request" || err.Status != http.StatusBadRequest {
		t.Fatalf("unexpected envelope %+v", err)
	}
}

func TestUnauthenticatedEnvelope(t *testing.T) {
	err := Unauthenticated()
	if err.Code != "unauthenticated" || err.Status != http.StatusUnauthorized {
		t.Fatalf("unexpected envelope %+v", err)
	}
}

func TestWriteErrorPayload(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(context.Background(), rr, Invalid("at least one line is required").WithRequestID("req_1"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["error"] != "invalid_request" {
		t.Fatalf("unexpected error code %v", payload["error"])
	}
	if payload["request_id"] != "req_1" {
		t.Fatalf("unexpected request id %v", payload["request_id"])
	}
}

func TestNewErrorStripsNewlines(t *testing.T) {
	err := NewError("bad\ncode", "multi\r\nline message", http.StatusBadRequest)
	if err.Code != "bad code" {
		t.Fatalf("expected newline stripped from code, got %q", err.Code)
	}
	if err.Message != "multi  line message" {
		t.Fatalf("expected newlines stripped from message, got %q", err.Message)
	}
}
