package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDMintsAndEchoes(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen == "" {
		t.Fatal("no request id stored in context")
	}
	if got := rr.Header().Get(HeaderRequestID); got != seen {
		t.Fatalf("echoed id = %q, want %q", got, seen)
	}
}

func TestRequestIDKeepsInboundID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	req.Header.Set(HeaderRequestID, "client-supplied-1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen != "client-supplied-1" {
		t.Fatalf("context id = %q, want the inbound id kept", seen)
	}
	if got := rr.Header().Get(HeaderRequestID); got != "client-supplied-1" {
		t.Fatalf("echoed id = %q, want %q", got, "client-supplied-1")
	}
}
