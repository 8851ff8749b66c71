package util

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWithRequestIDPropagatesIncomingHeader(t *testing.T) {
	const incoming = "req-incoming-123"
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := RequestIDFromRequest(r); got != incoming {
			t.Fatalf("unexpected request id in context: got %q want %q", got, incoming)
		}
		if LoggerFromContext(r.Context()) == nil {
			t.Fatalf("expected scoped logger")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, incoming)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != incoming {
		t.Fatalf("unexpected response request id: got %q want %q", got, incoming)
	}
}

func TestWithRequestIDReplacesMissingOrOversizedHeader(t *testing.T) {
	for _, incoming := range []string{"", strings.Repeat("x", maxRequestIDLen+1)} {
		var seen string
		handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = RequestIDFromRequest(r)
		}))
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		if incoming != "" {
			req.Header.Set(RequestIDHeader, incoming)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		got := rec.Header().Get(RequestIDHeader)
		if got == "" || got == incoming || got != seen {
			t.Fatalf("expected a generated id, header=%q context=%q", got, seen)
		}
	}
}
