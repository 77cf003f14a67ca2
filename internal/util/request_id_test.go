package util

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func serveWithRequestID(t *testing.T, incoming string) (ctxID, headerID string) {
	t.Helper()
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	if incoming != "" {
		req.Header.Set(RequestIDHeader, incoming)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return ctxID, rec.Header().Get(RequestIDHeader)
}

func TestWithRequestIDPropagatesIncomingHeader(t *testing.T) {
	ctxID, headerID := serveWithRequestID(t, "req-incoming-123")
	if ctxID != "req-incoming-123" || headerID != "req-incoming-123" {
		t.Fatalf("expected incoming id to propagate, got ctx=%q header=%q", ctxID, headerID)
	}
}

func TestWithRequestIDGeneratesWhenMissingOrMalformed(t *testing.T) {
	for _, incoming := range []string{"", "has space", strings.Repeat("x", maxRequestIDLength+1)} {
		ctxID, headerID := serveWithRequestID(t, incoming)
		if _, err := uuid.Parse(ctxID); err != nil {
			t.Fatalf("expected generated uuid for %q, got %q", incoming, ctxID)
		}
		if headerID != ctxID {
			t.Fatalf("header id %q does not match context id %q", headerID, ctxID)
		}
	}
}

func TestRequestIDFromContextWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := RequestIDFromContext(req.Context()); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}
