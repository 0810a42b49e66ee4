package errors

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDMiddlewareMintsID(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if seen == "" {
		t.Fatal("no request ID on context")
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("response header %q, context %q", got, seen)
	}
}

func TestRequestIDMiddlewareHonorsCallerID(t *testing.T) {
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := GetRequestID(r.Context()); got != "caller-id" {
			t.Errorf("context request ID = %q, want caller-id", got)
		}
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "caller-id" {
		t.Errorf("response header = %q, want caller-id", got)
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if got := GetRequestID(req.Context()); got != "" {
		t.Errorf("GetRequestID = %q, want empty", got)
	}
}

func TestHandleFuncWritesError(t *testing.T) {
	h := HandleFunc(func(w http.ResponseWriter, r *http.Request) error {
		return JobNotFound("abc123")
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
