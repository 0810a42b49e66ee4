package errors

import (
	"net/http"
)

const (
	// RequestIDHeader is the HTTP header carrying the request ID
	RequestIDHeader = "X-Request-ID"
)

// RequestIDMiddleware injects a request ID into the context and response headers
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Honor an ID supplied by the caller, otherwise mint one
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = GenerateRequestID()
		}

		// Make the ID available to handlers and loggers
		ctx := WithRequestID(r.Context(), requestID)

		// Echo the ID back so clients can correlate responses with logs
		w.Header().Set(RequestIDHeader, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Handler is an http.HandlerFunc that reports failures as errors
type Handler func(w http.ResponseWriter, r *http.Request) error

// HandleFunc adapts a Handler to http.HandlerFunc, rendering any returned
// error as a JSON error response tagged with the request ID.
func HandleFunc(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			requestID := GetRequestID(r.Context())
			WriteError(w, requestID, err)
		}
	}
}
