package errors

import (
	"context"

	"github.com/google/uuid"
)

type contextKey int

const requestIDKey contextKey = iota

// GenerateRequestID mints a fresh request ID.
func GenerateRequestID() string {
	return uuid.New().String()
}

// WithRequestID stores a request ID on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the request ID from the context, or "" when none was set.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
