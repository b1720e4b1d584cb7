package logging

import (
	"context"

	"github.com/google/uuid"
)

// CorrelationIDHeader is the HTTP header requests may use to supply
// their own correlation id. The server echoes it on responses.
const CorrelationIDHeader = "X-Correlation-ID"

type contextKey struct{}

var correlationIDKey contextKey

// WithCorrelationID returns a context carrying the correlation id.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// GetCorrelationID returns the correlation id on the context, or ""
// when none is set.
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// GenerateCorrelationID returns a fresh UUID correlation id.
func GenerateCorrelationID() string {
	return uuid.New().String()
}
