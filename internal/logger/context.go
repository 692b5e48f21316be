package logger

import "context"

// contextKey is a private type to prevent collisions with other context keys.
type contextKey struct{}

// correlationIDKey is the context key for the correlation ID that links a
// delegation request to its eventual asynchronous response.
var correlationIDKey = contextKey{}

// WithCorrelationID returns a new context with the given correlation ID stored.
func WithCorrelationID(ctx context.Context, cid string) context.Context {
	return context.WithValue(ctx, correlationIDKey, cid)
}

// CorrelationID extracts the correlation ID from the context.
// Returns an empty string if none is set.
func CorrelationID(ctx context.Context) string {
	cid, _ := ctx.Value(correlationIDKey).(string)
	return cid
}
