// Package reqctx carries the acting user and correlation id of an inbound
// call through a context.Context.
package reqctx

import "context"

type ctxKey int

const (
	userIDKey ctxKey = iota
	correlationIDKey
)

// CorrelationHeader is the header used to propagate correlation ids.
const CorrelationHeader = "X-Correlation-ID"

// WithUserID returns a copy of ctx carrying the acting user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the acting user id, or "" when none is set.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// WithCorrelationID returns a copy of ctx carrying a correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the correlation id, or "" when none is set.
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}
