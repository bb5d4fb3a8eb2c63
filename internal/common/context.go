package common

import "context"

type contextKey int

const (
	requestIDKey contextKey = iota
	orgIDKey
	userIDKey
)

// WithRequestID tags ctx with the id used to correlate logs of one request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithIdentity stores the caller's organization and user.
func WithIdentity(ctx context.Context, orgID, userID string) context.Context {
	ctx = context.WithValue(ctx, orgIDKey, orgID)
	return context.WithValue(ctx, userIDKey, userID)
}

// OrgIDFromContext is the tenant every case and rule query is scoped to.
func OrgIDFromContext(ctx context.Context) string {
	return stringValue(ctx, orgIDKey)
}

func UserIDFromContext(ctx context.Context) string {
	return stringValue(ctx, userIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}
