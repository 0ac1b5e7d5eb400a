package shared

import "context"

// Context keys for call-scoped data. Keep types unexported to avoid collisions.
type ctxKey string

const ctxKeyCallID ctxKey = "call-id"

// WithCallID attaches a routed call's id to ctx
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCallID, id)
}

// CallID returns the routed call's id, or "" outside a call
func CallID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyCallID).(string)
	return v
}
