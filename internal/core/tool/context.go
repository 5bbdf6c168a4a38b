package tool

import "context"

type connIDKey struct{}

// WithConnectionID returns a context carrying the calling connection's id.
func WithConnectionID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, connIDKey{}, connID)
}

// ConnectionID returns the id set by WithConnectionID, or "".
func ConnectionID(ctx context.Context) string {
	id, _ := ctx.Value(connIDKey{}).(string)
	return id
}
