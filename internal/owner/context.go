// Package owner carries the authenticated owner id through a request context.
package owner

import "context"

type contextKey string

const ownerKey contextKey = "owner"

func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ownerKey, id)
}

// IDFromContext returns the owner id, or "" when the request is unauthenticated.
func IDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ownerKey).(string)
	return id
}
