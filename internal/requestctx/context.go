// Package requestctx carries the authenticated caller through a request.
package requestctx

import (
	"context"

	"github.com/ethanteng/finsight-sub001/internal/tier"
)

type contextKey struct{}

var callerKey = &contextKey{}

// Caller is the user an API key resolved to.
type Caller struct {
	UserID string
	Tier   tier.Tier
}

// WithCaller stores c in ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFrom returns the caller stored in ctx.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}

// UserID returns the caller's user id, or "" if unauthenticated.
func UserID(ctx context.Context) string {
	c, _ := CallerFrom(ctx)
	return c.UserID
}
