package auth

import (
	"context"

	"github.com/dmitrijs2005/counselkeeper/internal/server/access"
)

type callerKey struct{}

// WithCaller stores the resolved caller. A nil caller marks the request as
// unauthenticated.
func WithCaller(ctx context.Context, c *access.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the caller stored by WithCaller, or nil.
func CallerFromContext(ctx context.Context) *access.Caller {
	c, _ := ctx.Value(callerKey{}).(*access.Caller)
	return c
}
