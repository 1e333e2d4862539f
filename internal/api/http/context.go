package http

import (
	"context"

	"car-rental-backend/internal/domain"
)

type callerKey struct{}

// WithCaller stores the authenticated caller on the request context.
func WithCaller(ctx context.Context, c domain.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the caller set by the auth middleware. An
// unauthenticated request yields the zero Caller, which every service rejects.
func CallerFromContext(ctx context.Context) domain.Caller {
	c, _ := ctx.Value(callerKey{}).(domain.Caller)
	return c
}
