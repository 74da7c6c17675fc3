package middlewarex

import (
	"context"

	"malricpharma/internal/domain/user"
)

type ctxKey string

const (
	ctxPrincipal ctxKey = "principal"
)

func WithPrincipal(ctx context.Context, p user.Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipal, p)
}

// Principal returns the authenticated caller set by RequireAuth.
func Principal(ctx context.Context) (user.Principal, bool) {
	v, ok := ctx.Value(ctxPrincipal).(user.Principal)
	return v, ok
}
