package webdav

import (
	"context"

	"github.com/menxli/lfss-go/pkg/types"
)

type contextKey int

const userContextKey contextKey = iota

// WithUser attaches the resolved caller to ctx so FileSystem/LockSystem
// methods (which only receive a context.Context, per the x/net/webdav
// interfaces) can recover it.
func WithUser(ctx context.Context, u *types.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

func userFromContext(ctx context.Context) *types.User {
	if u, ok := ctx.Value(userContextKey).(*types.User); ok && u != nil {
		return u
	}
	return types.GuestUser()
}
