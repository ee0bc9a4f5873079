package api

import (
	"context"
	"net/http"

	"github.com/menxli/lfss-go/pkg/types"
)

type contextKey int

const userContextKey contextKey = iota

func withUser(r *http.Request, u *types.User) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userContextKey, u))
}

// userFromRequest returns the resolved caller, or the guest user if the
// auth middleware never ran (e.g. in a handler unit test).
func userFromRequest(r *http.Request) *types.User {
	if u, ok := r.Context().Value(userContextKey).(*types.User); ok && u != nil {
		return u
	}
	return types.GuestUser()
}
