package upstreamtest

import (
	"context"
	"net/http"

	"github.com/campusdesk/campusdesk/internal/authz"
)

func contextWithUser(r *http.Request, u authz.User) context.Context {
	return context.WithValue(r.Context(), userKey{}, u)
}

func userFrom(r *http.Request) authz.User {
	u, _ := r.Context().Value(userKey{}).(authz.User)
	return u
}
