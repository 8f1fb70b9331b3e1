package middleware

import (
	"net/http"
)

// RequireSession guards next using stored credentials only, with no
// backend call. roles, when given, restrict access to users holding any
// of them.
func RequireSession(src SessionSource, roles ...string) func(http.Handler) http.Handler {
	return Guard(src, Options{RequiredRoles: roles}, nil)
}
