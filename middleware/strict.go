package middleware

import (
	"net/http"
)

// RequireVerified guards next with a backend confirmation of the session on
// every request, optionally restricted to roles (any-of).
func RequireVerified(src SessionSource, roles ...string) func(http.Handler) http.Handler {
	return Guard(src, Options{RequiredRoles: roles, VerifyRemote: true}, nil)
}
