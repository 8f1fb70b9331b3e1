package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/MrEthical07/dashauth"
)

// SessionSource is the session the guard consults. *dashauth.Manager
// satisfies it.
type SessionSource interface {
	CheckAuth(ctx context.Context) dashauth.Result
	VerifyRemote(ctx context.Context) dashauth.Result
	Session() dashauth.Session
}

// GuardState is the outcome of one access decision.
type GuardState string

const (
	StateInitializing    GuardState = "initializing"
	StateLoading         GuardState = "loading"
	StateError           GuardState = "error"
	StateUnauthenticated GuardState = "unauthenticated"
	StateForbidden       GuardState = "forbidden"
	StateAuthorized      GuardState = "authorized"
)

// DefaultLoginPath is where unauthenticated requests are sent.
const DefaultLoginPath = "/login"

// DefaultReturnPath is the landing page after login when no safe "from"
// parameter is present.
const DefaultReturnPath = "/dashboard"

// Options configures a guard.
type Options struct {
	// LoginPath defaults to DefaultLoginPath.
	LoginPath string
	// RequiredRoles grants access to users holding any of them. Empty means
	// any authenticated user.
	RequiredRoles []string
	// RequireAllRoles switches RequiredRoles to all-of matching.
	RequireAllRoles bool
	// VerifyRemote confirms an authenticated session with the backend on
	// every request instead of trusting stored credentials.
	VerifyRemote bool
	// Observer is called with every decision.
	Observer func(Decision)
}

// Decision is the result of [Decide].
type Decision struct {
	State GuardState
	// Redirect is set for StateUnauthenticated.
	Redirect string
	// Error is set for StateError.
	Error   string
	Session dashauth.Session
}

// Decide checks the session for a request to requested, which is the path
// and query to return to after login.
func Decide(ctx context.Context, src SessionSource, opts Options, requested string) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			d = Decision{State: StateError, Error: fmt.Sprintf("authentication check failed: %v", r)}
		}
		if opts.Observer != nil {
			opts.Observer(d)
		}
	}()

	if src == nil {
		return Decision{State: StateError, Error: "no session source configured"}
	}

	src.CheckAuth(ctx)
	if opts.VerifyRemote && src.Session().IsAuthenticated {
		src.VerifyRemote(ctx)
	}

	s := src.Session()
	switch s.Status {
	case dashauth.StatusIdle:
		return Decision{State: StateInitializing, Session: s}
	case dashauth.StatusLoading:
		return Decision{State: StateLoading, Session: s}
	case dashauth.StatusError:
		return Decision{State: StateError, Error: s.Error, Session: s}
	}

	if !s.IsAuthenticated {
		return Decision{
			State:    StateUnauthenticated,
			Redirect: loginRedirect(opts.LoginPath, requested),
			Session:  s,
		}
	}

	if len(opts.RequiredRoles) > 0 {
		ok := s.User.Role.HasAny(opts.RequiredRoles...)
		if opts.RequireAllRoles {
			ok = s.User.Role.HasAll(opts.RequiredRoles...)
		}
		if !ok {
			return Decision{State: StateForbidden, Session: s}
		}
	}
	return Decision{State: StateAuthorized, Session: s}
}

// Guard wraps next with an access check. Authorized requests reach next with
// the session attached to their context; the rest are answered by
// renderers, or [DefaultRenderers] when nil.
func Guard(src SessionSource, opts Options, renderers Renderers) func(http.Handler) http.Handler {
	if renderers == nil {
		renderers = DefaultRenderers()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := Decide(r.Context(), src, opts, r.URL.RequestURI())

			switch d.State {
			case StateAuthorized:
				next.ServeHTTP(w, r.WithContext(dashauth.WithSession(r.Context(), d.Session)))
			case StateUnauthenticated:
				http.Redirect(w, r, d.Redirect, http.StatusSeeOther)
			case StateForbidden:
				renderers.Forbidden(w, r, d)
			case StateError:
				renderers.Error(w, r, d, loginPath(opts.LoginPath))
			default:
				renderers.Loading(w, r, d)
			}
		})
	}
}

// SessionFromContext returns the session of an authorized request.
func SessionFromContext(ctx context.Context) (dashauth.Session, bool) {
	return dashauth.SessionFromContext(ctx)
}

// ReturnTo reads the "from" parameter set by the guard's redirect. Only
// local absolute paths are accepted; anything else yields
// DefaultReturnPath.
func ReturnTo(r *http.Request) string {
	from := r.FormValue("from")
	if !isLocalPath(from) {
		return DefaultReturnPath
	}
	return from
}

func isLocalPath(p string) bool {
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.ContainsAny(p, "\\\r\n") {
		return false
	}
	u, err := url.Parse(p)
	return err == nil && u.Scheme == "" && u.Host == ""
}

func loginPath(p string) string {
	if p == "" {
		return DefaultLoginPath
	}
	return p
}

func loginRedirect(login, requested string) string {
	login = loginPath(login)
	if requested == "" {
		return login
	}
	sep := "?"
	if strings.Contains(login, "?") {
		sep = "&"
	}
	return login + sep + "from=" + url.QueryEscape(requested)
}
