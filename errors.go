package dashauth

import (
	"errors"

	"github.com/MrEthical07/dashauth/store"
	"github.com/MrEthical07/dashauth/transport"
)

// ErrorKind classifies failures surfaced by the session manager.
type ErrorKind string

const (
	KindTimeout            ErrorKind = "timeout"
	KindNetwork            ErrorKind = "network"
	KindUnauthorized       ErrorKind = "unauthorized"
	KindForbidden          ErrorKind = "forbidden"
	KindNotFound           ErrorKind = "not_found"
	KindRateLimited        ErrorKind = "rate_limited"
	KindServerError        ErrorKind = "server_error"
	KindClientError        ErrorKind = "client_error"
	KindMalformedLocalData ErrorKind = "malformed_local_data"
	KindUnknown            ErrorKind = "unknown"
)

var (
	// ErrBuilderUsed is returned when Build is called twice.
	ErrBuilderUsed = errors.New("builder already used")
	// ErrManagerClosed is returned by operations on a closed manager.
	ErrManagerClosed = errors.New("session manager closed")
	// ErrInvalidLoginForm is returned by ValidateLogin for rejected input.
	ErrInvalidLoginForm = errors.New("invalid login form")
	// ErrMalformedLocalData marks persisted data that could not be decoded.
	ErrMalformedLocalData = errors.New("malformed local data")
	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("invalid config")
)

// User-facing messages.
const (
	MsgNoAuthData         = "No authentication data"
	MsgInvalidCredentials = "Invalid email or password"
	MsgLoginRateLimited   = "Too many login attempts. Please try again later."
	MsgLoginUnavailable   = "Login service unavailable. Please try again later."
	MsgUnknownError       = "An unexpected error occurred. Please try again."
	MsgWelcomeBack        = "Welcome back!"
	MsgLoggedOut          = "Logged out successfully"
	MsgLoggedOutAll       = "Logged out from all devices"
	MsgSessionSaveFailed  = "Unable to save your session. Please try again."
	MsgNotAuthenticated   = "Not authenticated"
	MsgRefreshKeptSession = "Unable to renew session right now"
	MsgStoreUnavailable   = "Unable to read the saved session. Please try again."
)

// loginMessages maps login failures to user-facing text.
var loginMessages = transport.Messages{
	Unauthorized: MsgInvalidCredentials,
	RateLimited:  MsgLoginRateLimited,
	ServerError:  MsgLoginUnavailable,
}

// KindOf classifies err. Nil errors return "".
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrMalformedLocalData) ||
		errors.Is(err, store.ErrMalformedSnapshot) ||
		errors.Is(err, store.ErrCorrupt) {
		return KindMalformedLocalData
	}
	switch transport.KindOf(err) {
	case transport.KindTimeout:
		return KindTimeout
	case transport.KindNetwork:
		return KindNetwork
	case transport.KindUnauthorized:
		return KindUnauthorized
	case transport.KindForbidden:
		return KindForbidden
	case transport.KindNotFound:
		return KindNotFound
	case transport.KindRateLimited:
		return KindRateLimited
	case transport.KindServerError:
		return KindServerError
	case transport.KindClientError:
		return KindClientError
	}
	return KindUnknown
}

// Transient reports whether k describes a failure that may clear up on its
// own, as opposed to one that invalidates the session.
func (k ErrorKind) Transient() bool {
	return transport.Kind(k).Transient()
}

// userMessage turns err into text for the session error field. Failures
// that did not come from the backend get a generic sentence.
func userMessage(err error, overrides transport.Messages) string {
	if err == nil {
		return ""
	}
	if transport.KindOf(err) == "" {
		return MsgUnknownError
	}
	return transport.Message(err, overrides)
}
