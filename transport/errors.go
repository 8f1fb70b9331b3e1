package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a failed call.
type Kind string

const (
	KindTimeout      Kind = "timeout"
	KindNetwork      Kind = "network"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindRateLimited  Kind = "rate_limited"
	KindServerError  Kind = "server_error"
	KindClientError  Kind = "client_error"
)

// Sentinel errors matched by [*Error] through errors.Is.
var (
	ErrTimeout      = errors.New("request timeout")
	ErrNetwork      = errors.New("network error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrServerError  = errors.New("server error")
	ErrClientError  = errors.New("client error")
)

var kindSentinels = map[Kind]error{
	KindTimeout:      ErrTimeout,
	KindNetwork:      ErrNetwork,
	KindUnauthorized: ErrUnauthorized,
	KindForbidden:    ErrForbidden,
	KindNotFound:     ErrNotFound,
	KindRateLimited:  ErrRateLimited,
	KindServerError:  ErrServerError,
	KindClientError:  ErrClientError,
}

// Error describes a failed call to the backend.
type Error struct {
	// Op is the operation name, e.g. "login".
	Op   string
	Kind Kind
	// Status is the HTTP status code, or 0 when no response was received.
	Status int
	// Message is the backend's error text, or a generic description.
	Message   string
	RequestID string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport %s [%s %d]: %s", e.Op, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("transport %s [%s]: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// Transient reports whether a call that failed with k may succeed when
// retried.
func (k Kind) Transient() bool {
	switch k {
	case KindTimeout, KindNetwork, KindServerError, KindRateLimited:
		return true
	}
	return false
}

// KindOf returns the kind of err, or "" when err is not a transport error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// ClassifyStatus maps a non-2xx HTTP status code to a Kind.
func ClassifyStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized:
		return KindUnauthorized
	case code == http.StatusForbidden:
		return KindForbidden
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code >= 500:
		return KindServerError
	default:
		return KindClientError
	}
}

// classifyDoError maps an http.Client.Do failure. parent is the caller's
// context, used to tell a caller cancellation from the call timeout.
func classifyDoError(parent context.Context, err error) Kind {
	if errors.Is(parent.Err(), context.Canceled) {
		return KindNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

// Messages overrides the user-facing text per failure kind. Empty fields
// fall back to the defaults.
type Messages struct {
	Unauthorized string
	Forbidden    string
	NotFound     string
	RateLimited  string
	ServerError  string
	Timeout      string
	Network      string
}

// Default user-facing messages.
const (
	MsgSessionExpired = "Session expired. Please login again."
	MsgAccessDenied   = "Access denied."
	MsgNotFound       = "Resource not found."
	MsgRateLimited    = "Too many requests. Please try again later."
	MsgServerError    = "Server error. Please try again later."
	MsgTimeout        = "Request timeout. Please try again."
	MsgNetwork        = "Network error. Please check your connection."
	MsgGeneric        = "An error occurred."
)

// Message converts err into a short human-readable sentence.
func Message(err error, overrides Messages) string {
	if err == nil {
		return ""
	}
	var te *Error
	if !errors.As(err, &te) {
		if msg := err.Error(); msg != "" {
			return msg
		}
		return MsgNetwork
	}
	switch te.Kind {
	case KindUnauthorized:
		return pick(overrides.Unauthorized, MsgSessionExpired)
	case KindForbidden:
		return pick(overrides.Forbidden, MsgAccessDenied)
	case KindNotFound:
		return pick(overrides.NotFound, MsgNotFound)
	case KindRateLimited:
		return pick(overrides.RateLimited, MsgRateLimited)
	case KindServerError:
		return pick(overrides.ServerError, MsgServerError)
	case KindTimeout:
		return pick(overrides.Timeout, MsgTimeout)
	case KindNetwork:
		return pick(overrides.Network, MsgNetwork)
	default:
		return pick(te.Message, MsgGeneric)
	}
}

func pick(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}
