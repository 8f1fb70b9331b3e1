package dashauth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"slices"
	"time"

	internalaudit "github.com/MrEthical07/dashauth/internal/audit"
	"github.com/MrEthical07/dashauth/token"
)

// Status is the coarse state of a session.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusLoading         Status = "loading"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
	StatusError           Status = "error"
)

// Session is the manager's belief about the current authentication state.
type Session struct {
	Status          Status `json:"status" yaml:"status"`
	User            *User  `json:"user" yaml:"user"`
	IsAuthenticated bool   `json:"isAuthenticated" yaml:"isAuthenticated"`
	Error           string `json:"error,omitempty" yaml:"error,omitempty"`
	IsLoading       bool   `json:"isLoading" yaml:"isLoading"`
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	if s.User != nil {
		u := s.User.Clone()
		s.User = &u
	}
	return s
}

// User is the profile record reported by the backend.
type User struct {
	ID          string     `json:"id" yaml:"id"`
	Email       string     `json:"email" yaml:"email"`
	Role        Roles      `json:"role" yaml:"role"`
	IsActive    bool       `json:"isActive" yaml:"isActive"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty" yaml:"lastLoginAt,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// UnmarshalJSON accepts both "id" and the legacy "_id" key.
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	var aux struct {
		plain
		LegacyID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*u = User(aux.plain)
	if u.ID == "" {
		u.ID = aux.LegacyID
	}
	return nil
}

// Clone returns a deep copy of u.
func (u User) Clone() User {
	u.Role = slices.Clone(u.Role)
	u.LastLoginAt = cloneTime(u.LastLoginAt)
	u.CreatedAt = cloneTime(u.CreatedAt)
	u.UpdatedAt = cloneTime(u.UpdatedAt)
	return u
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Roles is a user's role set. On the wire it is either a single string or
// an array of strings.
type Roles []string

func (r *Roles) UnmarshalJSON(data []byte) error {
	var list token.RoleList
	if err := list.UnmarshalJSON(data); err != nil {
		return err
	}
	*r = Roles(list)
	return nil
}

func (r Roles) MarshalJSON() ([]byte, error) {
	return token.RoleList(r).MarshalJSON()
}

// Primary returns the first role, or "".
func (r Roles) Primary() string {
	if len(r) == 0 {
		return ""
	}
	return r[0]
}

// HasAny reports whether r contains at least one of required. An empty
// required set always matches.
func (r Roles) HasAny(required ...string) bool {
	if len(required) == 0 {
		return true
	}
	for _, want := range required {
		if slices.Contains(r, want) {
			return true
		}
	}
	return false
}

// HasAll reports whether r contains every role in required.
func (r Roles) HasAll(required ...string) bool {
	for _, want := range required {
		if !slices.Contains(r, want) {
			return false
		}
	}
	return true
}

// UserPatch is a partial profile update. Nil fields are left unchanged.
type UserPatch struct {
	Email       *string
	Role        Roles
	IsActive    *bool
	LastLoginAt *time.Time
	UpdatedAt   *time.Time
}

// Result is the outcome of a session action as seen by the UI.
type Result struct {
	Success bool
	User    *User
	// Error is a short human-readable message when Success is false.
	Error string
	// Message is the backend's success message, when one was sent.
	Message string
}

// NoticeLevel classifies a user-facing notice.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a transient user-facing message, such as a toast.
type Notice struct {
	Level   NoticeLevel
	Message string
}

// Notifier receives notices for user-initiated actions.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notice)

func (f NotifierFunc) Notify(ctx context.Context, n Notice) {
	f(ctx, n)
}

// AuditEvent is a structured record of a session lifecycle event.
type AuditEvent = internalaudit.Event

// AuditEventType names the transition an [AuditEvent] records.
type AuditEventType = internalaudit.EventType

// AuditSink receives [AuditEvent] values from the manager's dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per event.
type JSONWriterSink = internalaudit.JSONWriterSink

// LogSink records events through a *slog.Logger.
type LogSink = internalaudit.LogSink

// NewChannelSink creates a [ChannelSink] with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewLogSink creates a [LogSink]. A nil logger uses slog.Default.
func NewLogSink(logger *slog.Logger) *LogSink {
	return internalaudit.NewLogSink(logger)
}
