package dashauth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	internalaudit "github.com/MrEthical07/dashauth/internal/audit"
	"github.com/MrEthical07/dashauth/renew"
	"github.com/MrEthical07/dashauth/store"
	"github.com/MrEthical07/dashauth/token"
	"github.com/MrEthical07/dashauth/transport"
)

// Transport is the subset of the backend client the manager drives.
// *transport.Client satisfies it.
type Transport interface {
	Login(ctx context.Context, email, password string) (*transport.AuthData, error)
	Refresh(ctx context.Context) (*transport.AuthData, error)
	Logout(ctx context.Context) (*transport.Envelope, error)
	LogoutAll(ctx context.Context) (*transport.Envelope, error)
	Profile(ctx context.Context) (*transport.ProfileData, error)
	Validate(ctx context.Context) (*transport.ValidateData, error)
	Status(ctx context.Context) (*transport.StatusData, error)
}

// cookieKeeper is implemented by transports whose cookies can be saved with
// the session. *transport.Client implements it.
type cookieKeeper interface {
	SessionCookies() []transport.StoredCookie
	RestoreSessionCookies([]transport.StoredCookie)
	ResetSessionCookies()
}

var errNoAuthData = errors.New("no stored credential or user")

type subscriber struct {
	id uint64
	fn func(Session)
}

// Manager owns the client-side session. All methods are safe for concurrent
// use. Backend calls run outside the state lock, so when two actions race
// the one that completes last determines the final state.
type Manager struct {
	cfg     Config
	api     Transport
	creds   *store.Credentials
	logger  *slog.Logger
	metrics *Metrics
	audit   *internalaudit.Dispatcher
	notify  Notifier
	renewer *renew.Scheduler
	now     func() time.Time
	closers []io.Closer

	baseCtx    context.Context
	cancelBase context.CancelFunc
	closed     atomic.Bool

	mu      sync.Mutex
	state   Session
	saved   *Session
	subs    []subscriber
	nextSub uint64
}

// Session returns a copy of the current session.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Status
}

// User returns a copy of the current user, or nil.
func (m *Manager) User() *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.User == nil {
		return nil
	}
	u := m.state.User.Clone()
	return &u
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.IsAuthenticated
}

func (m *Manager) IsLoading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.IsLoading
}

func (m *Manager) Error() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Error
}

// HasRole reports whether the current user holds any of roles.
func (m *Manager) HasRole(roles ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.User != nil && m.state.User.Role.HasAny(roles...)
}

// HasAllRoles reports whether the current user holds every role in roles.
func (m *Manager) HasAllRoles(roles ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.User != nil && m.state.User.Role.HasAll(roles...)
}

// Metrics returns the manager's counters.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// MetricsSnapshot copies the current counters for exporters.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// AuditDropped is the number of audit events lost to a full buffer.
func (m *Manager) AuditDropped() uint64 {
	return m.audit.Dropped()
}

func (m *Manager) Config() Config {
	return m.cfg
}

// AccessToken returns the stored bearer credential, or "" when none is held.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	return m.creds.Token(ctx)
}

// Subscribe registers fn to receive every committed session. Calls happen
// outside the manager's lock, in commit order per caller. The returned func
// removes the subscription.
func (m *Manager) Subscribe(fn func(Session)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// StalenessBound returns the longest the current session can go before the
// scheduler next asks the backend to confirm it: the credential's remaining
// lifetime beyond the renewal threshold, plus one interval. It is zero when
// renewal is disabled or no session is held.
func (m *Manager) StalenessBound(ctx context.Context) time.Duration {
	if !m.cfg.Renewal.Enabled || !m.IsAuthenticated() {
		return 0
	}
	raw, err := m.creds.Token(ctx)
	if err != nil {
		return 0
	}
	info, ok := token.DecodeAt(raw, m.now())
	if !ok || info.ExpiresAt.IsZero() {
		return m.cfg.Renewal.Interval
	}
	return max(info.Remaining(m.now())-m.cfg.Renewal.Threshold, 0) + m.cfg.Renewal.Interval
}

// Initialize restores the session from storage and starts renewal when a
// session is found.
func (m *Manager) Initialize(ctx context.Context) Result {
	return m.CheckAuth(ctx)
}

// Close stops renewal, drains the audit dispatcher and closes any store the
// manager opened itself. It is idempotent.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.cancelBase()
	if m.renewer != nil {
		m.renewer.Stop()
		m.renewer.Wait()
	}
	m.audit.Close()

	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Login validates the form, authenticates against the backend and persists
// the resulting credential and user. A failed attempt leaves any previously
// stored credentials untouched.
func (m *Manager) Login(ctx context.Context, email, password string) Result {
	if m.closed.Load() {
		return closedResult()
	}

	form, err := ValidateLogin(LoginForm{Email: email, Password: password})
	if err != nil {
		msg := err.Error()
		m.metrics.Inc(MetricLoginRejectedInput)
		m.apply(ctx, func(s *Session) {
			s.Status = StatusError
			s.Error = msg
		})
		m.emitAudit(ctx, auditEventLoginFailure, false, nil, err, nil)
		return Result{Error: msg}
	}

	m.apply(ctx, func(s *Session) { s.Status = StatusLoading })

	data, err := m.api.Login(ctx, form.Email, form.Password)
	var user *User
	if err == nil {
		user, err = userFromPayload("login", data.User)
	}
	if err != nil {
		msg := userMessage(err, loginMessages)
		m.metrics.Inc(MetricLoginFailure)
		m.logger.Info("login failed", "email", form.Email, "kind", KindOf(err), "error", err)
		m.apply(ctx, func(s *Session) {
			s.Status = StatusError
			s.Error = msg
		})
		m.emitAudit(ctx, auditEventLoginFailure, false, &User{Email: form.Email}, err, nil)
		m.notice(ctx, NoticeError, msg)
		return Result{Error: msg}
	}

	var saveErr error
	committed := m.apply(ctx, func(s *Session) {
		if saveErr = m.saveCredentials(ctx, data.AccessToken, user); saveErr != nil {
			s.Status = StatusError
			s.Error = MsgSessionSaveFailed
			return
		}
		s.Status = StatusAuthenticated
		s.User = user
	})
	if saveErr != nil {
		m.metrics.Inc(MetricLoginFailure)
		m.logger.Error("login succeeded but credentials could not be stored", "error", saveErr)
		m.emitAudit(ctx, auditEventLoginFailure, false, user, saveErr, nil)
		m.notice(ctx, NoticeError, MsgSessionSaveFailed)
		return Result{Error: MsgSessionSaveFailed}
	}

	m.metrics.Inc(MetricLoginSuccess)
	m.logger.Info("login succeeded", "user_id", user.ID)
	m.emitAudit(ctx, auditEventLoginSuccess, true, user, nil, nil)

	msg := data.Message
	if msg == "" {
		msg = MsgWelcomeBack
	}
	m.notice(ctx, NoticeSuccess, msg)
	return Result{Success: true, User: committed.User, Message: data.Message}
}

// CheckAuth derives the session from stored credentials without contacting
// the backend. A missing or malformed credential or user clears both and
// leaves the session unauthenticated. When the store itself cannot be read
// nothing is cleared and the session moves to the error status.
func (m *Manager) CheckAuth(ctx context.Context) Result {
	if m.closed.Load() {
		return closedResult()
	}

	user, err := m.loadCredentials(ctx)
	switch {
	case err == nil:
	case localDataAbsent(err):
		m.metrics.Inc(MetricCheckAuthMiss)
		m.apply(ctx, func(s *Session) {
			if cerr := m.creds.ClearAuth(context.WithoutCancel(ctx)); cerr != nil {
				m.logger.Warn("clearing partial credentials failed", "error", cerr)
			}
			m.resetCookies()
			s.Status = StatusUnauthenticated
			s.User = nil
		})
		m.emitAudit(ctx, auditEventCheckAuth, false, nil, err, nil)
		return Result{Error: MsgNoAuthData}
	default:
		m.metrics.Inc(MetricCheckAuthMiss)
		m.apply(ctx, func(s *Session) {
			s.Status = StatusError
			s.Error = MsgStoreUnavailable
		})
		m.emitAudit(ctx, auditEventCheckAuth, false, nil, err, nil)
		return Result{Error: MsgStoreUnavailable}
	}

	m.restoreCookies(ctx)

	committed := m.apply(ctx, func(s *Session) {
		s.Status = StatusAuthenticated
		s.User = user
	})
	m.metrics.Inc(MetricCheckAuthHit)
	m.emitAudit(ctx, auditEventCheckAuth, true, user, nil, nil)
	return Result{Success: true, User: committed.User}
}

// Logout ends the session on this device. The backend call is best effort:
// local credentials are always cleared and the result is always a success.
func (m *Manager) Logout(ctx context.Context) Result {
	return m.endSession(ctx, false, true)
}

// LogoutAll ends every session of the user. Like Logout, local state is
// always cleared.
func (m *Manager) LogoutAll(ctx context.Context) Result {
	return m.endSession(ctx, true, true)
}

func (m *Manager) endSession(ctx context.Context, all, notify bool) Result {
	if m.closed.Load() {
		return closedResult()
	}

	user := m.User()
	m.apply(ctx, func(s *Session) { s.Status = StatusLoading })

	var err error
	if all {
		_, err = m.api.LogoutAll(ctx)
	} else {
		_, err = m.api.Logout(ctx)
	}
	if err != nil {
		m.metrics.Inc(MetricLogoutRemoteFailure)
		m.logger.Info("remote logout failed; clearing local session", "all_devices", all, "kind", KindOf(err), "error", err)
	}

	m.apply(ctx, func(s *Session) {
		if cerr := m.creds.ClearAll(context.WithoutCancel(ctx)); cerr != nil {
			m.logger.Warn("clearing credentials failed", "error", cerr)
		}
		m.resetCookies()
		s.Status = StatusUnauthenticated
		s.User = nil
	})

	event, msg, metric := auditEventLogout, MsgLoggedOut, MetricLogout
	if all {
		event, msg, metric = auditEventLogoutAll, MsgLoggedOutAll, MetricLogoutAll
	}
	m.metrics.Inc(metric)
	m.emitAudit(ctx, event, true, user, err, nil)
	if notify {
		m.notice(ctx, NoticeSuccess, msg)
	}
	return Result{Success: true}
}

// ClearError drops the error message and keeps the status. It does nothing
// when no error is set.
func (m *Manager) ClearError() {
	m.mu.Lock()
	if m.state.Error == "" {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.apply(context.Background(), func(s *Session) { s.Error = "" })
}

// SetLoading forces the loading status on or off. Turning it off restores
// the session that was current when it was turned on.
func (m *Manager) SetLoading(loading bool) {
	m.mu.Lock()
	if loading == (m.state.Status == StatusLoading) {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.apply(context.Background(), func(s *Session) {
		if loading {
			s.Status = StatusLoading
			return
		}
		if m.saved != nil {
			*s = m.saved.Clone()
		} else {
			s.Status = StatusIdle
		}
	})
}

// UpdateProfile merges patch into the current user and persists it. It is
// ignored unless the session is authenticated.
func (m *Manager) UpdateProfile(ctx context.Context, patch UserPatch) Result {
	if m.closed.Load() {
		return closedResult()
	}

	var saveErr error
	ok := false
	committed := m.apply(ctx, func(s *Session) {
		if s.Status != StatusAuthenticated || s.User == nil {
			return
		}
		ok = true
		u := s.User.Clone()
		patch.applyTo(&u)
		if saveErr = m.saveUser(ctx, &u); saveErr != nil {
			return
		}
		s.User = &u
	})
	switch {
	case !ok:
		return Result{Error: MsgNotAuthenticated}
	case saveErr != nil:
		m.logger.Warn("profile update not persisted", "error", saveErr)
		return Result{Error: MsgSessionSaveFailed}
	}
	return Result{Success: true, User: committed.User}
}

func (p UserPatch) applyTo(u *User) {
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Role != nil {
		u.Role = append(Roles(nil), p.Role...)
	}
	if p.IsActive != nil {
		u.IsActive = *p.IsActive
	}
	if p.LastLoginAt != nil {
		u.LastLoginAt = cloneTime(p.LastLoginAt)
	}
	if p.UpdatedAt != nil {
		u.UpdatedAt = cloneTime(p.UpdatedAt)
	}
}

// SyncProfile replaces the cached user with the backend's profile. An
// unauthorized response tears the session down; other failures leave it as
// it is.
func (m *Manager) SyncProfile(ctx context.Context) Result {
	if m.closed.Load() {
		return closedResult()
	}
	if !m.IsAuthenticated() {
		return Result{Error: MsgNotAuthenticated}
	}

	data, err := m.api.Profile(ctx)
	var user *User
	if err == nil {
		user, err = userFromPayload("profile", data.User)
	}
	if err != nil {
		return m.remoteCheckFailed(ctx, "profile", err)
	}
	return m.replaceUser(ctx, user)
}

// VerifyRemote asks the backend whether the session is still valid. A
// negative or unauthorized answer tears the session down. Backends without
// a status endpoint are asked through validate instead.
func (m *Manager) VerifyRemote(ctx context.Context) Result {
	if m.closed.Load() {
		return closedResult()
	}
	if !m.IsAuthenticated() {
		return Result{Error: MsgNotAuthenticated}
	}

	op := "status"
	var (
		valid   bool
		rawUser json.RawMessage
	)
	data, err := m.api.Status(ctx)
	if KindOf(err) == KindNotFound {
		op = "validate"
		var vd *transport.ValidateData
		if vd, err = m.api.Validate(ctx); err == nil {
			valid, rawUser = vd.Valid, vd.User
		}
	} else if err == nil {
		valid, rawUser = data.IsAuthenticated, data.User
	}
	if err != nil {
		return m.remoteCheckFailed(ctx, op, err)
	}
	if !valid {
		m.teardown(ctx, "backend reports session ended", nil)
		return Result{Error: transport.MsgSessionExpired}
	}
	if len(rawUser) == 0 || string(rawUser) == "null" {
		return Result{Success: true, User: m.User()}
	}
	user, err := userFromPayload(op, rawUser)
	if err != nil {
		return Result{Error: userMessage(err, transport.Messages{})}
	}
	return m.replaceUser(ctx, user)
}

func (m *Manager) remoteCheckFailed(ctx context.Context, op string, err error) Result {
	msg := userMessage(err, transport.Messages{})
	if KindOf(err) == KindUnauthorized {
		m.teardown(ctx, op+" rejected", err)
		return Result{Error: msg}
	}
	m.logger.Info("remote session check failed", "op", op, "kind", KindOf(err), "error", err)
	return Result{Error: msg}
}

func (m *Manager) replaceUser(ctx context.Context, user *User) Result {
	var saveErr error
	applied := false
	committed := m.apply(ctx, func(s *Session) {
		if s.Status != StatusAuthenticated {
			return
		}
		applied = true
		if saveErr = m.saveUser(ctx, user); saveErr != nil {
			return
		}
		s.User = user
	})
	switch {
	case !applied:
		return Result{Error: MsgNotAuthenticated}
	case saveErr != nil:
		m.logger.Warn("synced profile not persisted", "error", saveErr)
		return Result{Error: MsgSessionSaveFailed}
	}
	m.emitAudit(ctx, auditEventProfileSync, true, user, nil, nil)
	return Result{Success: true, User: committed.User}
}

// teardown ends the session without a user-facing notice.
func (m *Manager) teardown(ctx context.Context, reason string, cause error) {
	m.logger.Info("tearing down session", "reason", reason, "kind", KindOf(cause))
	user := m.User()
	m.endSession(ctx, false, false)
	m.emitAudit(ctx, auditEventSessionTeardown, true, user, cause, func() map[string]string {
		return map[string]string{"reason": reason}
	})
}

// apply commits one transition. fn mutates a copy of the current session
// and may write credentials; the result is normalized, projected to the
// store and published to subscribers.
func (m *Manager) apply(ctx context.Context, fn func(s *Session)) Session {
	m.mu.Lock()
	prev := m.state
	next := prev.Clone()
	fn(&next)
	normalize(&next)

	switch {
	case next.Status == StatusLoading && prev.Status != StatusLoading:
		saved := prev.Clone()
		m.saved = &saved
	case next.Status != StatusLoading:
		m.saved = nil
	}

	m.state = next
	if err := m.creds.SetSnapshot(context.WithoutCancel(ctx), Project(next)); err != nil {
		m.logger.Warn("session snapshot not persisted", "status", next.Status, "error", err)
	}
	subs := make([]func(Session), 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s.fn)
	}
	m.mu.Unlock()

	m.syncRenewal(next.Status)
	for _, fn := range subs {
		fn(next.Clone())
	}
	return next.Clone()
}

// normalize enforces the session invariants: authenticated iff a user is
// present, loading iff IsLoading, and an error message only in the error
// status.
func normalize(s *Session) {
	if s.Status == StatusAuthenticated && s.User == nil {
		s.Status = StatusUnauthenticated
	}
	s.IsAuthenticated = s.Status == StatusAuthenticated
	if !s.IsAuthenticated {
		s.User = nil
	}
	s.IsLoading = s.Status == StatusLoading
	if s.Status != StatusError {
		s.Error = ""
	}
}

func (m *Manager) syncRenewal(status Status) {
	if m.renewer == nil {
		return
	}
	switch status {
	case StatusAuthenticated:
		if m.cfg.Renewal.Enabled && !m.closed.Load() {
			m.renewer.Start(m.baseCtx)
		}
	case StatusUnauthenticated:
		m.renewer.Stop()
	}
}

func (m *Manager) saveCredentials(ctx context.Context, accessToken string, user *User) error {
	ctx = context.WithoutCancel(ctx)
	if err := m.creds.SetToken(ctx, accessToken); err != nil {
		return err
	}
	if err := m.saveUser(ctx, user); err != nil {
		return err
	}
	return m.saveCookies(ctx)
}

// saveCookies persists the transport's cookies next to the credential so a
// later process can still refresh.
func (m *Manager) saveCookies(ctx context.Context) error {
	k, ok := m.api.(cookieKeeper)
	if !ok {
		return nil
	}
	cookies := k.SessionCookies()
	if len(cookies) == 0 {
		return m.creds.SetCookies(ctx, nil)
	}
	raw, err := json.Marshal(cookies)
	if err != nil {
		return err
	}
	return m.creds.SetCookies(ctx, raw)
}

// restoreCookies loads saved cookies into the transport. Unreadable cookie
// sets are ignored; the next refresh then fails like a missing cookie.
func (m *Manager) restoreCookies(ctx context.Context) {
	k, ok := m.api.(cookieKeeper)
	if !ok {
		return
	}
	raw, err := m.creds.Cookies(ctx)
	if err != nil {
		m.logger.Warn("reading saved cookies failed", "error", err)
		return
	}
	if len(raw) == 0 {
		return
	}
	var cookies []transport.StoredCookie
	if err := json.Unmarshal(raw, &cookies); err != nil {
		m.metrics.Inc(MetricMalformedLocalData)
		m.logger.Warn("saved cookies are malformed", "error", err)
		return
	}
	k.RestoreSessionCookies(cookies)
}

func (m *Manager) resetCookies() {
	if k, ok := m.api.(cookieKeeper); ok {
		k.ResetSessionCookies()
	}
}

func (m *Manager) saveUser(ctx context.Context, user *User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return m.creds.SetUser(context.WithoutCancel(ctx), raw)
}

// loadCredentials returns the stored user when both the credential and the
// user are present and readable. Missing or malformed data is reported so
// that [localDataAbsent] holds; other errors come from the store itself.
func (m *Manager) loadCredentials(ctx context.Context) (*User, error) {
	tok, err := m.creds.Token(ctx)
	if err != nil {
		return nil, m.storeReadFailed("credential", err)
	}
	raw, err := m.creds.User(ctx)
	if err != nil {
		return nil, m.storeReadFailed("user", err)
	}
	if tok == "" || len(raw) == 0 {
		return nil, errNoAuthData
	}
	user, err := decodeUser(raw)
	if err != nil {
		m.metrics.Inc(MetricMalformedLocalData)
		m.logger.Warn("stored user is malformed", "error", err)
		return nil, errors.Join(ErrMalformedLocalData, err)
	}
	return user, nil
}

func (m *Manager) storeReadFailed(what string, err error) error {
	if errors.Is(err, store.ErrCorrupt) {
		m.metrics.Inc(MetricMalformedLocalData)
		m.logger.Warn("stored "+what+" is corrupt", "error", err)
		return errors.Join(ErrMalformedLocalData, err)
	}
	m.logger.Warn("reading stored "+what+" failed", "error", err)
	return err
}

// localDataAbsent reports whether err means the stored session is missing
// or unusable, as opposed to the store being unreachable.
func localDataAbsent(err error) bool {
	return errors.Is(err, errNoAuthData) || errors.Is(err, ErrMalformedLocalData)
}

func (m *Manager) notice(ctx context.Context, level NoticeLevel, msg string) {
	if m.notify == nil || msg == "" {
		return
	}
	m.notify.Notify(ctx, Notice{Level: level, Message: msg})
}

// userFromPayload decodes a backend user record. Undecodable records are
// reported as client errors of op.
func userFromPayload(op string, raw json.RawMessage) (*User, error) {
	user, err := decodeUser(raw)
	if err != nil {
		return nil, &transport.Error{
			Op:      op,
			Kind:    transport.KindClientError,
			Status:  http.StatusOK,
			Message: op + " failed",
			Err:     err,
		}
	}
	return user, nil
}

func closedResult() Result {
	return Result{Error: ErrManagerClosed.Error()}
}
