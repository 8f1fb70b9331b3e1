package dashauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/dashauth/renew"
	"github.com/MrEthical07/dashauth/token"
	"github.com/MrEthical07/dashauth/transport"
)

// Refresh asks the backend for a new bearer credential.
//
// On success the credential and user are persisted and the session becomes
// authenticated. Failures that invalidate the session (unauthorized,
// forbidden, not found, client errors) tear it down without a notice.
// Transient failures (timeout, network, server error, rate limited) are
// retried Renewal.TransientRetries times; if they persist, the session is
// torn down only when the stored credential has already expired or cannot
// be decoded, and kept otherwise. Renewal.StrictTeardown tears down on
// every failure.
func (m *Manager) Refresh(ctx context.Context) Result {
	if m.closed.Load() {
		return closedResult()
	}

	var (
		data *transport.AuthData
		err  error
	)
	for attempt := 0; ; attempt++ {
		data, err = m.api.Refresh(ctx)
		if err == nil {
			break
		}
		if m.cfg.Renewal.StrictTeardown || !KindOf(err).Transient() || attempt >= m.cfg.Renewal.TransientRetries {
			break
		}
		m.metrics.Inc(MetricRefreshRetry)
		m.logger.Debug("refresh failed; retrying", "attempt", attempt+1, "kind", KindOf(err), "error", err)
		if !sleepCtx(ctx, m.cfg.Renewal.RetryBackoff*time.Duration(attempt+1)) {
			break
		}
	}

	var user *User
	if err == nil {
		user, err = userFromPayload("refresh", data.User)
	}
	if err != nil {
		return m.refreshFailed(ctx, err)
	}

	var saveErr error
	committed := m.apply(ctx, func(s *Session) {
		if saveErr = m.saveCredentials(ctx, data.AccessToken, user); saveErr != nil {
			return
		}
		s.Status = StatusAuthenticated
		s.User = user
	})
	if saveErr != nil {
		// The old credential may already be revoked by rotation, so an
		// unsaved new one leaves nothing usable.
		m.logger.Error("refreshed credential could not be stored", "error", saveErr)
		return m.refreshFailed(ctx, saveErr)
	}

	m.metrics.Inc(MetricRefreshSuccess)
	m.emitAudit(ctx, auditEventRefreshSuccess, true, user, nil, func() map[string]string {
		if info, ok := token.DecodeAt(data.AccessToken, m.now()); ok && !info.ExpiresAt.IsZero() {
			return map[string]string{"expires_at": auditTime(info.ExpiresAt)}
		}
		return nil
	})
	return Result{Success: true, User: committed.User, Message: data.Message}
}

func (m *Manager) refreshFailed(ctx context.Context, err error) Result {
	kind := KindOf(err)
	msg := userMessage(err, transport.Messages{})
	m.metrics.Inc(MetricRefreshFailure)
	m.emitAudit(ctx, auditEventRefreshFailure, false, m.User(), err, nil)

	if m.cfg.Renewal.StrictTeardown || !kind.Transient() || m.credentialExpired(ctx) {
		m.metrics.Inc(MetricRefreshTeardown)
		m.teardown(ctx, "refresh failed", err)
		return Result{Error: msg}
	}

	m.metrics.Inc(MetricRefreshKeptSession)
	m.logger.Warn("refresh failed; keeping unexpired session", "kind", kind, "error", err)
	return Result{Error: MsgRefreshKeptSession + ": " + msg}
}

// credentialExpired reports whether the stored credential is absent,
// undecodable or past its expiry.
func (m *Manager) credentialExpired(ctx context.Context) bool {
	raw, err := m.creds.Token(context.WithoutCancel(ctx))
	if err != nil {
		return true
	}
	info, ok := token.DecodeAt(raw, m.now())
	return !ok || info.Expired
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// renewTarget adapts a Manager to the renewal scheduler.
type renewTarget struct {
	m *Manager
}

var _ renew.Target = renewTarget{}

func (t renewTarget) IsAuthenticated() bool {
	return t.m.IsAuthenticated()
}

func (t renewTarget) AccessToken(ctx context.Context) (string, error) {
	return t.m.AccessToken(ctx)
}

func (t renewTarget) Renew(ctx context.Context) error {
	res := t.m.Refresh(ctx)
	if res.Success {
		return nil
	}
	return errors.New(res.Error)
}
