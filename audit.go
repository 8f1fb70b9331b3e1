package dashauth

import (
	"context"
	"time"

	internalaudit "github.com/MrEthical07/dashauth/internal/audit"
)

const (
	auditEventLoginSuccess    = internalaudit.EventLoginSuccess
	auditEventLoginFailure    = internalaudit.EventLoginFailure
	auditEventRefreshSuccess  = internalaudit.EventRefreshSuccess
	auditEventRefreshFailure  = internalaudit.EventRefreshFailure
	auditEventSessionTeardown = internalaudit.EventSessionTeardown
	auditEventLogout          = internalaudit.EventLogout
	auditEventLogoutAll       = internalaudit.EventLogoutAll
	auditEventCheckAuth       = internalaudit.EventCheckAuth
	auditEventProfileSync     = internalaudit.EventProfileSync
)

// emitAudit records eventType with the session status current at the time
// of the call, so it must run after the transition was applied.
func (m *Manager) emitAudit(
	ctx context.Context,
	eventType AuditEventType,
	success bool,
	user *User,
	err error,
	metadataBuilder func() map[string]string,
) {
	if m == nil || m.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: m.now().UTC(),
		Type:      eventType,
		Status:    string(m.Status()),
		Success:   success,
		Metadata:  metadata,
	}
	if user != nil {
		event.UserID = user.ID
		event.Email = user.Email
	}
	if err != nil {
		event.Kind = string(KindOf(err))
		event.Error = err.Error()
	}

	m.audit.Emit(ctx, event)
}

func auditTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
