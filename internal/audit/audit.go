// Package audit provides the append-only security event log shared by every
// component of the trust layer. Emission is asynchronous: a failure to
// persist an event degrades audit completeness, never the operation that
// produced it.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stitchworks/erp-auth/internal/domain"
)

// Actions recorded by the trust layer.
const (
	ActionLogin             = "LOGIN"
	ActionLoginFailed       = "LOGIN_FAILED"
	ActionLogout            = "LOGOUT"
	ActionTokenRefresh      = "TOKEN_REFRESH"
	ActionTokenReuse        = "TOKEN_REUSE_DETECTED"
	ActionSessionRevoked    = "SESSION_REVOKED"
	ActionSessionRevokedAll = "SESSION_REVOKED_ALL"
	ActionTwoFAEnrollBegin  = "2FA_ENROLL_BEGIN"
	ActionTwoFAEnabled      = "2FA_ENABLE"
	ActionTwoFADisabled     = "2FA_DISABLE"
	ActionTwoFAFailed       = "2FA_FAILED"
	ActionBackupCodeUsed    = "2FA_BACKUP_CODE_USED"
	ActionRateLimited       = "RATE_LIMIT_EXCEEDED"
)

// Event is the emission-side shape; the sink maps it onto the persisted row.
type Event struct {
	WorkspaceID string
	UserID      string
	Action      string
	Resource    string
	ResourceID  string
	OldValues   map[string]any
	NewValues   map[string]any
	IPAddress   string
	UserAgent   string
	At          time.Time
}

// Sink accepts events for durable storage.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// NoOpSink discards events. Used when auditing is disabled and in tests.
type NoOpSink struct{}

func (NoOpSink) Record(context.Context, Event) error { return nil }

// Row maps the event onto its persisted form.
func (e Event) Row() *domain.AuditEvent {
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	ws := e.WorkspaceID
	if ws == "" {
		ws = "security"
	}
	return &domain.AuditEvent{
		WorkspaceID: ws,
		UserID:      e.UserID,
		Action:      e.Action,
		Resource:    e.Resource,
		ResourceID:  e.ResourceID,
		OldValues:   marshalValues(e.OldValues),
		NewValues:   marshalValues(e.NewValues),
		IPAddress:   e.IPAddress,
		UserAgent:   e.UserAgent,
		CreatedAt:   at,
	}
}

func marshalValues(v map[string]any) string {
	if len(v) == 0 {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
