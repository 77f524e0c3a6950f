package service

import (
	"context"
	"errors"
	"time"

	"github.com/stitchworks/erp-auth/internal/audit"
	"github.com/stitchworks/erp-auth/internal/observability"
	"github.com/stitchworks/erp-auth/internal/repository"
	"github.com/stitchworks/erp-auth/internal/security"
)

// SessionView is the client-facing shape of a session record. Hashes and
// lineage columns never leave the server.
type SessionView struct {
	ID             string     `json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	UserAgent      string     `json:"user_agent"`
	IP             string     `json:"ip"`
	IsCurrent      bool       `json:"is_current"`
}

type SessionService struct {
	sessionRepo repository.SessionRepository
	auditor     *audit.Dispatcher
	pepper      string
}

func NewSessionService(sessionRepo repository.SessionRepository, auditor *audit.Dispatcher, pepper string) *SessionService {
	return &SessionService{sessionRepo: sessionRepo, auditor: auditor, pepper: pepper}
}

// Validate reports whether refreshToken is backed by a live session. An
// expired record is revoked as a side effect; a live one gets its activity
// timestamp bumped.
func (s *SessionService) Validate(ctx context.Context, refreshToken string) (bool, error) {
	hash := security.HashRefreshToken(refreshToken, s.pepper)
	session, err := s.sessionRepo.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}
	if session.RevokedAt != nil {
		return false, nil
	}
	now := time.Now()
	if !now.Before(session.ExpiresAt) {
		_ = s.sessionRepo.RevokeByHash(ctx, hash, repository.ReasonExpired)
		return false, nil
	}
	if err := s.sessionRepo.TouchActivity(ctx, session.ID, now.UTC()); err != nil {
		return false, err
	}
	return true, nil
}

// ResolveCurrentSessionID finds the caller's own session from the refresh
// cookie hash so the session list can flag it.
func (s *SessionService) ResolveCurrentSessionID(ctx context.Context, refreshToken, userID string) string {
	if refreshToken == "" {
		return ""
	}
	hash := security.HashRefreshToken(refreshToken, s.pepper)
	session, err := s.sessionRepo.FindByHash(ctx, hash)
	if err != nil || session.UserID != userID || !session.Active(time.Now()) {
		return ""
	}
	return session.ID
}

func (s *SessionService) ListActive(ctx context.Context, userID, currentSessionID string) ([]SessionView, error) {
	sessions, err := s.sessionRepo.ListActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, SessionView{
			ID:             session.ID,
			CreatedAt:      session.CreatedAt,
			LastActivityAt: session.LastActivityAt,
			ExpiresAt:      session.ExpiresAt,
			RevokedAt:      session.RevokedAt,
			UserAgent:      session.UserAgent,
			IP:             session.IP,
			IsCurrent:      session.ID == currentSessionID,
		})
	}
	return views, nil
}

func (s *SessionService) CountActive(ctx context.Context, userID string) (int64, error) {
	return s.sessionRepo.CountActiveByUserID(ctx, userID)
}

// Revoke ends one of the caller's sessions. Idempotent: revoking an already
// revoked session reports "already_revoked" without error.
func (s *SessionService) Revoke(ctx context.Context, userID, sessionID, ua, ip string) (string, error) {
	changed, err := s.sessionRepo.RevokeByIDForUser(ctx, userID, sessionID, repository.ReasonUserRevoked)
	if err != nil {
		return "", err
	}
	if !changed {
		return "already_revoked", nil
	}
	s.auditor.Emit(audit.Event{
		UserID:     userID,
		Action:     audit.ActionSessionRevoked,
		Resource:   "session",
		ResourceID: sessionID,
		IPAddress:  ip,
		UserAgent:  ua,
	})
	return "revoked", nil
}

// RevokeAll logs the user out everywhere and returns the count revoked.
func (s *SessionService) RevokeAll(ctx context.Context, userID, ua, ip string) (int64, error) {
	count, err := s.sessionRepo.RevokeByUserID(ctx, userID, repository.ReasonRevokedAll)
	if err != nil {
		return 0, err
	}
	s.auditor.Emit(audit.Event{
		UserID:    userID,
		Action:    audit.ActionSessionRevokedAll,
		Resource:  "session",
		IPAddress: ip,
		UserAgent: ua,
		NewValues: map[string]any{"revoked_count": count},
	})
	return count, nil
}

// SweepExpired removes session rows past their expiry. Runs on the periodic
// sweeper, never inline with a request.
func (s *SessionService) SweepExpired(ctx context.Context) (int64, error) {
	count, err := s.sessionRepo.CleanupExpired(ctx)
	if err != nil {
		return count, err
	}
	observability.RecordSessionSweep(count)
	return count, nil
}
