package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stitchworks/erp-auth/internal/audit"
	"github.com/stitchworks/erp-auth/internal/domain"
	"github.com/stitchworks/erp-auth/internal/repository"
	"github.com/stitchworks/erp-auth/internal/security"
)

var (
	ErrInvalidRefreshToken       = errors.New("invalid refresh token")
	ErrSessionRevoked            = errors.New("session revoked")
	ErrRefreshTokenReuseDetected = errors.New("refresh token reuse detected")
)

// TokenPair is what a successful login or refresh hands back to the client.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// TokenService mints and verifies signed tokens and keeps the server-side
// session record in step with every issued refresh token. Verification of a
// refresh is always a dual check: signature and expiry on the token itself,
// plus the session row's revocation state.
type TokenService struct {
	jwtMgr      *security.JWTManager
	sessionRepo repository.SessionRepository
	auditor     *audit.Dispatcher
	pepper      string
	maxSessions int
}

func NewTokenService(jwtMgr *security.JWTManager, sessionRepo repository.SessionRepository, auditor *audit.Dispatcher, pepper string, maxSessions int) *TokenService {
	return &TokenService{
		jwtMgr:      jwtMgr,
		sessionRepo: sessionRepo,
		auditor:     auditor,
		pepper:      pepper,
		maxSessions: maxSessions,
	}
}

// Issue mints a token pair for sub and records the backing session. When the
// per-user session cap is hit the least recently active session is evicted.
func (s *TokenService) Issue(ctx context.Context, sub security.Subject, ua, ip string) (*TokenPair, *domain.Session, error) {
	if s.maxSessions > 0 {
		count, err := s.sessionRepo.CountActiveByUserID(ctx, sub.UserID)
		if err != nil {
			return nil, nil, err
		}
		if count >= int64(s.maxSessions) {
			if err := s.sessionRepo.RevokeOldestByUserID(ctx, sub.UserID, repository.ReasonEvictedOldest); err != nil {
				return nil, nil, err
			}
		}
	}

	pair, refreshClaims, err := s.mintPair(sub)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now().UTC()
	session := &domain.Session{
		ID:               uuid.NewString(),
		UserID:           sub.UserID,
		WorkspaceID:      sub.WorkspaceID,
		RefreshTokenHash: security.HashRefreshToken(pair.RefreshToken, s.pepper),
		TokenID:          ptr(refreshClaims.ID),
		FamilyID:         ptr(refreshClaims.ID),
		ParentTokenID:    nil,
		UserAgent:        ua,
		IP:               ip,
		ExpiresAt:        now.Add(s.jwtMgr.RefreshTTL()),
		LastActivityAt:   now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, nil, err
	}
	return pair, session, nil
}

// Verify checks signature, expiry and token type. The exact failure is
// logged here; callers surface only a generic unauthenticated outcome.
func (s *TokenService) Verify(raw, expectedType string) *security.Claims {
	claims, err := s.jwtMgr.Parse(raw, expectedType)
	if err != nil {
		slog.Debug("token verification failed", "expected_type", expectedType, "error", err.Error())
		return nil
	}
	return claims
}

// RotateFromRefresh mints a new access token from a valid refresh token's
// claims. It performs only the stateless check; Refresh composes it with the
// session store for server-enforced revocation.
func (s *TokenService) RotateFromRefresh(refreshToken string) (string, error) {
	claims, err := s.jwtMgr.ParseRefreshToken(refreshToken)
	if err != nil {
		return "", ErrInvalidRefreshToken
	}
	return s.jwtMgr.SignAccessToken(claims.ToSubject())
}

// Refresh exchanges a refresh token for a rotated pair. The old session row
// is revoked and replaced inside one transaction so concurrent refreshes of
// the same token admit at most one winner; presenting an already-rotated
// token is treated as theft and revokes the whole token family.
func (s *TokenService) Refresh(ctx context.Context, refreshToken, ua, ip string) (*TokenPair, *domain.Session, error) {
	claims, err := s.jwtMgr.ParseRefreshToken(refreshToken)
	if err != nil {
		slog.Debug("refresh token rejected", "error", err.Error())
		return nil, nil, ErrInvalidRefreshToken
	}
	hash := security.HashRefreshToken(refreshToken, s.pepper)
	session, err := s.sessionRepo.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, nil, ErrInvalidRefreshToken
		}
		return nil, nil, err
	}
	if session.UserID != claims.RegisteredClaims.Subject {
		return nil, nil, ErrInvalidRefreshToken
	}
	if session.RevokedAt != nil {
		reason := strOf(session.RevokedReason)
		if reason == repository.ReasonRotated || reason == repository.ReasonReuseDetected {
			// A rotated token came back: someone is replaying it. Kill the
			// entire family so neither party keeps a usable session.
			_ = s.sessionRepo.MarkReuseDetectedByHash(ctx, hash)
			familyID := strOf(session.FamilyID)
			if familyID != "" {
				_, _ = s.sessionRepo.RevokeByFamilyID(ctx, familyID, repository.ReasonReuseDetected)
			}
			s.auditor.Emit(audit.Event{
				WorkspaceID: session.WorkspaceID,
				UserID:      session.UserID,
				Action:      audit.ActionTokenReuse,
				Resource:    "session",
				ResourceID:  session.ID,
				IPAddress:   ip,
				UserAgent:   ua,
				NewValues:   map[string]any{"family_id": familyID},
			})
			return nil, nil, ErrRefreshTokenReuseDetected
		}
		return nil, nil, ErrSessionRevoked
	}
	if session.ExpiresAt.Before(time.Now()) {
		_ = s.sessionRepo.RevokeByHash(ctx, hash, repository.ReasonExpired)
		return nil, nil, ErrInvalidRefreshToken
	}

	pair, newClaims, err := s.mintPair(claims.ToSubject())
	if err != nil {
		return nil, nil, err
	}
	now := time.Now().UTC()
	newSession := &domain.Session{
		ID:               uuid.NewString(),
		UserID:           session.UserID,
		WorkspaceID:      session.WorkspaceID,
		RefreshTokenHash: security.HashRefreshToken(pair.RefreshToken, s.pepper),
		TokenID:          ptr(newClaims.ID),
		FamilyID:         session.FamilyID,
		ParentTokenID:    session.TokenID,
		UserAgent:        ua,
		IP:               ip,
		ExpiresAt:        now.Add(s.jwtMgr.RefreshTTL()),
		LastActivityAt:   now,
	}
	if _, err := s.sessionRepo.RotateSession(ctx, hash, newSession); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			// Lost the race against a concurrent refresh of the same token.
			return nil, nil, ErrRefreshTokenReuseDetected
		}
		return nil, nil, err
	}
	return pair, newSession, nil
}

// RevokeAll logs the subject out everywhere and reports how many sessions
// were revoked.
func (s *TokenService) RevokeAll(ctx context.Context, userID, reason string) (int64, error) {
	return s.sessionRepo.RevokeByUserID(ctx, userID, reason)
}

func (s *TokenService) mintPair(sub security.Subject) (*TokenPair, *security.Claims, error) {
	refresh, err := s.jwtMgr.SignRefreshToken(sub)
	if err != nil {
		return nil, nil, err
	}
	refreshClaims, err := s.jwtMgr.ParseRefreshToken(refresh)
	if err != nil {
		return nil, nil, err
	}
	access, err := s.jwtMgr.SignAccessTokenWithJTI(sub, refreshClaims.ID)
	if err != nil {
		return nil, nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(s.jwtMgr.AccessTTL().Seconds()),
	}, refreshClaims, nil
}

func ptr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func strOf(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
