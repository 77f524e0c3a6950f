package service

import (
	"context"
	"errors"

	"github.com/stitchworks/erp-auth/internal/audit"
	"github.com/stitchworks/erp-auth/internal/observability"
	"github.com/stitchworks/erp-auth/internal/security"
)

var (
	// ErrUnauthenticated is the single outcome surfaced for every failed
	// login or refresh: bad credentials, bad 2FA code, forged, expired or
	// revoked tokens all collapse into it so callers get no oracle. The
	// specific cause is preserved in the audit log.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrTwoFactorRequired signals that credentials were accepted but a
	// second factor is still needed to finish the login.
	ErrTwoFactorRequired = errors.New("two-factor code required")
)

// CredentialVerifier resolves primary credentials. The relational identity
// store behind it is an external collaborator.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, email, password string) (*security.Subject, error)
}

// ClientMeta carries the request attribution recorded with every decision.
type ClientMeta struct {
	IP        string
	UserAgent string
}

type AuthService struct {
	credentials CredentialVerifier
	tokens      *TokenService
	twoFactor   *TwoFactorService
	sessions    *SessionService
	auditor     *audit.Dispatcher
}

func NewAuthService(credentials CredentialVerifier, tokens *TokenService, twoFactor *TwoFactorService, sessions *SessionService, auditor *audit.Dispatcher) *AuthService {
	return &AuthService{
		credentials: credentials,
		tokens:      tokens,
		twoFactor:   twoFactor,
		sessions:    sessions,
		auditor:     auditor,
	}
}

// Login verifies credentials, runs the second factor when enrolled and
// issues a token pair backed by a session record. totpCode may be a TOTP
// code or a backup code.
func (s *AuthService) Login(ctx context.Context, email, password, totpCode string, meta ClientMeta) (*TokenPair, error) {
	sub, err := s.credentials.VerifyCredentials(ctx, email, password)
	if err != nil || sub == nil {
		observability.RecordAuthLogin("invalid_credentials")
		s.auditor.Emit(audit.Event{
			Action:    audit.ActionLoginFailed,
			Resource:  "auth",
			IPAddress: meta.IP,
			UserAgent: meta.UserAgent,
			NewValues: map[string]any{"cause": "invalid_credentials", "email": email},
		})
		return nil, ErrUnauthenticated
	}

	enrolled, err := s.twoFactor.Enabled(ctx, sub.UserID)
	if err != nil {
		return nil, err
	}
	if enrolled {
		if totpCode == "" {
			return nil, ErrTwoFactorRequired
		}
		ok, err := s.twoFactor.VerifyCode(ctx, sub.UserID, totpCode)
		if err != nil && !errors.Is(err, ErrNotEnrolled) {
			return nil, err
		}
		if !ok {
			ok, err = s.twoFactor.VerifyBackupCode(ctx, sub.UserID, totpCode)
			if err != nil {
				return nil, err
			}
		}
		if !ok {
			observability.RecordAuthLogin("invalid_second_factor")
			s.auditor.Emit(audit.Event{
				WorkspaceID: sub.WorkspaceID,
				UserID:      sub.UserID,
				Action:      audit.ActionLoginFailed,
				Resource:    "auth",
				IPAddress:   meta.IP,
				UserAgent:   meta.UserAgent,
				NewValues:   map[string]any{"cause": "invalid_second_factor"},
			})
			return nil, ErrUnauthenticated
		}
	}

	pair, session, err := s.tokens.Issue(ctx, *sub, meta.UserAgent, meta.IP)
	if err != nil {
		return nil, err
	}
	observability.RecordAuthLogin("success")
	s.auditor.Emit(audit.Event{
		WorkspaceID: sub.WorkspaceID,
		UserID:      sub.UserID,
		Action:      audit.ActionLogin,
		Resource:    "session",
		ResourceID:  session.ID,
		IPAddress:   meta.IP,
		UserAgent:   meta.UserAgent,
		NewValues:   map[string]any{"two_factor": enrolled},
	})
	return pair, nil
}

// Refresh rotates a refresh token. All failure causes collapse into
// ErrUnauthenticated for the caller while the audit trail keeps the cause.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (*TokenPair, error) {
	pair, session, err := s.tokens.Refresh(ctx, refreshToken, meta.UserAgent, meta.IP)
	if err != nil {
		cause := "invalid_token"
		switch {
		case errors.Is(err, ErrRefreshTokenReuseDetected):
			cause = "reuse_detected"
		case errors.Is(err, ErrSessionRevoked):
			cause = "session_revoked"
		case errors.Is(err, ErrInvalidRefreshToken):
			cause = "invalid_token"
		default:
			return nil, err
		}
		observability.RecordAuthRefresh(cause)
		s.auditor.Emit(audit.Event{
			Action:    audit.ActionTokenRefresh,
			Resource:  "session",
			IPAddress: meta.IP,
			UserAgent: meta.UserAgent,
			NewValues: map[string]any{"outcome": cause},
		})
		return nil, ErrUnauthenticated
	}
	observability.RecordAuthRefresh("success")
	s.auditor.Emit(audit.Event{
		WorkspaceID: session.WorkspaceID,
		UserID:      session.UserID,
		Action:      audit.ActionTokenRefresh,
		Resource:    "session",
		ResourceID:  session.ID,
		IPAddress:   meta.IP,
		UserAgent:   meta.UserAgent,
		NewValues:   map[string]any{"outcome": "success"},
	})
	return pair, nil
}

// Logout revokes the session backing refreshToken. Missing or foreign
// tokens are ignored: logout is idempotent from the client's view.
func (s *AuthService) Logout(ctx context.Context, userID, refreshToken string, meta ClientMeta) error {
	if refreshToken == "" {
		observability.RecordAuthLogout("no_token")
		return nil
	}
	sessionID := s.sessions.ResolveCurrentSessionID(ctx, refreshToken, userID)
	if sessionID == "" {
		observability.RecordAuthLogout("no_session")
		return nil
	}
	if _, err := s.sessions.Revoke(ctx, userID, sessionID, meta.UserAgent, meta.IP); err != nil {
		return err
	}
	observability.RecordAuthLogout("success")
	s.auditor.Emit(audit.Event{
		UserID:     userID,
		Action:     audit.ActionLogout,
		Resource:   "session",
		ResourceID: sessionID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return nil
}
