package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var ErrUnexpectedTokenType = errors.New("unexpected token type")

// Claims is the signed token payload. The token_type claim is checked by
// every verifier so a refresh token can never pass as an access token or
// the other way around.
type Claims struct {
	TokenType   string `json:"type"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role,omitempty"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	jwt.RegisteredClaims
}

type JWTManager struct {
	issuer     string
	audience   string
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewJWTManager(issuer, audience, secret string, accessTTL, refreshTTL time.Duration) *JWTManager {
	return &JWTManager{
		issuer:     issuer,
		audience:   audience,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

func (m *JWTManager) AccessTTL() time.Duration  { return m.accessTTL }
func (m *JWTManager) RefreshTTL() time.Duration { return m.refreshTTL }

// Subject identifies the principal a token is minted for.
type Subject struct {
	UserID      string
	Email       string
	Role        string
	WorkspaceID string
}

func (m *JWTManager) SignAccessToken(sub Subject) (string, error) {
	return m.SignAccessTokenWithJTI(sub, uuid.NewString())
}

func (m *JWTManager) SignAccessTokenWithJTI(sub Subject, jti string) (string, error) {
	if jti == "" {
		jti = uuid.NewString()
	}
	return m.sign(sub, TokenTypeAccess, m.accessTTL, jti)
}

func (m *JWTManager) SignRefreshToken(sub Subject) (string, error) {
	return m.sign(sub, TokenTypeRefresh, m.refreshTTL, uuid.NewString())
}

func (m *JWTManager) sign(sub Subject, tokenType string, ttl time.Duration, jti string) (string, error) {
	now := time.Now()
	claims := Claims{
		TokenType:   tokenType,
		Email:       sub.Email,
		Role:        sub.Role,
		WorkspaceID: sub.WorkspaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   sub.UserID,
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	return m.Parse(raw, TokenTypeAccess)
}

func (m *JWTManager) ParseRefreshToken(raw string) (*Claims, error) {
	return m.Parse(raw, TokenTypeRefresh)
}

// Parse verifies signature, expiry, issuer, audience and the expected token
// type. Any failure yields a nil claims result; callers collapse all causes
// to a single unauthenticated outcome.
func (m *JWTManager) Parse(raw, expectedType string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithAudience(m.audience))
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TokenType != expectedType {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedTokenType, claims.TokenType)
	}
	return claims, nil
}

// IsExpiringSoon reports whether claims expire within threshold, letting
// clients refresh proactively before hard expiry.
func IsExpiringSoon(claims *Claims, threshold time.Duration) bool {
	if claims == nil || claims.ExpiresAt == nil {
		return true
	}
	return time.Until(claims.ExpiresAt.Time) <= threshold
}

// ToSubject extracts the principal fields carried by verified claims.
func (c *Claims) ToSubject() Subject {
	return Subject{
		UserID:      c.RegisteredClaims.Subject,
		Email:       c.Email,
		Role:        c.Role,
		WorkspaceID: c.WorkspaceID,
	}
}
