package service

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/stitchworks/erp-auth/internal/security"
)

// CredentialVerifierFunc adapts a function to the CredentialVerifier
// interface.
type CredentialVerifierFunc func(ctx context.Context, email, password string) (*security.Subject, error)

func (f CredentialVerifierFunc) VerifyCredentials(ctx context.Context, email, password string) (*security.Subject, error) {
	return f(ctx, email, password)
}

// BootstrapVerifier authenticates a single operator account configured via
// environment, for bootstrapping a deployment before the identity store is
// connected. A nil Subject with nil error means credentials were rejected.
type BootstrapVerifier struct {
	Email        string
	PasswordHash string
	Subject      security.Subject
}

func (v *BootstrapVerifier) VerifyCredentials(_ context.Context, email, password string) (*security.Subject, error) {
	if v.Email == "" || email != v.Email {
		return nil, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(v.PasswordHash), []byte(password)); err != nil {
		return nil, nil
	}
	sub := v.Subject
	return &sub, nil
}
