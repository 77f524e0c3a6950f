package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/stitchworks/erp-auth/internal/audit"
	"github.com/stitchworks/erp-auth/internal/domain"
	"github.com/stitchworks/erp-auth/internal/observability"
	"github.com/stitchworks/erp-auth/internal/repository"
	"github.com/stitchworks/erp-auth/internal/security"
)

const backupCodeCount = 10

var (
	ErrNotEnrolled     = errors.New("two-factor authentication not enrolled")
	ErrAlreadyEnabled  = errors.New("two-factor authentication already enabled")
	ErrInvalidTOTPCode = errors.New("invalid verification code")
	ErrNotPendingSetup = errors.New("no pending two-factor enrollment")
)

// EnrollmentSetup is returned from BeginEnrollment exactly once; the secret
// is never recoverable from storage in plaintext afterwards.
type EnrollmentSetup struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

// TwoFactorService drives TOTP enrollment and verification. Secrets live
// vault-encrypted; backup codes are stored as hashes and consumed on use.
type TwoFactorService struct {
	repo    repository.TwoFactorRepository
	vault   *security.Vault
	auditor *audit.Dispatcher
	issuer  string
}

func NewTwoFactorService(repo repository.TwoFactorRepository, vault *security.Vault, auditor *audit.Dispatcher, issuer string) *TwoFactorService {
	return &TwoFactorService{repo: repo, vault: vault, auditor: auditor, issuer: issuer}
}

// Enabled reports whether the user has a confirmed enrollment.
func (s *TwoFactorService) Enabled(ctx context.Context, userID string) (bool, error) {
	enrollment, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrEnrollmentNotFound) {
			return false, nil
		}
		return false, err
	}
	return enrollment.Enabled, nil
}

// BeginEnrollment generates a fresh secret and stores it encrypted with
// enabled=false. Re-running replaces any unconfirmed secret; an already
// enabled enrollment must be disabled first.
func (s *TwoFactorService) BeginEnrollment(ctx context.Context, userID, accountLabel string) (*EnrollmentSetup, error) {
	existing, err := s.repo.Get(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrEnrollmentNotFound) {
		return nil, err
	}
	if existing != nil && existing.Enabled {
		return nil, ErrAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: accountLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	encrypted, err := s.vault.Encrypt(key.Secret())
	if err != nil {
		return nil, fmt.Errorf("encrypt totp secret: %w", err)
	}
	enrollment := &domain.TwoFactorEnrollment{
		UserID:          userID,
		EncryptedSecret: encrypted,
		Enabled:         false,
	}
	if err := s.repo.Upsert(ctx, enrollment); err != nil {
		return nil, err
	}
	s.auditor.Emit(audit.Event{
		UserID:   userID,
		Action:   audit.ActionTwoFAEnrollBegin,
		Resource: "two_factor",
	})
	return &EnrollmentSetup{Secret: key.Secret(), ProvisioningURI: key.URL()}, nil
}

// ConfirmEnrollment verifies candidateCode against the pending secret and,
// on success, enables 2FA and returns the one-time backup codes. An invalid
// code leaves the enrollment pending; it never silently enables.
func (s *TwoFactorService) ConfirmEnrollment(ctx context.Context, userID, candidateCode string) ([]string, error) {
	enrollment, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrEnrollmentNotFound) {
			return nil, ErrNotPendingSetup
		}
		return nil, err
	}
	if enrollment.Enabled {
		return nil, ErrAlreadyEnabled
	}
	secret, err := s.vault.Decrypt(enrollment.EncryptedSecret)
	if err != nil {
		return nil, err
	}
	if !totp.Validate(strings.TrimSpace(candidateCode), secret) {
		observability.RecordTwoFactorAttempt("totp", "confirm_failed")
		s.auditor.Emit(audit.Event{
			UserID:    userID,
			Action:    audit.ActionTwoFAFailed,
			Resource:  "two_factor",
			NewValues: map[string]any{"phase": "confirm"},
		})
		return nil, ErrInvalidTOTPCode
	}

	codes, hashes, err := s.generateBackupCodes()
	if err != nil {
		return nil, err
	}
	hashJSON, err := json.Marshal(hashes)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	enrollment.Enabled = true
	enrollment.ConfirmedAt = &now
	enrollment.BackupCodeJSON = string(hashJSON)
	if err := s.repo.Save(ctx, enrollment); err != nil {
		return nil, err
	}
	observability.RecordTwoFactorAttempt("totp", "enabled")
	s.auditor.Emit(audit.Event{
		UserID:   userID,
		Action:   audit.ActionTwoFAEnabled,
		Resource: "two_factor",
	})
	return codes, nil
}

// VerifyCode checks a TOTP code for an enabled enrollment. Used on every
// login once enrolled.
func (s *TwoFactorService) VerifyCode(ctx context.Context, userID, code string) (bool, error) {
	enrollment, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrEnrollmentNotFound) {
			return false, ErrNotEnrolled
		}
		return false, err
	}
	if !enrollment.Enabled {
		return false, ErrNotEnrolled
	}
	secret, err := s.vault.Decrypt(enrollment.EncryptedSecret)
	if err != nil {
		return false, err
	}
	ok := totp.Validate(strings.TrimSpace(code), secret)
	if ok {
		observability.RecordTwoFactorAttempt("totp", "success")
	} else {
		observability.RecordTwoFactorAttempt("totp", "failure")
	}
	return ok, nil
}

// VerifyBackupCode checks code against the stored hashes and consumes the
// matching hash so each backup code works exactly once.
func (s *TwoFactorService) VerifyBackupCode(ctx context.Context, userID, code string) (bool, error) {
	enrollment, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrEnrollmentNotFound) {
			return false, ErrNotEnrolled
		}
		return false, err
	}
	if !enrollment.Enabled {
		return false, ErrNotEnrolled
	}
	var hashes []string
	if enrollment.BackupCodeJSON != "" {
		if err := json.Unmarshal([]byte(enrollment.BackupCodeJSON), &hashes); err != nil {
			return false, err
		}
	}
	normalized := strings.ToUpper(strings.TrimSpace(code))
	matched := -1
	for i, h := range hashes {
		if s.vault.VerifyHash(normalized, h) {
			matched = i
			break
		}
	}
	if matched < 0 {
		observability.RecordTwoFactorAttempt("backup_code", "failure")
		return false, nil
	}
	hashes = append(hashes[:matched], hashes[matched+1:]...)
	remaining, err := json.Marshal(hashes)
	if err != nil {
		return false, err
	}
	enrollment.BackupCodeJSON = string(remaining)
	if err := s.repo.Save(ctx, enrollment); err != nil {
		return false, err
	}
	observability.RecordTwoFactorAttempt("backup_code", "success")
	s.auditor.Emit(audit.Event{
		UserID:    userID,
		Action:    audit.ActionBackupCodeUsed,
		Resource:  "two_factor",
		NewValues: map[string]any{"remaining": len(hashes)},
	})
	return true, nil
}

// Disable clears the secret and all backup code hashes.
func (s *TwoFactorService) Disable(ctx context.Context, userID string) error {
	if err := s.repo.Delete(ctx, userID); err != nil {
		return err
	}
	s.auditor.Emit(audit.Event{
		UserID:   userID,
		Action:   audit.ActionTwoFADisabled,
		Resource: "two_factor",
	})
	return nil
}

// generateBackupCodes mints backupCodeCount unique codes in XXXX-XXXX form
// and returns them alongside their storage hashes.
func (s *TwoFactorService) generateBackupCodes() ([]string, []string, error) {
	codes := make([]string, 0, backupCodeCount)
	hashes := make([]string, 0, backupCodeCount)
	seen := make(map[string]struct{}, backupCodeCount)
	for len(codes) < backupCodeCount {
		raw := make([]byte, 4)
		if _, err := rand.Read(raw); err != nil {
			return nil, nil, err
		}
		hexCode := strings.ToUpper(hex.EncodeToString(raw))
		code := hexCode[:4] + "-" + hexCode[4:]
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
		hashes = append(hashes, s.vault.Hash(code))
	}
	return codes, hashes, nil
}
