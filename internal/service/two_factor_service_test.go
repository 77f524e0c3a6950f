package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/stitchworks/erp-auth/internal/audit"
	"github.com/stitchworks/erp-auth/internal/security"
)

func newTestTwoFactorService(t *testing.T, sink audit.Sink) (*TwoFactorService, *memoryTwoFactorRepo, *audit.Dispatcher) {
	t.Helper()
	vault, err := security.NewVault("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}
	repo := newMemoryTwoFactorRepo()
	auditor := newTestAuditor(sink)
	return NewTwoFactorService(repo, vault, auditor, "StitchWorks ERP"), repo, auditor
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	return code
}

func enableTwoFactor(t *testing.T, svc *TwoFactorService, userID string) (string, []string) {
	t.Helper()
	ctx := context.Background()
	setup, err := svc.BeginEnrollment(ctx, userID, userID+"@plant.example")
	if err != nil {
		t.Fatalf("BeginEnrollment: %v", err)
	}
	codes, err := svc.ConfirmEnrollment(ctx, userID, currentCode(t, setup.Secret))
	if err != nil {
		t.Fatalf("ConfirmEnrollment: %v", err)
	}
	return setup.Secret, codes
}

func TestTwoFactorEnrollmentFlow(t *testing.T) {
	svc, repo, auditor := newTestTwoFactorService(t, &captureSink{})
	defer auditor.Close()
	ctx := context.Background()

	setup, err := svc.BeginEnrollment(ctx, "user-1", "ops@plant.example")
	if err != nil {
		t.Fatalf("BeginEnrollment: %v", err)
	}
	if setup.Secret == "" || setup.ProvisioningURI == "" {
		t.Fatal("empty enrollment setup")
	}

	// The stored secret is encrypted, not the raw value.
	stored, err := repo.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.EncryptedSecret == setup.Secret {
		t.Fatal("secret stored in plaintext")
	}
	if stored.Enabled {
		t.Fatal("enrollment enabled before confirmation")
	}

	// Not enabled yet, so login-time verification refuses.
	if _, err := svc.VerifyCode(ctx, "user-1", currentCode(t, setup.Secret)); !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("VerifyCode before confirm = %v, want ErrNotEnrolled", err)
	}

	codes, err := svc.ConfirmEnrollment(ctx, "user-1", currentCode(t, setup.Secret))
	if err != nil {
		t.Fatalf("ConfirmEnrollment: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("backup codes = %d, want 10", len(codes))
	}
	format := regexp.MustCompile(`^[0-9A-F]{4}-[0-9A-F]{4}$`)
	seen := map[string]struct{}{}
	for _, c := range codes {
		if !format.MatchString(c) {
			t.Fatalf("backup code %q does not match XXXX-XXXX", c)
		}
		if _, dup := seen[c]; dup {
			t.Fatalf("duplicate backup code %q", c)
		}
		seen[c] = struct{}{}
	}

	stored, _ = repo.Get(ctx, "user-1")
	if !stored.Enabled || stored.ConfirmedAt == nil {
		t.Fatal("enrollment not enabled after confirmation")
	}
	for _, c := range codes {
		if regexp.MustCompile(regexp.QuoteMeta(c)).MatchString(stored.BackupCodeJSON) {
			t.Fatal("backup code stored in plaintext")
		}
	}

	ok, err := svc.VerifyCode(ctx, "user-1", currentCode(t, setup.Secret))
	if err != nil || !ok {
		t.Fatalf("VerifyCode after enable = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = svc.VerifyCode(ctx, "user-1", "000000")
	if err != nil || ok {
		t.Fatalf("VerifyCode with wrong code = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestTwoFactorConfirmWrongCodeLeavesPending(t *testing.T) {
	sink := &captureSink{}
	svc, repo, auditor := newTestTwoFactorService(t, sink)
	ctx := context.Background()

	setup, err := svc.BeginEnrollment(ctx, "user-1", "ops@plant.example")
	if err != nil {
		t.Fatalf("BeginEnrollment: %v", err)
	}
	if _, err := svc.ConfirmEnrollment(ctx, "user-1", "000000"); !errors.Is(err, ErrInvalidTOTPCode) {
		t.Fatalf("ConfirmEnrollment wrong code = %v, want ErrInvalidTOTPCode", err)
	}

	stored, _ := repo.Get(ctx, "user-1")
	if stored.Enabled {
		t.Fatal("wrong code enabled the enrollment")
	}

	// The pending secret still works for a later correct confirmation.
	if _, err := svc.ConfirmEnrollment(ctx, "user-1", currentCode(t, setup.Secret)); err != nil {
		t.Fatalf("ConfirmEnrollment after retry: %v", err)
	}

	auditor.Close()
	if !sink.has(audit.ActionTwoFAFailed) {
		t.Fatalf("audit actions = %v, missing %q", sink.actions(), audit.ActionTwoFAFailed)
	}
}

func TestTwoFactorConfirmStates(t *testing.T) {
	svc, _, auditor := newTestTwoFactorService(t, &captureSink{})
	defer auditor.Close()
	ctx := context.Background()

	if _, err := svc.ConfirmEnrollment(ctx, "nobody", "123456"); !errors.Is(err, ErrNotPendingSetup) {
		t.Fatalf("confirm without enrollment = %v, want ErrNotPendingSetup", err)
	}

	secret, _ := enableTwoFactor(t, svc, "user-1")
	if _, err := svc.ConfirmEnrollment(ctx, "user-1", currentCode(t, secret)); !errors.Is(err, ErrAlreadyEnabled) {
		t.Fatalf("confirm when enabled = %v, want ErrAlreadyEnabled", err)
	}
	if _, err := svc.BeginEnrollment(ctx, "user-1", "ops@plant.example"); !errors.Is(err, ErrAlreadyEnabled) {
		t.Fatalf("re-enroll when enabled = %v, want ErrAlreadyEnabled", err)
	}
}

func TestTwoFactorBackupCodeSingleUse(t *testing.T) {
	svc, _, auditor := newTestTwoFactorService(t, &captureSink{})
	defer auditor.Close()
	ctx := context.Background()

	_, codes := enableTwoFactor(t, svc, "user-1")

	ok, err := svc.VerifyBackupCode(ctx, "user-1", codes[0])
	if err != nil || !ok {
		t.Fatalf("first use = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = svc.VerifyBackupCode(ctx, "user-1", codes[0])
	if err != nil || ok {
		t.Fatalf("second use = (%v, %v), want (false, nil)", ok, err)
	}
	// Other codes remain valid.
	ok, err = svc.VerifyBackupCode(ctx, "user-1", codes[1])
	if err != nil || !ok {
		t.Fatalf("unrelated code = (%v, %v), want (true, nil)", ok, err)
	}
	// Case and whitespace are normalized.
	ok, err = svc.VerifyBackupCode(ctx, "user-1", "  "+strings.ToLower(codes[2])+" ")
	if err != nil || !ok {
		t.Fatalf("normalized code = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestTwoFactorDisable(t *testing.T) {
	svc, repo, auditor := newTestTwoFactorService(t, &captureSink{})
	defer auditor.Close()
	ctx := context.Background()

	enableTwoFactor(t, svc, "user-1")
	if err := svc.Disable(ctx, "user-1"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if _, err := repo.Get(ctx, "user-1"); err == nil {
		t.Fatal("enrollment survived disable")
	}
	enabled, err := svc.Enabled(ctx, "user-1")
	if err != nil || enabled {
		t.Fatalf("Enabled after disable = (%v, %v), want (false, nil)", enabled, err)
	}
}
