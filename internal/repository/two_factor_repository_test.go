package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stitchworks/erp-auth/internal/domain"
)

func TestTwoFactorRepositoryLifecycle(t *testing.T) {
	repo := NewTwoFactorRepository(newTestDB(t))
	ctx := context.Background()

	if _, err := repo.Get(ctx, "user-1"); !errors.Is(err, ErrEnrollmentNotFound) {
		t.Fatalf("Get missing = %v, want ErrEnrollmentNotFound", err)
	}

	if err := repo.Upsert(ctx, &domain.TwoFactorEnrollment{
		UserID:          "user-1",
		EncryptedSecret: "envelope-1",
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	e, err := repo.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.EncryptedSecret != "envelope-1" || e.Enabled {
		t.Fatalf("enrollment = %+v, want pending envelope-1", e)
	}

	// Re-enrollment replaces the pending secret in place.
	if err := repo.Upsert(ctx, &domain.TwoFactorEnrollment{
		UserID:          "user-1",
		EncryptedSecret: "envelope-2",
	}); err != nil {
		t.Fatalf("Upsert replace: %v", err)
	}
	e, _ = repo.Get(ctx, "user-1")
	if e.EncryptedSecret != "envelope-2" {
		t.Fatalf("secret = %q, want envelope-2", e.EncryptedSecret)
	}

	now := time.Now().UTC()
	e.Enabled = true
	e.ConfirmedAt = &now
	e.BackupCodeJSON = `["h1","h2"]`
	if err := repo.Save(ctx, e); err != nil {
		t.Fatalf("Save: %v", err)
	}
	e, _ = repo.Get(ctx, "user-1")
	if !e.Enabled || e.ConfirmedAt == nil || e.BackupCodeJSON != `["h1","h2"]` {
		t.Fatalf("enrollment after save = %+v", e)
	}

	if err := repo.Delete(ctx, "user-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, "user-1"); !errors.Is(err, ErrEnrollmentNotFound) {
		t.Fatal("enrollment survived delete")
	}
	// Deleting an absent enrollment is a no-op.
	if err := repo.Delete(ctx, "user-1"); err != nil {
		t.Fatalf("repeat Delete: %v", err)
	}
}
