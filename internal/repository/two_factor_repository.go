package repository

import (
	"context"
	"errors"

	"github.com/stitchworks/erp-auth/internal/domain"
	"github.com/stitchworks/erp-auth/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrEnrollmentNotFound = errors.New("two-factor enrollment not found")

type TwoFactorRepository interface {
	Get(ctx context.Context, userID string) (*domain.TwoFactorEnrollment, error)
	Upsert(ctx context.Context, enrollment *domain.TwoFactorEnrollment) error
	Save(ctx context.Context, enrollment *domain.TwoFactorEnrollment) error
	Delete(ctx context.Context, userID string) error
}

type GormTwoFactorRepository struct{ db *gorm.DB }

func NewTwoFactorRepository(db *gorm.DB) TwoFactorRepository {
	return &GormTwoFactorRepository{db: db}
}

func (r *GormTwoFactorRepository) Get(ctx context.Context, userID string) (*domain.TwoFactorEnrollment, error) {
	var e domain.TwoFactorEnrollment
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "two_factor", "get", "not_found")
			return nil, ErrEnrollmentNotFound
		}
		observability.RecordRepositoryOperation(ctx, "two_factor", "get", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "two_factor", "get", "success")
	return &e, nil
}

// Upsert replaces any previous enrollment for the user. Re-enrolling always
// starts from a fresh, unconfirmed secret.
func (r *GormTwoFactorRepository) Upsert(ctx context.Context, enrollment *domain.TwoFactorEnrollment) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(enrollment).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "two_factor", "upsert", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "two_factor", "upsert", "success")
	return nil
}

func (r *GormTwoFactorRepository) Save(ctx context.Context, enrollment *domain.TwoFactorEnrollment) error {
	err := r.db.WithContext(ctx).Save(enrollment).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "two_factor", "save", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "two_factor", "save", "success")
	return nil
}

func (r *GormTwoFactorRepository) Delete(ctx context.Context, userID string) error {
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.TwoFactorEnrollment{}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "two_factor", "delete", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "two_factor", "delete", "success")
	return nil
}
