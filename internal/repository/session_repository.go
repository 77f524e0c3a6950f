package repository

import (
	"context"
	"errors"
	"time"

	"github.com/stitchworks/erp-auth/internal/domain"
	"github.com/stitchworks/erp-auth/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSessionNotFound = errors.New("session not found")

// Revocation reasons written to revoked_reason.
const (
	ReasonLogout        = "logout"
	ReasonRotated       = "rotated"
	ReasonReuseDetected = "reuse_detected"
	ReasonExpired       = "expired"
	ReasonRevokedAll    = "revoked_all"
	ReasonEvictedOldest = "evicted_oldest"
	ReasonUserRevoked   = "user_session_revoked"
)

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindByHash(ctx context.Context, hash string) (*domain.Session, error)
	FindByIDForUser(ctx context.Context, userID, sessionID string) (*domain.Session, error)
	ListActiveByUserID(ctx context.Context, userID string) ([]domain.Session, error)
	CountActiveByUserID(ctx context.Context, userID string) (int64, error)
	TouchActivity(ctx context.Context, sessionID string, at time.Time) error
	RotateSession(ctx context.Context, oldHash string, newSession *domain.Session) (*domain.Session, error)
	MarkReuseDetectedByHash(ctx context.Context, hash string) error
	RevokeByHash(ctx context.Context, hash, reason string) error
	RevokeByIDForUser(ctx context.Context, userID, sessionID, reason string) (bool, error)
	RevokeByFamilyID(ctx context.Context, familyID, reason string) (int64, error)
	RevokeByUserID(ctx context.Context, userID, reason string) (int64, error)
	RevokeOldestByUserID(ctx context.Context, userID, reason string) error
	CleanupExpired(ctx context.Context) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	err := r.db.WithContext(ctx).Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindByHash(ctx context.Context, hash string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("refresh_token_hash = ?", hash).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_by_hash", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_by_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_by_hash", "success")
	return &s, nil
}

func (r *GormSessionRepository) FindByIDForUser(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, sessionID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_by_id_for_user", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_by_id_for_user", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_by_id_for_user", "success")
	return &s, nil
}

func (r *GormSessionRepository) ListActiveByUserID(ctx context.Context, userID string) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, time.Now()).
		Order("last_activity_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user_id", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user_id", "success")
	return sessions, nil
}

func (r *GormSessionRepository) CountActiveByUserID(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, time.Now()).
		Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "count_active_by_user_id", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "count_active_by_user_id", "success")
	return count, nil
}

func (r *GormSessionRepository) TouchActivity(ctx context.Context, sessionID string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ?", sessionID).
		Update("last_activity_at", at).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "touch_activity", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "touch_activity", "success")
	return nil
}

// RotateSession revokes the old row and creates the replacement inside one
// transaction with a row lock, so two concurrent refreshes of the same token
// admit at most one winner.
func (r *GormSessionRepository) RotateSession(ctx context.Context, oldHash string, newSession *domain.Session) (*domain.Session, error) {
	var rotated *domain.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s domain.Session
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("refresh_token_hash = ? AND revoked_at IS NULL AND expires_at > ?", oldHash, time.Now()).
			First(&s).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		now := time.Now().UTC()
		reason := ReasonRotated
		if err := tx.Model(&domain.Session{}).
			Where("id = ?", s.ID).
			Updates(map[string]any{"revoked_at": now, "revoked_reason": reason}).Error; err != nil {
			return err
		}
		if err := tx.Create(newSession).Error; err != nil {
			return err
		}
		s.RevokedAt = &now
		s.RevokedReason = &reason
		rotated = &s
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "rotate_session", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "session", "rotate_session", "error")
		}
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "rotate_session", "success")
	return rotated, nil
}

func (r *GormSessionRepository) MarkReuseDetectedByHash(ctx context.Context, hash string) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("refresh_token_hash = ?", hash).
		Updates(map[string]any{"reuse_detected_at": now, "revoked_reason": ReasonReuseDetected}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "mark_reuse_detected_by_hash", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "mark_reuse_detected_by_hash", "success")
	return nil
}

func (r *GormSessionRepository) RevokeByHash(ctx context.Context, hash, reason string) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("refresh_token_hash = ? AND revoked_at IS NULL", hash).
		Updates(map[string]any{"revoked_at": now, "revoked_reason": reason}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_by_hash", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_by_hash", "success")
	return nil
}

func (r *GormSessionRepository) RevokeByIDForUser(ctx context.Context, userID, sessionID, reason string) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND id = ? AND revoked_at IS NULL", userID, sessionID).
		Updates(map[string]any{"revoked_at": now, "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_by_id_for_user", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_by_id_for_user", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormSessionRepository) RevokeByFamilyID(ctx context.Context, familyID, reason string) (int64, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("family_id = ? AND revoked_at IS NULL", familyID).
		Updates(map[string]any{"revoked_at": now, "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_by_family_id", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_by_family_id", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) RevokeByUserID(ctx context.Context, userID, reason string) (int64, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Updates(map[string]any{"revoked_at": now, "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_by_user_id", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_by_user_id", "success")
	return res.RowsAffected, nil
}

// RevokeOldestByUserID evicts the least recently active session when the
// per-user cap is reached.
func (r *GormSessionRepository) RevokeOldestByUserID(ctx context.Context, userID, reason string) error {
	var s domain.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, time.Now()).
		Order("last_activity_at ASC").
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "revoke_oldest_by_user_id", "not_found")
			return nil
		}
		observability.RecordRepositoryOperation(ctx, "session", "revoke_oldest_by_user_id", "error")
		return err
	}
	now := time.Now().UTC()
	err = r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND revoked_at IS NULL", s.ID).
		Updates(map[string]any{"revoked_at": now, "revoked_reason": reason}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_oldest_by_user_id", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_oldest_by_user_id", "success")
	return nil
}

func (r *GormSessionRepository) CleanupExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", time.Now()).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "success")
	return res.RowsAffected, nil
}
