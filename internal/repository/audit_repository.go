package repository

import (
	"context"
	"time"

	"github.com/stitchworks/erp-auth/internal/audit"
	"github.com/stitchworks/erp-auth/internal/domain"
	"github.com/stitchworks/erp-auth/internal/observability"

	"gorm.io/gorm"
)

// AuditFilter narrows an audit query. Zero values are ignored.
type AuditFilter struct {
	WorkspaceID string
	UserID      string
	Action      string
	Since       time.Time
	Until       time.Time
	Limit       int
	Offset      int
}

type AuditRepository interface {
	audit.Sink
	Query(ctx context.Context, filter AuditFilter) ([]domain.AuditEvent, int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormAuditRepository struct{ db *gorm.DB }

func NewAuditRepository(db *gorm.DB) AuditRepository { return &GormAuditRepository{db: db} }

// Record appends one event row. Rows are write-once; nothing here updates.
func (r *GormAuditRepository) Record(ctx context.Context, event audit.Event) error {
	err := r.db.WithContext(ctx).Create(event.Row()).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "audit", "record", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "audit", "record", "success")
	return nil
}

func (r *GormAuditRepository) Query(ctx context.Context, filter AuditFilter) ([]domain.AuditEvent, int64, error) {
	q := r.db.WithContext(ctx).Model(&domain.AuditEvent{})
	if filter.WorkspaceID != "" {
		q = q.Where("workspace_id = ?", filter.WorkspaceID)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("created_at < ?", filter.Until)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "audit", "query", "error")
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var events []domain.AuditEvent
	err := q.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&events).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "audit", "query", "error")
		return nil, 0, err
	}
	observability.RecordRepositoryOperation(ctx, "audit", "query", "success")
	return events, total, nil
}

// DeleteOlderThan enforces the retention window. Run from the sweeper, never
// inline with a request.
func (r *GormAuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&domain.AuditEvent{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "audit", "delete_older_than", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "audit", "delete_older_than", "success")
	return res.RowsAffected, nil
}
