package domain

import "time"

// AuditEvent is a write-once security log row. Rows are never updated or
// deleted outside of retention cleanup.
type AuditEvent struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	WorkspaceID string    `gorm:"index;size:64;not null" json:"workspace_id"`
	UserID      string    `gorm:"index;size:64" json:"user_id,omitempty"`
	Action      string    `gorm:"index;size:64;not null" json:"action"`
	Resource    string    `gorm:"size:64" json:"resource"`
	ResourceID  string    `gorm:"size:64" json:"resource_id"`
	OldValues   string    `gorm:"type:text" json:"old_values,omitempty"`
	NewValues   string    `gorm:"type:text" json:"new_values,omitempty"`
	IPAddress   string    `gorm:"size:64" json:"ip_address"`
	UserAgent   string    `gorm:"size:512" json:"user_agent"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

func (AuditEvent) TableName() string { return "audit_events" }
