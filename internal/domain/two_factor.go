package domain

import "time"

// TwoFactorEnrollment holds a user's TOTP state. The secret is stored
// encrypted; backup codes are stored as one-way hashes only.
type TwoFactorEnrollment struct {
	UserID          string     `gorm:"primaryKey;size:64" json:"user_id"`
	EncryptedSecret string     `gorm:"size:512;not null" json:"-"`
	Enabled         bool       `gorm:"not null;default:false" json:"enabled"`
	BackupCodeJSON  string     `gorm:"column:backup_code_hashes;type:text" json:"-"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (TwoFactorEnrollment) TableName() string { return "two_factor_enrollments" }
