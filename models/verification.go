package models

import "time"

// VerificationCode holds the single outstanding code of an identity.
// Only a bcrypt hash of the code is stored.
type VerificationCode struct {
	Identity   string     `gorm:"primaryKey;type:varchar(128)" json:"identity"`
	CodeHash   string     `gorm:"not null" json:"-"`
	IssuedAt   time.Time  `gorm:"not null" json:"issued_at"`
	ExpiresAt  time.Time  `gorm:"not null;index" json:"expires_at"`
	Attempts   int        `gorm:"not null;default:0" json:"attempts"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}
