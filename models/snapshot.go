package models

import (
	"time"

	"gorm.io/datatypes"
)

// MatchSnapshot is the single checkpoint slot of a match. It only shortcuts
// replay on rejoin; the action log stays authoritative.
type MatchSnapshot struct {
	MatchID   string         `gorm:"primaryKey;type:varchar(36)" json:"match_id"`
	Seq       int64          `gorm:"not null" json:"seq"`
	Payload   datatypes.JSON `json:"payload"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"ts" gorm:"autoUpdateTime"`
}
