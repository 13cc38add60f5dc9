package models

import (
	"time"

	"gorm.io/datatypes"
)

type ActionKind string

const (
	ActionTurnCommit ActionKind = "TURN_COMMIT"
	ActionMatchEnd   ActionKind = "MATCH_END"
)

func (k ActionKind) Valid() bool { return k == ActionTurnCommit || k == ActionMatchEnd }

// ActionEntry is one committed transition of a match. Entries are append-only:
// Seq is assigned by the server, strictly increasing and gap-free per match.
type ActionEntry struct {
	ID      string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	MatchID string         `gorm:"type:varchar(36);not null;uniqueIndex:ux_match_action_seq,priority:1;index:ix_match_action_client_key,priority:1" json:"match_id"`
	Seq     int64          `gorm:"not null;uniqueIndex:ux_match_action_seq,priority:2" json:"key"`
	Seat    Seat           `gorm:"not null" json:"seat"`
	Kind    ActionKind     `gorm:"type:varchar(16);not null" json:"kind"`
	Payload datatypes.JSON `json:"payload"`
	At      time.Time      `gorm:"not null" json:"ts"`

	// ClientKey is the optional idempotency key the author sent with the append.
	ClientKey string `gorm:"type:varchar(64);index:ix_match_action_client_key,priority:2" json:"client_key,omitempty"`
}

func (ActionEntry) TableName() string { return "match_actions" }
