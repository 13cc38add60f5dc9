package models

import (
	"time"

	"gorm.io/datatypes"
)

// SeatAtPlay freezes a participant's standing as it was when the match ended.
type SeatAtPlay struct {
	Seat     Seat   `json:"seat"`
	Identity string `json:"identity"`
	Rating   int    `json:"rating"`
	Stars    int    `json:"stars"`
}

type RecordedMove struct {
	Seq   int64          `json:"seq"`
	Seat  Seat           `json:"seat"`
	Kind  ActionKind     `json:"kind"`
	At    time.Time      `json:"at"`
	State datatypes.JSON `json:"state"`
}

// GameRecord is the immutable archive of a finished match. One per match.
type GameRecord struct {
	ID          string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	MatchID     string         `gorm:"type:varchar(36);uniqueIndex;not null" json:"match_id"`
	Winner      Seat           `json:"winner"`
	IsDraw      bool           `json:"is_draw"`
	EndReason   string         `gorm:"type:varchar(32)" json:"end_reason"`
	PlayedAt    time.Time      `gorm:"not null" json:"played_at"`
	SeatsAtPlay datatypes.JSON `json:"seats_at_play"`
	Moves       datatypes.JSON `json:"moves"`
	ArchiveURL  string         `json:"archive_url,omitempty"`
	CreatedAt   time.Time      `json:"created_at" gorm:"autoCreateTime"`
}
