package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	DefaultRating    = 1200
	RecentHistoryCap = 20
)

// PlayerProfile is the cross-match standing of one identity (denormalized for reads)
type PlayerProfile struct {
	ID string `gorm:"primaryKey;type:varchar(128)" json:"id"` // the player identity

	Rating int `json:"rating" gorm:"not null;default:1200"`
	Stars  int `json:"stars" gorm:"not null;default:0"`

	Wins   int64 `json:"wins" gorm:"default:0"`
	Losses int64 `json:"losses" gorm:"default:0"`
	Draws  int64 `json:"draws" gorm:"default:0"`

	// newest first, capped at RecentHistoryCap
	RecentHistory datatypes.JSON `json:"recent_history"`

	LastPlayedAt *time.Time `json:"last_played_at,omitempty"`

	Timestamps
}

type HistoryResult string

const (
	ResultWin  HistoryResult = "win"
	ResultLoss HistoryResult = "loss"
	ResultDraw HistoryResult = "draw"
)

type HistoryEntry struct {
	RecordID    string        `json:"record_id"`
	MatchID     string        `json:"match_id"`
	Opponent    string        `json:"opponent"`
	Result      HistoryResult `json:"result"`
	RatingDelta int           `json:"rating_delta"`
	StarsDelta  int           `json:"stars_delta"`
	PlayedAt    time.Time     `json:"played_at"`
}

func NewPlayerProfile(identity string) PlayerProfile {
	return PlayerProfile{ID: identity, Rating: DefaultRating, RecentHistory: datatypes.JSON("[]")}
}

// History decodes RecentHistory; a corrupt column reads as empty.
func (p *PlayerProfile) History() []HistoryEntry {
	var out []HistoryEntry
	if len(p.RecentHistory) == 0 {
		return out
	}
	if err := json.Unmarshal(p.RecentHistory, &out); err != nil {
		return nil
	}
	return out
}

// PushHistory prepends e and trims the list to RecentHistoryCap.
func (p *PlayerProfile) PushHistory(e HistoryEntry) error {
	h := append([]HistoryEntry{e}, p.History()...)
	if len(h) > RecentHistoryCap {
		h = h[:RecentHistoryCap]
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return err
	}
	p.RecentHistory = datatypes.JSON(raw)
	return nil
}
