package models

import (
	"time"
)

// Seat is one of the two fixed participant slots of a match. SeatNone marks
// "no seat" (no winner, nobody on the clock).
type Seat int

const (
	SeatNone Seat = 0
	SeatOne  Seat = 1
	SeatTwo  Seat = 2
)

func (s Seat) Valid() bool { return s == SeatOne || s == SeatTwo }

// Opponent returns the other seat, or SeatNone for an invalid seat.
func (s Seat) Opponent() Seat {
	switch s {
	case SeatOne:
		return SeatTwo
	case SeatTwo:
		return SeatOne
	default:
		return SeatNone
	}
}

type MatchStatus string

const (
	MatchPending  MatchStatus = "PENDING"
	MatchActive   MatchStatus = "ACTIVE"
	MatchFinished MatchStatus = "FINISHED"
	MatchArchived MatchStatus = "ARCHIVED"
)

type ClockMode string

const (
	ClockUntimed ClockMode = "untimed"
	ClockPerTurn ClockMode = "per_turn" // each turn must be committed within TurnSeconds
)

type ClockSettings struct {
	Mode        ClockMode `json:"mode" gorm:"type:varchar(16);not null;default:'untimed'"`
	TurnSeconds int       `json:"turn_seconds"`
}

func (c ClockSettings) Timed() bool { return c.Mode == ClockPerTurn && c.TurnSeconds > 0 }

// Deadline is the absolute timeout for a turn starting at from, nil when untimed.
func (c ClockSettings) Deadline(from time.Time) *time.Time {
	if !c.Timed() {
		return nil
	}
	d := from.Add(time.Duration(c.TurnSeconds) * time.Second)
	return &d
}

// Match is the shared record every writer contends on. All writes to it are
// conditional; Revision is bumped by every one of them.
type Match struct {
	ID     string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Seat1  string      `gorm:"index;not null" json:"seat1"`
	Seat2  string      `gorm:"index;not null" json:"seat2"`
	Status MatchStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	Clock          ClockSettings `gorm:"embedded;embeddedPrefix:clock_" json:"settings"`
	FirstMoverSeat Seat          `gorm:"not null" json:"first_mover_seat"`
	ActiveSeat     Seat          `json:"active_seat"`
	TimeoutAt      *time.Time    `gorm:"index" json:"timeout_at,omitempty"`

	FinalizationDone bool    `gorm:"not null;default:false" json:"finalization_done"`
	Winner           Seat    `json:"winner"`
	IsDraw           bool    `json:"is_draw"`
	EndReason        string  `gorm:"type:varchar(32)" json:"end_reason,omitempty"`
	ArchivedRecordID *string `gorm:"type:varchar(36)" json:"archived_record_id,omitempty"`

	LastSeq  int64 `gorm:"not null;default:0" json:"last_seq"`
	Revision int64 `gorm:"not null;default:0" json:"revision"`

	Timestamps
}

// SeatOf maps an identity to the seat it holds in this match.
func (m *Match) SeatOf(identity string) Seat {
	switch identity {
	case "":
		return SeatNone
	case m.Seat1:
		return SeatOne
	case m.Seat2:
		return SeatTwo
	default:
		return SeatNone
	}
}

func (m *Match) IdentityAt(seat Seat) string {
	switch seat {
	case SeatOne:
		return m.Seat1
	case SeatTwo:
		return m.Seat2
	default:
		return ""
	}
}

// Closed reports whether the match no longer accepts actions.
func (m *Match) Closed() bool {
	return m.Status == MatchFinished || m.Status == MatchArchived
}
