package models

import (
	"encoding/json"
	"time"
)

// LiveIntent is the ephemeral in-progress interaction of the seat to act.
// It is never authoritative and never enters the action log.
type LiveIntent struct {
	Seat             Seat            `json:"seat"`
	InteractionLabel string          `json:"interaction_label"`
	PendingCount     int             `json:"pending_count"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	At               time.Time       `json:"ts"`
}

// Stale reports whether the intent is older than maxAge at now.
func (i LiveIntent) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(i.At) > maxAge
}

// PresenceRecord is a seat's best-effort online flag.
type PresenceRecord struct {
	Seat     Seat      `json:"seat"`
	Identity string    `json:"identity"`
	Online   bool      `json:"online"`
	At       time.Time `json:"ts"`
}
