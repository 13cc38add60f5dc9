// Package syncclient is the client half of match sync: it rehydrates a seat's
// local state on attach, follows the opponent's committed turns, publishes and
// observes live intents and keeps presence up to date.
package syncclient

import (
	"errors"
	"fmt"

	"match-sync-service/models"
)

// SessionContext identifies one seat's view of one match. It is fixed for the
// lifetime of a Session and passed explicitly to everything that needs it.
type SessionContext struct {
	MatchID      string
	LocalSeat    models.Seat
	OpponentSeat models.Seat
}

func NewSessionContext(matchID string, local models.Seat) (SessionContext, error) {
	if matchID == "" {
		return SessionContext{}, errors.New("match id is required")
	}
	if !local.Valid() {
		return SessionContext{}, fmt.Errorf("invalid local seat %d", local)
	}
	return SessionContext{MatchID: matchID, LocalSeat: local, OpponentSeat: local.Opponent()}, nil
}

// RulesEngine is the game-specific collaborator. The sync layer never looks
// inside StateEnvelope.Game; it only hands envelopes to the engine and tells it
// which mode to be in.
type RulesEngine interface {
	// ApplyCommittedTurn replaces the local state with a committed one.
	ApplyCommittedTurn(state models.StateEnvelope) error
	CurrentState() models.StateEnvelope
	// RenderState draws state without making it current (outcomes, overlays).
	RenderState(state models.StateEnvelope)
	BeginLocalTurn(state models.StateEnvelope)
	ShowWaiting(state models.StateEnvelope)
}
