package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// StateSchemaVersion is the envelope version written by this build.
const StateSchemaVersion = 1

var (
	ErrEmptyEnvelope              = errors.New("state envelope is empty")
	ErrMalformedEnvelope          = errors.New("state envelope is malformed")
	ErrUnsupportedEnvelopeVersion = errors.New("state envelope version is not supported")
)

type Phase string

const (
	PhasePlaying  Phase = "playing"
	PhaseFinished Phase = "finished"
)

// Outcome is carried by terminal envelopes.
type Outcome struct {
	Winner Seat   `json:"winner,omitempty"`
	Draw   bool   `json:"draw,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (o Outcome) Valid() bool {
	if o.Draw {
		return o.Winner == SeatNone
	}
	return o.Winner.Valid()
}

// StateEnvelope wraps the rules engine's opaque game state with the fields the
// sync layer itself needs to read: whose turn it is, whether the game is over,
// per-seat clocks and the in-progress interaction.
type StateEnvelope struct {
	Version     int             `json:"v"`
	Turn        int             `json:"turn"`
	ActiveSeat  Seat            `json:"active_seat"`
	Phase       Phase           `json:"phase"`
	Clocks      map[Seat]int64  `json:"clocks,omitempty"` // remaining milliseconds per seat
	Interaction string          `json:"interaction,omitempty"`
	Selection   json.RawMessage `json:"selection,omitempty"`
	Outcome     *Outcome        `json:"outcome,omitempty"`
	Game        json.RawMessage `json:"game,omitempty"`
}

func (e StateEnvelope) Terminal() bool { return e.Phase == PhaseFinished }

// Clone returns a copy that shares no maps or byte slices with e.
func (e StateEnvelope) Clone() StateEnvelope {
	c := e
	if e.Clocks != nil {
		c.Clocks = make(map[Seat]int64, len(e.Clocks))
		for k, v := range e.Clocks {
			c.Clocks[k] = v
		}
	}
	c.Selection = append(json.RawMessage(nil), e.Selection...)
	c.Game = append(json.RawMessage(nil), e.Game...)
	if e.Outcome != nil {
		o := *e.Outcome
		c.Outcome = &o
	}
	return c
}

func EncodeEnvelope(e StateEnvelope) ([]byte, error) {
	if e.Version == 0 {
		e.Version = StateSchemaVersion
	}
	if e.Phase == "" {
		e.Phase = PhasePlaying
	}
	return json.Marshal(e)
}

// DecodeEnvelope parses a stored payload and upgrades it to the current version.
// Unknown versions are rejected instead of being read with the wrong schema.
func DecodeEnvelope(raw []byte) (StateEnvelope, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return StateEnvelope{}, ErrEmptyEnvelope
	}

	var probe struct {
		Version int `json:"v"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return StateEnvelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch probe.Version {
	case StateSchemaVersion:
	default:
		return StateEnvelope{}, fmt.Errorf("%w: v%d", ErrUnsupportedEnvelopeVersion, probe.Version)
	}

	var e StateEnvelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return StateEnvelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if e.Phase != PhasePlaying && e.Phase != PhaseFinished {
		return StateEnvelope{}, fmt.Errorf("%w: unknown phase %q", ErrMalformedEnvelope, e.Phase)
	}
	if e.Terminal() && (e.Outcome == nil || !e.Outcome.Valid()) {
		return StateEnvelope{}, fmt.Errorf("%w: terminal state without a valid outcome", ErrMalformedEnvelope)
	}
	return e, nil
}
