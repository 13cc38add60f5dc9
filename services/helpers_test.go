package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"match-sync-service/models"
	"match-sync-service/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// freezeTime pins timeNow for the rest of the test.
func freezeTime(t *testing.T, at time.Time) {
	t.Helper()
	prev := timeNow
	timeNow = func() time.Time { return at.UTC() }
	t.Cleanup(func() { timeNow = prev })
}

type recordingTrigger struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingTrigger) Trigger(_ context.Context, matchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, matchID)
}

func (r *recordingTrigger) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func playing(t *testing.T, turn int, next models.Seat) []byte {
	t.Helper()
	raw, err := models.EncodeEnvelope(models.StateEnvelope{
		Turn:       turn,
		ActiveSeat: next,
		Game:       json.RawMessage(`{"moves":` + itoa(turn) + `}`),
	})
	require.NoError(t, err)
	return raw
}

func finished(t *testing.T, winner models.Seat, draw bool, reason string) []byte {
	t.Helper()
	raw, err := models.EncodeEnvelope(models.StateEnvelope{
		Phase:   models.PhaseFinished,
		Outcome: &models.Outcome{Winner: winner, Draw: draw, Reason: reason},
	})
	require.NoError(t, err)
	return raw
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func newActiveMatch(t *testing.T, db *gorm.DB, clock models.ClockSettings) *models.Match {
	t.Helper()
	m, err := NewMatchService(db, nil).Create(context.Background(), CreateMatchInput{
		Seat1: "alice",
		Seat2: "bob",
		Clock: clock,
		Start: true,
	})
	require.NoError(t, err)
	require.Equal(t, models.MatchActive, m.Status)
	return m
}

func perTurn(seconds int) models.ClockSettings {
	return models.ClockSettings{Mode: models.ClockPerTurn, TurnSeconds: seconds}
}

func newTestDB(t *testing.T) *gorm.DB { return testutil.NewDB(t) }
