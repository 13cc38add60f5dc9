package syncclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"match-sync-service/models"

	"github.com/stretchr/testify/require"
)

// memServer is an in-memory match server shared by the seats of one match.
type memServer struct {
	mu          sync.Mutex
	match       models.Match
	entries     []models.ActionEntry
	snapshot    *models.MatchSnapshot
	intent      *models.LiveIntent
	presence    map[models.Seat]bool
	appendErrs  []error
	appendCalls int
	lostReplies int // appends that commit but answer with a transport error
	streams     int
	snapshotErr error
}

func newMemServer(firstMover models.Seat) *memServer {
	return &memServer{
		match: models.Match{
			ID:             "m-1",
			Seat1:          "alice",
			Seat2:          "bob",
			Status:         models.MatchActive,
			FirstMoverSeat: firstMover,
			ActiveSeat:     firstMover,
		},
		presence: map[models.Seat]bool{},
	}
}

func (s *memServer) seat(seat models.Seat) *seatClient { return &seatClient{srv: s, seat: seat} }

// add appends an entry directly, as if another client had committed it.
func (s *memServer) add(t *testing.T, seat models.Seat, kind models.ActionKind, env models.StateEnvelope) models.ActionEntry {
	t.Helper()
	raw, err := models.EncodeEnvelope(env)
	require.NoError(t, err)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(seat, kind, raw)
}

func (s *memServer) appendLocked(seat models.Seat, kind models.ActionKind, payload []byte) models.ActionEntry {
	e := models.ActionEntry{
		ID:      time.Now().String(),
		MatchID: s.match.ID,
		Seq:     int64(len(s.entries) + 1),
		Seat:    seat,
		Kind:    kind,
		Payload: append([]byte(nil), payload...),
		At:      time.Now().UTC(),
	}
	s.entries = append(s.entries, e)
	switch {
	case kind == models.ActionMatchEnd:
		s.match.Status = models.MatchFinished
	case e.Payload != nil:
		if env, err := models.DecodeEnvelope(e.Payload); err == nil && env.ActiveSeat.Valid() {
			s.match.ActiveSeat = env.ActiveSeat
		}
	}
	return e
}

func (s *memServer) setSnapshot(seq int64, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = &models.MatchSnapshot{MatchID: s.match.ID, Seq: seq, Payload: payload}
}

func (s *memServer) online(seat models.Seat) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence[seat]
}

type seatClient struct {
	srv  *memServer
	seat models.Seat
}

func (c *seatClient) GetMatch(context.Context, string) (*models.Match, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	m := c.srv.match
	return &m, nil
}

func (c *seatClient) Append(_ context.Context, _, key string, kind models.ActionKind, payload []byte) (*models.ActionEntry, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.appendCalls++
	if len(c.srv.appendErrs) > 0 {
		err := c.srv.appendErrs[0]
		c.srv.appendErrs = c.srv.appendErrs[1:]
		return nil, err
	}
	for _, e := range c.srv.entries {
		if key != "" && e.ClientKey == key && e.Seat == c.seat {
			return &e, nil
		}
	}
	if c.srv.match.ActiveSeat != c.seat {
		return nil, &StatusError{Code: http.StatusConflict, Message: "seat is not on turn"}
	}
	e := c.srv.appendLocked(c.seat, kind, payload)
	c.srv.entries[len(c.srv.entries)-1].ClientKey = key
	e.ClientKey = key
	if c.srv.lostReplies > 0 {
		c.srv.lostReplies--
		return nil, io.ErrUnexpectedEOF
	}
	return &e, nil
}

func (c *seatClient) LoadActions(_ context.Context, _ string, after int64) ([]models.ActionEntry, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	var out []models.ActionEntry
	for _, e := range c.srv.entries {
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out, nil
}

// StreamActions polls the entry list; it closes once the match is finished
// and everything has been delivered.
func (c *seatClient) StreamActions(ctx context.Context, matchID string, after int64) (<-chan models.ActionEntry, error) {
	c.srv.mu.Lock()
	c.srv.streams++
	c.srv.mu.Unlock()

	out := make(chan models.ActionEntry)
	go func() {
		defer close(out)
		cursor := after
		for {
			entries, _ := c.LoadActions(ctx, matchID, cursor)
			for _, e := range entries {
				select {
				case out <- e:
					cursor = e.Seq
				case <-ctx.Done():
					return
				}
			}
			c.srv.mu.Lock()
			closed := c.srv.match.Closed() && int64(len(c.srv.entries)) <= cursor
			c.srv.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}()
	return out, nil
}

func (c *seatClient) CommitSnapshot(_ context.Context, _ string, seq int64, payload []byte) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if c.srv.snapshotErr != nil {
		return c.srv.snapshotErr
	}
	c.srv.snapshot = &models.MatchSnapshot{MatchID: c.srv.match.ID, Seq: seq, Payload: append([]byte(nil), payload...)}
	return nil
}

func (c *seatClient) LoadSnapshot(context.Context, string) (*models.MatchSnapshot, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if c.srv.snapshot == nil {
		return nil, ErrNoSnapshot
	}
	snap := *c.srv.snapshot
	return &snap, nil
}

func (c *seatClient) PutIntent(_ context.Context, _ string, in models.LiveIntent) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	in.Seat = c.seat
	in.At = time.Now().UTC()
	c.srv.intent = &in
	return nil
}

func (c *seatClient) LatestIntent(context.Context, string) (*models.LiveIntent, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if c.srv.intent == nil {
		return nil, ErrNoIntent
	}
	in := *c.srv.intent
	return &in, nil
}

func (c *seatClient) SetPresence(_ context.Context, _ string, online bool) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.presence[c.seat] = online
	return nil
}

// fakeEngine records what the session asked of it.
type fakeEngine struct {
	mu       sync.Mutex
	state    models.StateEnvelope
	applied  []models.StateEnvelope
	rendered []models.StateEnvelope
	mode     string
	reject   int // turn number ApplyCommittedTurn refuses
}

func (e *fakeEngine) ApplyCommittedTurn(env models.StateEnvelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reject != 0 && env.Turn == e.reject {
		return errRejected
	}
	e.state = env
	e.applied = append(e.applied, env)
	return nil
}

func (e *fakeEngine) CurrentState() models.StateEnvelope {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *fakeEngine) RenderState(env models.StateEnvelope) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rendered = append(e.rendered, env)
	e.mode = "render"
}

func (e *fakeEngine) BeginLocalTurn(models.StateEnvelope) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = "local"
}

func (e *fakeEngine) ShowWaiting(models.StateEnvelope) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = "waiting"
}

// move sets the local state as if the player had just finished a turn.
func (e *fakeEngine) move(env models.StateEnvelope) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = env
}

func (e *fakeEngine) Mode() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

func (e *fakeEngine) Applied() []models.StateEnvelope {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.StateEnvelope(nil), e.applied...)
}

func (e *fakeEngine) Rendered() []models.StateEnvelope {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.StateEnvelope(nil), e.rendered...)
}

type rejectError struct{}

func (rejectError) Error() string { return "illegal state" }

var errRejected error = rejectError{}

func turn(n int, active models.Seat) models.StateEnvelope {
	return models.StateEnvelope{
		Turn:       n,
		ActiveSeat: active,
		Phase:      models.PhasePlaying,
		Game:       json.RawMessage(`{"board":` + string(rune('0'+n%10)) + `}`),
	}
}

func finished(n int, winner models.Seat) models.StateEnvelope {
	env := turn(n, winner)
	env.Phase = models.PhaseFinished
	env.Outcome = &models.Outcome{Winner: winner, Reason: "checkmate"}
	return env
}

func fastOptions() Options {
	return Options{
		IntentDebounce:     10 * time.Millisecond,
		IntentPollInterval: 10 * time.Millisecond,
		RetryInitial:       time.Millisecond,
		ResubscribeMax:     10 * time.Millisecond,
	}
}

func newTestSession(t *testing.T, srv *memServer, seat models.Seat) (*Session, *fakeEngine) {
	t.Helper()
	sc, err := NewSessionContext(srv.match.ID, seat)
	require.NoError(t, err)
	eng := &fakeEngine{}
	return NewSession(sc, srv.seat(seat), eng, fastOptions()), eng
}
