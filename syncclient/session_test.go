package syncclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"match-sync-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *memServer) addRaw(seat models.Seat, payload string) models.ActionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(seat, models.ActionTurnCommit, []byte(payload))
}

func TestRehydrate_FreshMatchStartsFirstMover(t *testing.T) {
	srv := newMemServer(models.SeatTwo)

	first, firstEngine := newTestSession(t, srv, models.SeatTwo)
	st, err := first.Rehydrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFresh, st)
	assert.Equal(t, "local", firstEngine.Mode())

	second, secondEngine := newTestSession(t, srv, models.SeatOne)
	st, err = second.Rehydrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFresh, st)
	assert.Equal(t, "waiting", secondEngine.Mode())
	assert.Empty(t, secondEngine.Applied())
}

func TestRehydrate_SnapshotThenLogTail(t *testing.T) {
	srv := newMemServer(models.SeatOne)
	e1 := srv.add(t, models.SeatOne, models.ActionTurnCommit, turn(1, models.SeatTwo))
	srv.setSnapshot(e1.Seq, e1.Payload)
	srv.add(t, models.SeatTwo, models.ActionTurnCommit, turn(2, models.SeatOne))

	s, eng := newTestSession(t, srv, models.SeatOne)
	st, err := s.Rehydrate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateSynced, st)
	assert.Equal(t, StateSynced, s.State())
	assert.Equal(t, int64(2), s.Cursor())
	require.Len(t, eng.Applied(), 1, "only the newest state is applied")
	assert.Equal(t, 2, eng.CurrentState().Turn)
	assert.Equal(t, "local", eng.Mode())
}

func TestRehydrate_SnapshotUpToDateWaitsForOpponent(t *testing.T) {
	srv := newMemServer(models.SeatOne)
	e1 := srv.add(t, models.SeatOne, models.ActionTurnCommit, turn(1, models.SeatTwo))
	srv.setSnapshot(e1.Seq, e1.Payload)

	s, eng := newTestSession(t, srv, models.SeatOne)
	_, err := s.Rehydrate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, eng.CurrentState().Turn)
	assert.Equal(t, "waiting", eng.Mode())
}

func TestRehydrate_UnreadableSnapshotReplaysLog(t *testing.T) {
	srv := newMemServer(models.SeatOne)
	srv.add(t, models.SeatOne, models.ActionTurnCommit, turn(1, models.SeatTwo))
	srv.add(t, models.SeatTwo, models.ActionTurnCommit, turn(2, models.SeatOne))
	srv.setSnapshot(2, []byte(`{"v":1,"phase":`))

	s, eng := newTestSession(t, srv, models.SeatTwo)
	st, err := s.Rehydrate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateSynced, st)
	assert.Equal(t, 2, eng.CurrentState().Turn)
	assert.Equal(t, int64(2), s.Cursor())
	assert.Equal(t, "waiting", eng.Mode())
}

func TestRehydrate_UnreadableSnapshotWithoutLogIsFresh(t *testing.T) {
	srv := newMemServer(models.SeatOne)
	srv.setSnapshot(3, []byte(`{"v":42}`))

	s, eng := newTestSession(t, srv, models.SeatOne)
	st, err := s.Rehydrate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateFresh, st)
	assert.Equal(t, "local", eng.Mode())
	assert.Empty(t, eng.Applied())
}

func TestRehydrate_FinishedMatchIsOnlyRendered(t *testing.T) {
	srv := newMemServer(models.SeatOne)
	srv.add(t, models.SeatOne, models.ActionTurnCommit, turn(1, models.SeatTwo))
	srv.match.Status = models.MatchFinished
	srv.match.Winner = models.SeatOne
	srv.match.EndReason = "timeout"

	s, eng := newTestSession(t, srv, models.SeatTwo)
	_, err := s.Rehydrate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "render", eng.Mode())
	state := eng.CurrentState()
	require.True(t, state.Terminal())
	require.NotNil(t, state.Outcome)
	assert.Equal(t, models.SeatOne, state.Outcome.Winner)
	assert.Equal(t, "timeout", state.Outcome.Reason)
}

func TestRehydrate_FinishedMatchWithoutLogRenders(t *testing.T) {
	srv := newMemServer(models.SeatOne)
	srv.match.Status = models.MatchArchived
	srv.match.IsDraw = true

	s, eng := newTestSession(t, srv, models.SeatOne)
	_, err := s.Rehydrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "render", eng.Mode())
	require.Len(t, eng.Rendered(), 1)
	assert.True(t, eng.Rendered()[0].Outcome.Draw)
}

func TestRehydrate_KeepsLocalClock(t *testing.T) {
	srv := newMemServer(models.SeatOne)
	env := turn(1, models.SeatTwo)
	env.Clocks = map[models.Seat]int64{models.SeatOne: 60000, models.SeatTwo: 50000}
	e := srv.add(t, models.SeatOne, models.ActionTurnCommit, env)
	srv.setSnapshot(e.Seq, e.Payload)

	s, eng := newTestSession(t, srv, models.SeatOne)
	s.Clock().Set(30000)
	_, err := s.Rehydrate(context.Background())
	require.NoError(t, err)

	clocks := eng.CurrentState().Clocks
	assert.Equal(t, int64(30000), clocks[models.SeatOne])
	assert.Equal(t, int64(50000), clocks[models.SeatTwo])
}

func TestReplayMatchesLiveApplication(t *testing.T) {
	srv := newMemServer(models.SeatOne)
	live, liveEngine := newTestSession(t, srv, models.SeatTwo)
	_, err := live.Rehydrate(context.Background())
	require.NoError(t, err)

	withClock := func(env models.StateEnvelope, ms int64) models.StateEnvelope {
		env.Clocks = map[models.Seat]int64{models.SeatOne: ms}
		return env
	}

	live.HandleEntry(srv.add(t, models.SeatOne, models.ActionTurnCommit, withClock(turn(1, models.SeatTwo), 59000)))

	own := turn(2, models.SeatOne)
	liveEngine.move(own)
	entry, err := live.CommitTurn(context.Background(), own)
	require.NoError(t, err)
	live.HandleEntry(*entry)

	live.HandleEntry(srv.add(t, models.SeatOne, models.ActionMatchEnd, withClock(finished(3, models.SeatOne), 41000)))

	replay, replayEngine := newTestSession(t, srv, models.SeatTwo)
	_, err = replay.Rehydrate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, liveEngine.CurrentState(), replayEngine.CurrentState())
	assert.Equal(t, live.Cursor(), replay.Cursor())
	assert.Equal(t, "render", liveEngine.Mode())
	assert.Equal(t, "render", replayEngine.Mode())
}

func TestHandleEntry_Dedup(t *testing.T) {
	srv := newMemServer(models.SeatOne)
	s, eng := newTestSession(t, srv, models.SeatTwo)

	e1 := srv.add(t, models.SeatOne, models.ActionTurnCommit, turn(1, models.SeatTwo))
	s.HandleEntry(e1)
	s.HandleEntry(e1)
	require.Len(t, eng.Applied(), 1)
	assert.Equal(t, "local", eng.Mode())

	e2 := srv.add(t, models.SeatTwo, models.ActionTurnCommit, turn(2, models.SeatOne))
	s.HandleEntry(e2)
	assert.Len(t, eng.Applied(), 1, "own entries are not re-applied")
	assert.Equal(t, int64(2), s.Cursor())

	s.HandleEntry(e1)
	assert.Len(t, eng.Applied(), 1)
	assert.Zero(t, s.Divergences())
}

func TestHandleEntry_CountsDivergences(t *testing.T) {
	srv := newMemServer(models.SeatOne)
	s, eng := newTestSession(t, srv, models.SeatTwo)
	eng.reject = 5

	s.HandleEntry(srv.addRaw(models.SeatOne, `{"v":99}`))
	assert.Equal(t, 1, s.Divergences())
	assert.Equal(t, int64(1), s.Cursor(), "a bad entry still advances the cursor")

	s.HandleEntry(srv.add(t, models.SeatOne, models.ActionTurnCommit, turn(5, models.SeatTwo)))
	assert.Equal(t, 2, s.Divergences())
	assert.Empty(t, eng.Applied())

	s.HandleEntry(srv.add(t, models.SeatOne, models.ActionTurnCommit, turn(6, models.SeatTwo)))
	assert.Equal(t, 2, s.Divergences())
	assert.Len(t, eng.Applied(), 1)
}

func TestCommitTurn_RetriesTransientFailures(t *testing.T) {
	srv := newMemServer(models.SeatOne)
	srv.appendErrs = []error{&StatusError{Code: http.StatusServiceUnavailable}, io.ErrUnexpectedEOF}
	s, eng := newTestSession(t, srv, models.SeatOne)

	entry, err := s.CommitTurn(context.Background(), turn(1, models.SeatTwo))
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Seq)
	assert.Equal(t, 3, srv.appendCalls)

	require.NotNil(t, srv.snapshot)
	assert.Equal(t, entry.Seq, srv.snapshot.Seq)
	assert.Equal(t, int64(1), s.Cursor())
	assert.Equal(t, "waiting", eng.Mode())
}

func TestCommitTurn_RejectionIsFinal(t *testing.T) {
	srv := newMemServer(models.SeatOne)
	srv.appendErrs = []error{&StatusError{Code: http.StatusConflict, Message: "not your turn"}}
	s, _ := newTestSession(t, srv, models.SeatOne)

	_, err := s.CommitTurn(context.Background(), turn(1, models.SeatTwo))
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.Code)
	assert.Equal(t, 1, srv.appendCalls)
	assert.Nil(t, srv.snapshot)
}

func TestCommitTurn_SnapshotFailureIsTolerated(t *testing.T) {
	srv := newMemServer(models.SeatOne)
	srv.snapshotErr = errors.New("disk full")
	s, _ := newTestSession(t, srv, models.SeatOne)

	entry, err := s.CommitTurn(context.Background(), turn(1, models.SeatTwo))
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Seq)
	assert.Nil(t, srv.snapshot)
}

func TestEndMatch_NeedsFinishedState(t *testing.T) {
	srv := newMemServer(models.SeatOne)
	s, _ := newTestSession(t, srv, models.SeatOne)

	_, err := s.EndMatch(context.Background(), turn(1, models.SeatTwo))
	require.Error(t, err)
	assert.Zero(t, srv.appendCalls)
}

func TestHandleIntent_RendersFreshOpponentIntentOnce(t *testing.T) {
	srv := newMemServer(models.SeatOne)
	s, eng := newTestSession(t, srv, models.SeatTwo)
	eng.move(turn(4, models.SeatOne))

	env := turn(5, models.SeatOne)
	env.Interaction = "dragging"
	raw, err := models.EncodeEnvelope(env)
	require.NoError(t, err)

	now := time.Now().UTC()
	in := models.LiveIntent{Seat: models.SeatOne, InteractionLabel: "drag", PendingCount: 1, Payload: raw, At: now}

	assert.True(t, s.HandleIntent(in, now))
	assert.False(t, s.HandleIntent(in, now), "same intent twice")

	rendered := eng.Rendered()
	require.Len(t, rendered, 1)
	assert.Empty(t, rendered[0].Interaction)
	assert.Equal(t, models.SeatOne, rendered[0].ActiveSeat)
	assert.Equal(t, 4, eng.CurrentState().Turn, "overlay never becomes the committed state")
}

func TestAttach_PlaysThroughAMatch(t *testing.T) {
	srv := newMemServer(models.SeatOne)
	ctx := context.Background()

	aliceCtx, err := NewSessionContext(srv.match.ID, models.SeatOne)
	require.NoError(t, err)
	bobCtx, err := NewSessionContext(srv.match.ID, models.SeatTwo)
	require.NoError(t, err)

	aliceEngine, bobEngine := &fakeEngine{}, &fakeEngine{}
	alice, err := Attach(ctx, aliceCtx, srv.seat(models.SeatOne), aliceEngine, fastOptions())
	require.NoError(t, err)
	defer alice.Close()
	bob, err := Attach(ctx, bobCtx, srv.seat(models.SeatTwo), bobEngine, fastOptions())
	require.NoError(t, err)
	defer bob.Close()

	assert.True(t, srv.online(models.SeatOne))
	assert.True(t, srv.online(models.SeatTwo))
	assert.Equal(t, "local", aliceEngine.Mode())
	assert.Equal(t, "waiting", bobEngine.Mode())

	preview := turn(1, models.SeatOne)
	preview.Interaction = "dragging"
	require.NoError(t, alice.PublishIntent("drag", 1, preview))
	assert.Eventually(t, func() bool { return len(bobEngine.Rendered()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, aliceEngine.Rendered(), "own intent is not overlaid")

	t1 := turn(1, models.SeatTwo)
	aliceEngine.move(t1)
	_, err = alice.CommitTurn(ctx, t1)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return bobEngine.Mode() == "local" }, time.Second, 5*time.Millisecond)

	t2 := turn(2, models.SeatOne)
	bobEngine.move(t2)
	_, err = bob.CommitTurn(ctx, t2)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return aliceEngine.Mode() == "local" }, time.Second, 5*time.Millisecond)

	end := finished(3, models.SeatOne)
	aliceEngine.move(end)
	_, err = alice.EndMatch(ctx, end)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return bobEngine.CurrentState().Terminal() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "render", bobEngine.Mode())
	assert.Zero(t, bob.Divergences())

	bob.Close()
	assert.False(t, srv.online(models.SeatTwo))
}

func (s *memServer) streamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams
}

func TestCommitTurn_RetryAfterLostReplyKeepsOneEntry(t *testing.T) {
	srv := newMemServer(models.SeatOne)
	srv.lostReplies = 1
	s, eng := newTestSession(t, srv, models.SeatOne)

	entry, err := s.CommitTurn(context.Background(), turn(1, models.SeatTwo))
	require.NoError(t, err, "the retry finds the commit that already landed")
	assert.Equal(t, int64(1), entry.Seq)
	assert.Equal(t, 2, srv.appendCalls)
	assert.Len(t, srv.entries, 1)

	require.NotNil(t, srv.snapshot)
	assert.Equal(t, int64(1), srv.snapshot.Seq)
	assert.Equal(t, "waiting", eng.Mode())

	s.HandleEntry(srv.entries[0])
	assert.Zero(t, s.Divergences())
}

func TestFollow_RendersMatchClosedWithoutEndEntry(t *testing.T) {
	srv := newMemServer(models.SeatOne)
	sc, err := NewSessionContext(srv.match.ID, models.SeatTwo)
	require.NoError(t, err)
	eng := &fakeEngine{}
	s, err := Attach(context.Background(), sc, srv.seat(models.SeatTwo), eng, fastOptions())
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, "waiting", eng.Mode())

	srv.mu.Lock()
	srv.match.Status = models.MatchFinished
	srv.match.Winner = models.SeatTwo
	srv.match.EndReason = "timeout"
	srv.mu.Unlock()

	require.Eventually(t, func() bool { return eng.Mode() == "render" }, time.Second, 5*time.Millisecond)
	rendered := eng.Rendered()
	require.NotEmpty(t, rendered)
	last := rendered[len(rendered)-1]
	require.True(t, last.Terminal())
	assert.Equal(t, models.SeatTwo, last.Outcome.Winner)
	assert.Equal(t, "timeout", last.Outcome.Reason)

	streams := srv.streamCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, streams, srv.streamCount(), "no resubscribing once the match is closed")
}
