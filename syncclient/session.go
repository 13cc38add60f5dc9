package syncclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"match-sync-service/models"
	"match-sync-service/utils"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RehydrationState is where a session is in restoring its local state.
type RehydrationState string

const (
	StateFresh     RehydrationState = "FRESH"     // nothing committed yet
	StateRestoring RehydrationState = "RESTORING" // applying snapshot and log tail
	StateSynced    RehydrationState = "SYNCED"
)

type Options struct {
	IntentDebounce     time.Duration
	IntentStaleness    time.Duration
	IntentPollInterval time.Duration
	// AppendTries bounds retries of a failed append; the snapshot write is
	// never retried since the log alone is enough to recover.
	AppendTries    uint
	RetryInitial   time.Duration
	ResubscribeMax time.Duration
}

func (o Options) withDefaults() Options {
	if o.IntentDebounce <= 0 {
		o.IntentDebounce = DefaultIntentDebounce
	}
	if o.IntentStaleness <= 0 {
		o.IntentStaleness = DefaultIntentStaleness
	}
	if o.IntentPollInterval <= 0 {
		o.IntentPollInterval = time.Second
	}
	if o.AppendTries == 0 {
		o.AppendTries = 5
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = 500 * time.Millisecond
	}
	if o.ResubscribeMax <= 0 {
		o.ResubscribeMax = 10 * time.Second
	}
	return o
}

// Session is one seat's live connection to a match. It owns the follower and
// intent goroutines; Close tears them down. Writes in flight at Close are
// abandoned, not rolled back.
type Session struct {
	sc        SessionContext
	transport Transport
	engine    RulesEngine
	clock     *LocalClock
	opts      Options
	publisher *IntentPublisher

	mu          sync.Mutex
	state       RehydrationState
	cursor      int64
	known       map[int64]struct{}
	divergences int
	lastIntent  time.Time
	ended       bool // closed by the server without a MATCH_END entry

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewSession wires a session without touching the network. Most callers want
// Attach.
func NewSession(sc SessionContext, t Transport, engine RulesEngine, opts Options) *Session {
	s := &Session{
		sc:        sc,
		transport: t,
		engine:    engine,
		clock:     NewLocalClock(sc.LocalSeat),
		opts:      opts.withDefaults(),
		state:     StateFresh,
		known:     map[int64]struct{}{},
	}
	s.publisher = NewIntentPublisher(s.opts.IntentDebounce, s.sendIntent)
	return s
}

// Attach announces presence, rehydrates local state and starts following the
// match. The follower only ever delivers entries appended after the state
// rehydration saw.
func Attach(ctx context.Context, sc SessionContext, t Transport, engine RulesEngine, opts Options) (*Session, error) {
	s := NewSession(sc, t, engine, opts)

	if err := t.SetPresence(ctx, sc.MatchID, true); err != nil {
		utils.Log.Warn("[Session] presence write failed", zap.String("match_id", sc.MatchID), zap.Error(err))
	}
	if _, err := s.Rehydrate(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(2)
	go s.follow(runCtx)
	go s.watchIntents(runCtx)
	return s, nil
}

func (s *Session) Context() SessionContext { return s.sc }

func (s *Session) Clock() *LocalClock { return s.clock }

func (s *Session) State() RehydrationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cursor is the highest sequence number this session has seen.
func (s *Session) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Divergences counts remote entries that could not be applied locally.
func (s *Session) Divergences() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.divergences
}

func (s *Session) setState(st RehydrationState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Rehydrate rebuilds local state from the server:
//   - no snapshot and no log: FRESH, the first mover begins and the other seat waits
//   - snapshot present: restore it, then apply the log entries after it
//   - snapshot missing or unreadable but log present: replay the log
//
// A finished state is only rendered. Every external state is merged with the
// local clock before the engine sees it.
func (s *Session) Rehydrate(ctx context.Context) (RehydrationState, error) {
	m, err := s.transport.GetMatch(ctx, s.sc.MatchID)
	if err != nil {
		return "", fmt.Errorf("load match: %w", err)
	}

	var (
		restored *models.StateEnvelope
		from     int64
	)
	snap, err := s.transport.LoadSnapshot(ctx, s.sc.MatchID)
	switch {
	case err == nil:
		env, derr := models.DecodeEnvelope(snap.Payload)
		if derr != nil {
			utils.Log.Warn("[Session] snapshot unreadable, recovering from the log",
				zap.String("match_id", s.sc.MatchID), zap.Error(derr))
			break
		}
		s.setState(StateRestoring)
		restored = &env
		from = snap.Seq
	case errors.Is(err, ErrNoSnapshot):
	default:
		return "", fmt.Errorf("load snapshot: %w", err)
	}

	entries, err := s.transport.LoadActions(ctx, s.sc.MatchID, from)
	if err != nil {
		return "", fmt.Errorf("load actions: %w", err)
	}

	cursor := from
	for _, e := range entries {
		cursor = e.Seq
		env, derr := models.DecodeEnvelope(e.Payload)
		if derr != nil {
			s.diverged(e, derr)
			continue
		}
		restored = &env
	}

	s.mu.Lock()
	if cursor > s.cursor {
		s.cursor = cursor
	}
	for _, e := range entries {
		s.known[e.Seq] = struct{}{}
	}
	s.mu.Unlock()

	if restored == nil {
		s.setState(StateFresh)
		s.startFresh(m)
		return StateFresh, nil
	}

	env := withMatchOutcome(s.clock.Merge(*restored), m)
	if err := s.engine.ApplyCommittedTurn(env); err != nil {
		utils.Log.Warn("[Session] restored state rejected by engine, starting fresh",
			zap.String("match_id", s.sc.MatchID), zap.Error(err))
		s.setState(StateFresh)
		s.startFresh(m)
		return StateFresh, nil
	}
	s.setState(StateSynced)
	s.present(env)
	return StateSynced, nil
}

func (s *Session) startFresh(m *models.Match) {
	state := s.engine.CurrentState()
	if m.Closed() {
		s.engine.RenderState(withMatchOutcome(state, m))
		return
	}
	if m.FirstMoverSeat == s.sc.LocalSeat {
		s.engine.BeginLocalTurn(state)
		return
	}
	s.engine.ShowWaiting(state)
}

// present puts the engine in the mode env calls for.
func (s *Session) present(env models.StateEnvelope) {
	switch {
	case env.Terminal():
		s.engine.RenderState(env)
	case env.ActiveSeat == s.sc.LocalSeat:
		s.engine.BeginLocalTurn(env)
	default:
		s.engine.ShowWaiting(env)
	}
}

// withMatchOutcome marks env finished when the server already ended the match
// by other means (timeout, resignation) than a MATCH_END entry.
func withMatchOutcome(env models.StateEnvelope, m *models.Match) models.StateEnvelope {
	if env.Terminal() || !m.Closed() {
		return env
	}
	env.Phase = models.PhaseFinished
	env.Outcome = &models.Outcome{Winner: m.Winner, Draw: m.IsDraw, Reason: m.EndReason}
	return env
}

// HandleEntry processes one entry from the follower. Entries already seen are
// dropped; the local seat's own entries only advance the cursor since the
// local state already reflects them.
func (s *Session) HandleEntry(e models.ActionEntry) {
	s.mu.Lock()
	if _, seen := s.known[e.Seq]; seen || e.Seq <= s.cursor {
		s.mu.Unlock()
		return
	}
	s.known[e.Seq] = struct{}{}
	s.cursor = e.Seq
	s.mu.Unlock()

	if e.Seat == s.sc.LocalSeat {
		return
	}

	env, err := models.DecodeEnvelope(e.Payload)
	if err != nil {
		s.diverged(e, err)
		return
	}
	env = s.clock.Merge(env)
	if err := s.engine.ApplyCommittedTurn(env); err != nil {
		s.diverged(e, err)
		return
	}
	s.setState(StateSynced)
	s.present(env)
}

func (s *Session) diverged(e models.ActionEntry, err error) {
	s.mu.Lock()
	s.divergences++
	s.mu.Unlock()
	utils.Log.Error("[Session] remote entry could not be applied",
		zap.String("match_id", s.sc.MatchID),
		zap.Int64("seq", e.Seq),
		zap.Int("seat", int(e.Seat)),
		zap.Error(err))
}

// CommitTurn appends the state reached by the local seat's turn, then writes
// it as the snapshot. The append is retried on transport failures; a failed
// snapshot write is only logged.
func (s *Session) CommitTurn(ctx context.Context, env models.StateEnvelope) (*models.ActionEntry, error) {
	return s.commit(ctx, models.ActionTurnCommit, env)
}

// EndMatch appends the finished state. The server finishes the match and
// triggers finalization.
func (s *Session) EndMatch(ctx context.Context, env models.StateEnvelope) (*models.ActionEntry, error) {
	if !env.Terminal() {
		return nil, errors.New("end match needs a finished state")
	}
	return s.commit(ctx, models.ActionMatchEnd, env)
}

func (s *Session) commit(ctx context.Context, kind models.ActionKind, env models.StateEnvelope) (*models.ActionEntry, error) {
	env = s.clock.Merge(env)
	payload, err := models.EncodeEnvelope(env)
	if err != nil {
		return nil, err
	}
	s.publisher.Cancel()

	// one key for every try, so a retry of a commit that landed is not a new turn
	key := uuid.NewString()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInitial
	entry, err := backoff.Retry(ctx, func() (*models.ActionEntry, error) {
		e, err := s.transport.Append(ctx, s.sc.MatchID, key, kind, payload)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return e, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.opts.AppendTries),
	)
	if err != nil {
		return nil, fmt.Errorf("append %s: %w", kind, err)
	}

	s.mu.Lock()
	s.known[entry.Seq] = struct{}{}
	if entry.Seq > s.cursor {
		s.cursor = entry.Seq
	}
	s.state = StateSynced
	s.mu.Unlock()

	if err := s.transport.CommitSnapshot(ctx, s.sc.MatchID, entry.Seq, payload); err != nil {
		utils.Log.Warn("[Session] snapshot write failed",
			zap.String("match_id", s.sc.MatchID), zap.Int64("seq", entry.Seq), zap.Error(err))
	}

	s.present(env)
	return entry, nil
}

// PublishIntent shares the local seat's uncommitted state, debounced.
func (s *Session) PublishIntent(label string, pending int, env models.StateEnvelope) error {
	payload, err := models.EncodeEnvelope(s.clock.Merge(env))
	if err != nil {
		return err
	}
	s.publisher.Publish(models.LiveIntent{
		Seat:             s.sc.LocalSeat,
		InteractionLabel: label,
		PendingCount:     pending,
		Payload:          payload,
	})
	return nil
}

func (s *Session) sendIntent(in models.LiveIntent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.transport.PutIntent(ctx, s.sc.MatchID, in); err != nil {
		utils.Log.Debug("[Session] intent publish failed", zap.String("match_id", s.sc.MatchID), zap.Error(err))
	}
}

// HandleIntent shows an opponent's live intent as a display-only overlay.
// It reports whether the overlay was rendered.
func (s *Session) HandleIntent(in models.LiveIntent, now time.Time) bool {
	s.mu.Lock()
	if s.ended || !in.At.After(s.lastIntent) {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	overlay, ok := overlayFor(s.sc, s.engine.CurrentState(), in, now, s.opts.IntentStaleness)
	if !ok {
		return false
	}

	s.mu.Lock()
	s.lastIntent = in.At
	s.mu.Unlock()

	s.engine.RenderState(s.clock.Merge(overlay))
	return true
}

func (s *Session) follow(ctx context.Context) {
	defer s.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInitial
	b.MaxInterval = s.opts.ResubscribeMax
	for {
		entries, err := s.transport.StreamActions(ctx, s.sc.MatchID, s.Cursor())
		if err == nil {
			b.Reset()
			for e := range entries {
				s.HandleEntry(e)
			}
			if s.engine.CurrentState().Terminal() || s.closedByServer(ctx) {
				return
			}
		} else {
			utils.Log.Warn("[Session] subscribe failed", zap.String("match_id", s.sc.MatchID), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.NextBackOff()):
		}
	}
}

// closedByServer checks, once a stream has ended, whether the match was closed
// without a MATCH_END entry (timeout, resignation) and if so renders the outcome.
func (s *Session) closedByServer(ctx context.Context) bool {
	m, err := s.transport.GetMatch(ctx, s.sc.MatchID)
	if err != nil {
		if ctx.Err() == nil {
			utils.Log.Warn("[Session] match reload failed", zap.String("match_id", s.sc.MatchID), zap.Error(err))
		}
		return false
	}
	if !m.Closed() {
		return false
	}
	env := withMatchOutcome(s.engine.CurrentState(), m)
	utils.Log.Info("[Session] match closed by server",
		zap.String("match_id", s.sc.MatchID), zap.String("reason", m.EndReason))
	s.mu.Lock()
	s.state = StateSynced
	s.ended = true
	s.mu.Unlock()
	s.engine.RenderState(env)
	return true
}

func (s *Session) watchIntents(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.IntentPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in, err := s.transport.LatestIntent(ctx, s.sc.MatchID)
			if err != nil {
				continue
			}
			s.HandleIntent(*in, time.Now())
		}
	}
}

// Close stops the session's goroutines and marks the seat offline.
func (s *Session) Close() {
	s.once.Do(func() {
		s.publisher.Close()
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.transport.SetPresence(ctx, s.sc.MatchID, false); err != nil {
			utils.Log.Debug("[Session] presence write failed", zap.String("match_id", s.sc.MatchID), zap.Error(err))
		}
	})
}
