package syncclient

import (
	"sync"
	"time"

	"match-sync-service/models"
)

const (
	DefaultIntentDebounce  = 300 * time.Millisecond
	DefaultIntentStaleness = 30 * time.Second
)

// IntentPublisher coalesces rapid local changes: send runs once, with the
// latest intent, after delay has passed without a newer Publish.
type IntentPublisher struct {
	mu      sync.Mutex
	delay   time.Duration
	send    func(models.LiveIntent)
	timer   *time.Timer
	pending *models.LiveIntent
	closed  bool
}

func NewIntentPublisher(delay time.Duration, send func(models.LiveIntent)) *IntentPublisher {
	if delay <= 0 {
		delay = DefaultIntentDebounce
	}
	return &IntentPublisher{delay: delay, send: send}
}

func (p *IntentPublisher) Publish(in models.LiveIntent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.pending = &in
	if p.timer == nil {
		p.timer = time.AfterFunc(p.delay, p.fire)
		return
	}
	p.timer.Reset(p.delay)
}

func (p *IntentPublisher) fire() {
	p.mu.Lock()
	in := p.pending
	p.pending = nil
	closed := p.closed
	p.mu.Unlock()

	if in != nil && !closed {
		p.send(*in)
	}
}

// Cancel drops a pending intent, e.g. once the turn it previewed is committed.
func (p *IntentPublisher) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
}

func (p *IntentPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.pending = nil
	if p.timer != nil {
		p.timer.Stop()
	}
}

// overlayFor decides whether an observed intent may be shown to the local
// seat and builds the display-only state for it. It returns false for the
// local seat's own intents, for stale or undecodable ones, and while the local
// state is finished or says the local seat is the one to act.
func overlayFor(sc SessionContext, current models.StateEnvelope, in models.LiveIntent, now time.Time, staleness time.Duration) (models.StateEnvelope, bool) {
	if in.Seat == sc.LocalSeat || !in.Seat.Valid() {
		return models.StateEnvelope{}, false
	}
	if in.Stale(now, staleness) {
		return models.StateEnvelope{}, false
	}
	if current.Terminal() || current.ActiveSeat == sc.LocalSeat {
		return models.StateEnvelope{}, false
	}

	env, err := models.DecodeEnvelope(in.Payload)
	if err != nil || env.Terminal() {
		return models.StateEnvelope{}, false
	}
	env.ActiveSeat = in.Seat
	env.Interaction = ""
	env.Selection = nil
	return env, true
}
