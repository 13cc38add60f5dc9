package syncclient

import (
	"sync"

	"match-sync-service/models"
)

// LocalClock is the authoritative remaining time of the local seat. States
// coming from elsewhere (snapshots, the opponent's commits, overlays) never get
// to change it.
type LocalClock struct {
	mu        sync.Mutex
	seat      models.Seat
	remaining int64
	known     bool
}

func NewLocalClock(seat models.Seat) *LocalClock {
	return &LocalClock{seat: seat}
}

// Set records the local remaining time in milliseconds.
func (c *LocalClock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining = ms
	c.known = true
}

func (c *LocalClock) Remaining() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining, c.known
}

// Merge returns a copy of env with the local seat's clock taken from c. Until
// the local clock is known the first value seen is adopted.
func (c *LocalClock) Merge(env models.StateEnvelope) models.StateEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := env.Clone()
	if !c.known {
		if ms, ok := env.Clocks[c.seat]; ok {
			c.remaining = ms
			c.known = true
		}
		return out
	}
	if out.Clocks == nil {
		out.Clocks = map[models.Seat]int64{}
	}
	out.Clocks[c.seat] = c.remaining
	return out
}
