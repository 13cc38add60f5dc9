package services

import (
	"context"
	"time"
)

// timeNow is swapped in tests that need a fixed wall clock.
var timeNow = func() time.Time { return time.Now().UTC() }

// stamp is the timestamp stored on log entries: UTC, millisecond precision.
func stamp(t time.Time) time.Time { return t.UTC().Truncate(time.Millisecond) }

// FinalizeTrigger is told about every match a write has just moved into FINISHED.
// Implementations must tolerate duplicate and concurrent calls.
type FinalizeTrigger interface {
	Trigger(ctx context.Context, matchID string)
}

func trigger(ctx context.Context, f FinalizeTrigger, matchID string) {
	if f == nil {
		return
	}
	f.Trigger(ctx, matchID)
}
