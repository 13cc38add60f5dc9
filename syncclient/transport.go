package syncclient

import (
	"context"
	"errors"
	"fmt"

	"match-sync-service/models"
)

var (
	ErrNoSnapshot = errors.New("no snapshot")
	ErrNoIntent   = errors.New("no live intent")
)

// Transport is the client's view of the match sync server.
type Transport interface {
	GetMatch(ctx context.Context, matchID string) (*models.Match, error)
	// Append commits one entry. key identifies the commit: the server answers a
	// repeated key with the entry it already stored.
	Append(ctx context.Context, matchID, key string, kind models.ActionKind, payload []byte) (*models.ActionEntry, error)
	LoadActions(ctx context.Context, matchID string, after int64) ([]models.ActionEntry, error)
	// StreamActions delivers entries with seq > after until ctx is done or the
	// server ends the stream; the channel is closed either way.
	StreamActions(ctx context.Context, matchID string, after int64) (<-chan models.ActionEntry, error)
	CommitSnapshot(ctx context.Context, matchID string, seq int64, payload []byte) error
	LoadSnapshot(ctx context.Context, matchID string) (*models.MatchSnapshot, error)
	PutIntent(ctx context.Context, matchID string, intent models.LiveIntent) error
	LatestIntent(ctx context.Context, matchID string) (*models.LiveIntent, error)
	SetPresence(ctx context.Context, matchID string, online bool) error
}

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// retryable reports whether a failed write may succeed if sent again.
// Anything the server answered with a 4xx is final.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
