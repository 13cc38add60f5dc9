package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"match-sync-service/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// DefaultIntentStaleness is how long a live intent stays visible.
const DefaultIntentStaleness = 30 * time.Second

func intentKey(matchID string) string   { return fmt.Sprintf("match:%s:intent", matchID) }
func presenceKey(matchID string) string { return fmt.Sprintf("match:%s:presence", matchID) }

// seatedCaller loads the match and resolves caller to a seat, failing with
// ErrForbidden for anyone not seated.
func seatedCaller(ctx context.Context, db *gorm.DB, matchID, caller string) (*models.Match, models.Seat, error) {
	m, err := loadMatch(db.WithContext(ctx), matchID)
	if err != nil {
		return nil, models.SeatNone, err
	}
	seat := m.SeatOf(caller)
	if seat == models.SeatNone {
		return nil, models.SeatNone, ErrForbidden
	}
	return m, seat, nil
}

// IntentService holds the one ephemeral live-intent slot per match in redis.
// Nothing here ever changes committed match state.
type IntentService struct {
	DB        *gorm.DB
	RDB       redis.Cmdable
	Staleness time.Duration
}

func NewIntentService(db *gorm.DB, rdb redis.Cmdable, staleness time.Duration) *IntentService {
	if staleness <= 0 {
		staleness = DefaultIntentStaleness
	}
	return &IntentService{DB: db, RDB: rdb, Staleness: staleness}
}

// Put overwrites the slot. Seat and timestamp are set here, not trusted from
// the caller, and the key expires after the staleness horizon.
func (s *IntentService) Put(ctx context.Context, matchID, caller string, in models.LiveIntent) (*models.LiveIntent, error) {
	m, seat, err := seatedCaller(ctx, s.DB, matchID, caller)
	if err != nil {
		return nil, err
	}
	if m.Closed() {
		return nil, ErrMatchClosed
	}

	in.Seat = seat
	in.At = stamp(timeNow())
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	if err := s.RDB.Set(ctx, intentKey(matchID), raw, s.Staleness).Err(); err != nil {
		return nil, err
	}
	return &in, nil
}

// Latest returns the current intent, or ErrIntentAbsent when there is none,
// it cannot be decoded, or it is older than the staleness horizon.
func (s *IntentService) Latest(ctx context.Context, matchID string) (*models.LiveIntent, error) {
	raw, err := s.RDB.Get(ctx, intentKey(matchID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrIntentAbsent
		}
		return nil, err
	}
	var in models.LiveIntent
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, ErrIntentAbsent
	}
	if in.Stale(timeNow(), s.Staleness) {
		return nil, ErrIntentAbsent
	}
	return &in, nil
}

// PresenceService keeps advisory online flags per seat. Presence never ends
// a match; only the arbiter does.
type PresenceService struct {
	DB  *gorm.DB
	RDB redis.Cmdable
}

func NewPresenceService(db *gorm.DB, rdb redis.Cmdable) *PresenceService {
	return &PresenceService{DB: db, RDB: rdb}
}

// Set records caller's own seat as online or offline.
func (s *PresenceService) Set(ctx context.Context, matchID, caller string, online bool) (*models.PresenceRecord, error) {
	_, seat, err := seatedCaller(ctx, s.DB, matchID, caller)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, matchID, seat, caller, online)
}

// MarkOffline is the disconnect hook: it needs no match lookup and is safe to
// call after the request that opened the session has gone.
func (s *PresenceService) MarkOffline(ctx context.Context, matchID string, seat models.Seat, identity string) error {
	_, err := s.write(ctx, matchID, seat, identity, false)
	return err
}

func (s *PresenceService) write(ctx context.Context, matchID string, seat models.Seat, identity string, online bool) (*models.PresenceRecord, error) {
	rec := models.PresenceRecord{Seat: seat, Identity: identity, Online: online, At: stamp(timeNow())}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := s.RDB.HSet(ctx, presenceKey(matchID), strconv.Itoa(int(seat)), raw).Err(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Get returns both seats' presence; a seat never seen reads as offline.
func (s *PresenceService) Get(ctx context.Context, matchID string) ([]models.PresenceRecord, error) {
	m, err := loadMatch(s.DB.WithContext(ctx), matchID)
	if err != nil {
		return nil, err
	}
	fields, err := s.RDB.HGetAll(ctx, presenceKey(matchID)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]models.PresenceRecord, 0, 2)
	for _, seat := range []models.Seat{models.SeatOne, models.SeatTwo} {
		rec := models.PresenceRecord{Seat: seat, Identity: m.IdentityAt(seat)}
		if raw, ok := fields[strconv.Itoa(int(seat))]; ok {
			var stored models.PresenceRecord
			if err := json.Unmarshal([]byte(raw), &stored); err == nil {
				rec = stored
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
