package services

import (
	"context"
	"errors"
	"fmt"

	"match-sync-service/models"
	"match-sync-service/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ActionLogService owns the append-only per-match action log. Sequence numbers
// come from matches.last_seq, bumped in the same transaction as the insert, so
// a match's log has no gaps and no duplicates.
type ActionLogService struct {
	DB        *gorm.DB
	Finalizer FinalizeTrigger
}

func NewActionLogService(db *gorm.DB, fin FinalizeTrigger) *ActionLogService {
	return &ActionLogService{DB: db, Finalizer: fin}
}

// Append stores one committed transition authored by caller. Both kinds must
// come from the seat on turn. TURN_COMMIT hands the turn to the envelope's
// active seat; MATCH_END carries the outcome and finishes the match.
func (s *ActionLogService) Append(ctx context.Context, matchID, caller string, kind models.ActionKind, payload []byte) (*models.ActionEntry, error) {
	return s.AppendWithKey(ctx, matchID, caller, "", kind, payload)
}

// AppendWithKey is Append with a client-chosen idempotency key. Sending the
// same key again returns the entry it already produced instead of appending,
// so a client may safely retry a commit whose response it never saw.
func (s *ActionLogService) AppendWithKey(ctx context.Context, matchID, caller, key string, kind models.ActionKind, payload []byte) (*models.ActionEntry, error) {
	if key != "" {
		prev, err := s.findKeyed(ctx, matchID, caller, key)
		if err != nil || prev != nil {
			return prev, err
		}
	}
	entry, err := s.append(ctx, matchID, caller, key, kind, payload)
	if err != nil && key != "" && (errors.Is(err, ErrConflict) || errors.Is(err, ErrNotYourTurn) || errors.Is(err, ErrMatchClosed)) {
		// a concurrent retry with the same key may have won
		if prev, ferr := s.findKeyed(ctx, matchID, caller, key); ferr == nil && prev != nil {
			return prev, nil
		}
	}
	return entry, err
}

// findKeyed returns caller's entry stored under key, or nil.
func (s *ActionLogService) findKeyed(ctx context.Context, matchID, caller, key string) (*models.ActionEntry, error) {
	db := s.DB.WithContext(ctx)
	m, err := loadMatch(db, matchID)
	if err != nil {
		return nil, err
	}
	seat := m.SeatOf(caller)
	if seat == models.SeatNone {
		return nil, ErrForbidden
	}
	var e models.ActionEntry
	err = db.Where("match_id = ? AND client_key = ? AND seat = ?", matchID, key, seat).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *ActionLogService) append(ctx context.Context, matchID, caller, key string, kind models.ActionKind, payload []byte) (*models.ActionEntry, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidAction, kind)
	}
	env, err := models.DecodeEnvelope(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var entry models.ActionEntry
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := loadMatch(tx, matchID)
		if err != nil {
			return err
		}
		seat := m.SeatOf(caller)
		if seat == models.SeatNone {
			return ErrForbidden
		}
		if m.Closed() {
			return ErrMatchClosed
		}
		if m.Status != models.MatchActive {
			return ErrMatchNotActive
		}

		now := timeNow()
		updates := map[string]any{
			"last_seq": gorm.Expr("last_seq + 1"),
			"revision": gorm.Expr("revision + 1"),
		}
		if seat != m.ActiveSeat {
			return ErrNotYourTurn
		}
		switch kind {
		case models.ActionTurnCommit:
			if env.Terminal() {
				return fmt.Errorf("%w: terminal state must be sent as %s", ErrInvalidPayload, models.ActionMatchEnd)
			}
			next := env.ActiveSeat
			if !next.Valid() {
				next = seat.Opponent()
			}
			updates["active_seat"] = next
			updates["timeout_at"] = m.Clock.Deadline(now)
		case models.ActionMatchEnd:
			if !env.Terminal() {
				return fmt.Errorf("%w: %s needs a finished state", ErrInvalidPayload, models.ActionMatchEnd)
			}
			for k, v := range finishUpdates(*env.Outcome) {
				if k != "revision" {
					updates[k] = v
				}
			}
		}

		res := tx.Model(&models.Match{}).
			Where("id = ? AND status = ? AND revision = ?", matchID, models.MatchActive, m.Revision).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}

		var seq int64
		if err := tx.Model(&models.Match{}).Where("id = ?", matchID).Pluck("last_seq", &seq).Error; err != nil {
			return err
		}

		entry = models.ActionEntry{
			ID:        uuid.NewString(),
			MatchID:   matchID,
			Seq:       seq,
			Seat:      seat,
			Kind:      kind,
			ClientKey: key,
			Payload:   datatypes.JSON(payload),
			At:        stamp(now),
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		return nil, err
	}

	utils.Log.Debug("[ActionLog] appended",
		zap.String("match_id", matchID),
		zap.Int64("seq", entry.Seq),
		zap.String("kind", string(kind)),
		zap.Int("seat", int(entry.Seat)))

	if kind == models.ActionMatchEnd {
		trigger(ctx, s.Finalizer, matchID)
	}
	return &entry, nil
}

// LoadAll returns the whole log in sequence order.
func (s *ActionLogService) LoadAll(ctx context.Context, matchID string) ([]models.ActionEntry, error) {
	return s.Since(ctx, matchID, 0)
}

// Since returns the entries with seq > after, in order.
func (s *ActionLogService) Since(ctx context.Context, matchID string, after int64) ([]models.ActionEntry, error) {
	db := s.DB.WithContext(ctx)
	if _, err := loadMatch(db, matchID); err != nil {
		return nil, err
	}
	return loadActions(db, matchID, after)
}

func loadActions(db *gorm.DB, matchID string, after int64) ([]models.ActionEntry, error) {
	entries := []models.ActionEntry{}
	err := db.Where("match_id = ? AND seq > ?", matchID, after).
		Order("seq ASC").
		Find(&entries).Error
	return entries, err
}
