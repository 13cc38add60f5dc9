package services

import (
	"context"
	"errors"
	"fmt"

	"match-sync-service/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotService keeps the single checkpoint slot per match.
type SnapshotService struct {
	DB *gorm.DB
}

func NewSnapshotService(db *gorm.DB) *SnapshotService {
	return &SnapshotService{DB: db}
}

// Commit overwrites the slot with the state reached at action seq. The action
// must already be in the log and authored by caller, and the slot never moves
// back to an older seq.
func (s *SnapshotService) Commit(ctx context.Context, matchID, caller string, seq int64, payload []byte) (*models.MatchSnapshot, error) {
	if _, err := models.DecodeEnvelope(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	db := s.DB.WithContext(ctx)
	m, err := loadMatch(db, matchID)
	if err != nil {
		return nil, err
	}
	seat := m.SeatOf(caller)
	if seat == models.SeatNone {
		return nil, ErrForbidden
	}

	var entry models.ActionEntry
	if err := db.Select("seat").
		Where("match_id = ? AND seq = ?", matchID, seq).
		First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSnapshotAhead
		}
		return nil, err
	}
	// only the state its author reached; an equal seq is then the author's retry
	if entry.Seat != seat {
		return nil, fmt.Errorf("%w: entry %d was written by seat %d", ErrForbidden, seq, entry.Seat)
	}

	snap := models.MatchSnapshot{
		MatchID: matchID,
		Seq:     seq,
		Payload: datatypes.JSON(payload),
	}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "match_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"seq", "payload", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("match_snapshots.seq <= excluded.seq"),
		}},
	}).Create(&snap)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrSnapshotStale
	}
	return s.Load(ctx, matchID)
}

// Load returns the latest checkpoint or ErrSnapshotAbsent.
func (s *SnapshotService) Load(ctx context.Context, matchID string) (*models.MatchSnapshot, error) {
	var snap models.MatchSnapshot
	if err := s.DB.WithContext(ctx).Where("match_id = ?", matchID).First(&snap).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSnapshotAbsent
		}
		return nil, err
	}
	return &snap, nil
}
