package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"match-sync-service/models"
	"match-sync-service/utils"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordArchive receives a JSON copy of every game record.
type RecordArchive interface {
	PutJSON(ctx context.Context, key string, body []byte) (string, error)
}

// FinalizerService turns a FINISHED match into a GameRecord plus rating and
// star updates, exactly once per match.
type FinalizerService struct {
	DB      *gorm.DB
	Archive RecordArchive // optional
}

func NewFinalizerService(db *gorm.DB, archive RecordArchive) *FinalizerService {
	return &FinalizerService{DB: db, Archive: archive}
}

// Trigger runs Finalize and only logs failures; the backstop worker picks up
// anything left FINISHED.
func (s *FinalizerService) Trigger(ctx context.Context, matchID string) {
	if _, err := s.Finalize(ctx, matchID); err != nil {
		utils.Log.Error("[Finalizer] finalize failed",
			zap.String("match_id", matchID), zap.Error(err))
	}
}

// Finalize archives a FINISHED match. All database writes happen in one
// transaction whose first statement claims the finalization flag; a match that
// is not FINISHED or was already claimed is a silent no-op returning nil.
func (s *FinalizerService) Finalize(ctx context.Context, matchID string) (*models.GameRecord, error) {
	var record *models.GameRecord
	var m models.Match

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Match{}).
			Where("id = ? AND status = ? AND finalization_done = ?", matchID, models.MatchFinished, false).
			Updates(map[string]any{
				"finalization_done": true,
				"revision":          gorm.Expr("revision + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if err := tx.Where("id = ?", matchID).First(&m).Error; err != nil {
			return err
		}

		p1, err := ensureProfile(tx, m.Seat1)
		if err != nil {
			return err
		}
		p2, err := ensureProfile(tx, m.Seat2)
		if err != nil {
			return err
		}

		entries, err := loadActions(tx, matchID, 0)
		if err != nil {
			return err
		}

		rec, err := buildRecord(&m, p1, p2, entries)
		if err != nil {
			return err
		}
		if err := tx.Create(rec).Error; err != nil {
			return err
		}

		if err := applyResult(&m, rec, p1, p2); err != nil {
			return err
		}
		for _, p := range []*models.PlayerProfile{p1, p2} {
			if err := tx.Save(p).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&models.Match{}).Where("id = ?", matchID).
			Updates(map[string]any{
				"status":             models.MatchArchived,
				"archived_record_id": rec.ID,
				"revision":           gorm.Expr("revision + 1"),
			}).Error; err != nil {
			return err
		}
		record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	utils.Log.Info("[Finalizer] match archived",
		zap.String("match_id", matchID),
		zap.String("record_id", record.ID),
		zap.Int("winner", int(record.Winner)),
		zap.Bool("draw", record.IsDraw))

	s.upload(ctx, &m, record)
	return record, nil
}

// upload is best effort: the database record is the archive of record.
func (s *FinalizerService) upload(ctx context.Context, m *models.Match, rec *models.GameRecord) {
	if s.Archive == nil {
		return
	}
	body, err := json.Marshal(rec)
	if err != nil {
		utils.Log.Warn("[Finalizer] record not encoded for archive",
			zap.String("record_id", rec.ID), zap.Error(err))
		return
	}
	key := fmt.Sprintf("records/%s/%s-vs-%s-%s.json",
		rec.PlayedAt.Format("2006/01/02"), slug.Make(m.Seat1), slug.Make(m.Seat2), rec.ID)

	url, err := s.Archive.PutJSON(ctx, key, body)
	if err != nil {
		utils.Log.Warn("[Finalizer] archive upload failed",
			zap.String("record_id", rec.ID), zap.Error(err))
		return
	}
	if err := s.DB.WithContext(ctx).Model(&models.GameRecord{}).
		Where("id = ?", rec.ID).Update("archive_url", url).Error; err != nil {
		utils.Log.Warn("[Finalizer] archive url not saved",
			zap.String("record_id", rec.ID), zap.Error(err))
		return
	}
	rec.ArchiveURL = url
}

// ensureProfile returns identity's profile, creating the default one if missing.
func ensureProfile(tx *gorm.DB, identity string) (*models.PlayerProfile, error) {
	p := models.NewPlayerProfile(identity)
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error; err != nil {
		return nil, err
	}
	var out models.PlayerProfile
	if err := tx.Where("id = ?", identity).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func buildRecord(m *models.Match, p1, p2 *models.PlayerProfile, entries []models.ActionEntry) (*models.GameRecord, error) {
	moves := make([]models.RecordedMove, 0, len(entries))
	for _, e := range entries {
		moves = append(moves, models.RecordedMove{
			Seq:   e.Seq,
			Seat:  e.Seat,
			Kind:  e.Kind,
			At:    e.At,
			State: e.Payload,
		})
	}
	movesJSON, err := json.Marshal(moves)
	if err != nil {
		return nil, err
	}
	seatsJSON, err := json.Marshal([]models.SeatAtPlay{
		{Seat: models.SeatOne, Identity: p1.ID, Rating: p1.Rating, Stars: p1.Stars},
		{Seat: models.SeatTwo, Identity: p2.ID, Rating: p2.Rating, Stars: p2.Stars},
	})
	if err != nil {
		return nil, err
	}

	playedAt := timeNow()
	if n := len(entries); n > 0 {
		playedAt = entries[n-1].At
	}
	return &models.GameRecord{
		ID:          uuid.NewString(),
		MatchID:     m.ID,
		Winner:      m.Winner,
		IsDraw:      m.IsDraw,
		EndReason:   m.EndReason,
		PlayedAt:    playedAt,
		SeatsAtPlay: datatypes.JSON(seatsJSON),
		Moves:       datatypes.JSON(movesJSON),
	}, nil
}

// applyResult updates both profiles in memory from their pre-match values.
func applyResult(m *models.Match, rec *models.GameRecord, p1, p2 *models.PlayerProfile) error {
	if !m.IsDraw && !m.Winner.Valid() {
		return errors.New("finished match has neither a winner nor a draw")
	}

	score1, score2 := ScoreDraw, ScoreDraw
	stars1, stars2 := 0, 0
	res1, res2 := models.ResultDraw, models.ResultDraw
	if !m.IsDraw {
		if m.Winner == models.SeatOne {
			score1, score2 = ScoreWin, ScoreLoss
			res1, res2 = models.ResultWin, models.ResultLoss
			stars1, stars2 = StarDeltas(p1.Stars, p2.Stars)
		} else {
			score1, score2 = ScoreLoss, ScoreWin
			res1, res2 = models.ResultLoss, models.ResultWin
			stars2, stars1 = StarDeltas(p2.Stars, p1.Stars)
		}
	}

	r1 := RatingDelta(p1.Rating, p2.Rating, score1)
	r2 := RatingDelta(p2.Rating, p1.Rating, score2)

	if err := settle(p1, p2.ID, rec, res1, r1, stars1); err != nil {
		return err
	}
	return settle(p2, p1.ID, rec, res2, r2, stars2)
}

func settle(p *models.PlayerProfile, opponent string, rec *models.GameRecord, result models.HistoryResult, ratingDelta, starsDelta int) error {
	before := p.Rating
	beforeStars := p.Stars
	p.Rating = ApplyRating(p.Rating, ratingDelta)
	p.Stars = ApplyStars(p.Stars, starsDelta)

	switch result {
	case models.ResultWin:
		p.Wins++
	case models.ResultLoss:
		p.Losses++
	default:
		p.Draws++
	}
	played := rec.PlayedAt
	p.LastPlayedAt = &played

	return p.PushHistory(models.HistoryEntry{
		RecordID:    rec.ID,
		MatchID:     rec.MatchID,
		Opponent:    opponent,
		Result:      result,
		RatingDelta: p.Rating - before,
		StarsDelta:  p.Stars - beforeStars,
		PlayedAt:    played,
	})
}
