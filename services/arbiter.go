package services

import (
	"context"
	"sync/atomic"
	"time"

	"match-sync-service/models"
	"match-sync-service/utils"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const defaultSweepConcurrency = 8

// ArbiterService forfeits matches whose seat on turn ran past its deadline.
// It is the only component allowed to end a match for inactivity.
type ArbiterService struct {
	DB          *gorm.DB
	Finalizer   FinalizeTrigger
	Concurrency int
}

func NewArbiterService(db *gorm.DB, fin FinalizeTrigger) *ArbiterService {
	return &ArbiterService{DB: db, Finalizer: fin, Concurrency: defaultSweepConcurrency}
}

// Sweep evaluates every timed ACTIVE match once and returns how many it
// forfeited. Matches without a deadline are never loaded. Each forfeit is a
// compare-and-set on the match revision that also clears the deadline, so
// overlapping sweeps (here or on another instance) forfeit a match at most once.
func (a *ArbiterService) Sweep(ctx context.Context, now time.Time) (int, error) {
	var due []models.Match
	err := a.DB.WithContext(ctx).
		Where("status = ? AND timeout_at IS NOT NULL AND finalization_done = ?", models.MatchActive, false).
		Where("timeout_at <= ?", now).
		Find(&due).Error
	if err != nil {
		return 0, err
	}

	limit := a.Concurrency
	if limit <= 0 {
		limit = defaultSweepConcurrency
	}

	var forfeited atomic.Int64
	var g errgroup.Group
	g.SetLimit(limit)
	for i := range due {
		m := due[i]
		if m.TimeoutAt == nil || now.Before(*m.TimeoutAt) {
			continue
		}
		g.Go(func() error {
			ok, err := a.forfeit(ctx, &m)
			if err != nil {
				utils.Log.Error("[Arbiter] forfeit failed", zap.String("match_id", m.ID), zap.Error(err))
				return err
			}
			if ok {
				forfeited.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	return int(forfeited.Load()), err
}

func (a *ArbiterService) forfeit(ctx context.Context, m *models.Match) (bool, error) {
	winner := m.ActiveSeat.Opponent()
	if winner == models.SeatNone {
		utils.Log.Warn("[Arbiter] timed match has nobody on turn", zap.String("match_id", m.ID))
		return false, nil
	}

	res := a.DB.WithContext(ctx).Model(&models.Match{}).
		Where("id = ? AND revision = ? AND status = ? AND finalization_done = ? AND timeout_at IS NOT NULL",
			m.ID, m.Revision, models.MatchActive, false).
		Updates(finishUpdates(models.Outcome{Winner: winner, Reason: "timeout"}))
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// someone else moved the match first
		return false, nil
	}

	utils.Log.Info("[Arbiter] match forfeited on time",
		zap.String("match_id", m.ID),
		zap.Int("timed_out_seat", int(m.ActiveSeat)),
		zap.Int("winner", int(winner)))

	trigger(ctx, a.Finalizer, m.ID)
	return true, nil
}
