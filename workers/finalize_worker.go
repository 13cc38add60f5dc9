package workers

import (
	"context"
	"time"

	"match-sync-service/models"
	"match-sync-service/services"
	"match-sync-service/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FinalizeBackstop re-runs the finalizer for matches left FINISHED, e.g. when
// the process died between the status write and the inline finalize.
type FinalizeBackstop struct {
	DB        *gorm.DB
	Finalizer *services.FinalizerService
	BatchSize int
}

func NewFinalizeBackstop(db *gorm.DB, fin *services.FinalizerService) *FinalizeBackstop {
	return &FinalizeBackstop{DB: db, Finalizer: fin, BatchSize: 50}
}

// RunOnce finalizes one batch of stranded matches and returns how many it archived.
func (w *FinalizeBackstop) RunOnce(ctx context.Context) (int, error) {
	var ids []string
	err := w.DB.WithContext(ctx).Model(&models.Match{}).
		Where("status = ? AND finalization_done = ?", models.MatchFinished, false).
		Order("updated_at ASC").
		Limit(w.BatchSize).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, id := range ids {
		rec, err := w.Finalizer.Finalize(ctx, id)
		if err != nil {
			utils.Log.Error("[FinalizeWorker] finalize failed", zap.String("match_id", id), zap.Error(err))
			continue
		}
		if rec != nil {
			archived++
		}
	}
	return archived, nil
}

// PollFinished runs RunOnce every pollInterval until ctx is cancelled.
func PollFinished(ctx context.Context, w *FinalizeBackstop, pollInterval time.Duration) {
	utils.Log.Info("[FinalizeWorker] started", zap.Duration("interval", pollInterval))

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			utils.Log.Info("[FinalizeWorker] stopped")
			return
		case <-ticker.C:
			n, err := w.RunOnce(ctx)
			if err != nil {
				utils.Log.Error("[FinalizeWorker] poll failed", zap.Error(err))
				continue
			}
			if n > 0 {
				utils.Log.Info("[FinalizeWorker] archived stranded matches", zap.Int("count", n))
			}
		}
	}
}
