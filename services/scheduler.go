// services/scheduler.go
package services

import (
	"context"
	"time"

	"match-sync-service/utils"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// StartArbiterScheduler runs a sweep every interval until the returned
// scheduler is shut down. A sweep still running when the next one is due is
// not doubled up.
func (a *ArbiterService) StartArbiterScheduler(ctx context.Context, interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			n, err := a.Sweep(ctx, timeNow())
			if err != nil {
				utils.Log.Error("[Scheduler] sweep error", zap.Error(err))
				return
			}
			if n > 0 {
				utils.Log.Info("[Scheduler] sweep forfeited matches", zap.Int("count", n))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}

	sched.Start()
	utils.Log.Info("[Scheduler] arbiter sweep started", zap.Duration("interval", interval))
	return sched, nil
}
