package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"match-sync-service/config"
	"match-sync-service/handlers"
	"match-sync-service/models"
	"match-sync-service/services"
	"match-sync-service/utils"
	"match-sync-service/workers"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}
	if err := utils.InitLogger(cfg.Env); err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer utils.Log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		utils.Log.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		utils.Log.Fatal("failed to migrate database", zap.Error(err))
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		utils.Log.Fatal("invalid REDIS_URL", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		utils.Log.Fatal("failed to connect to redis", zap.Error(err))
	}

	finalizer := services.NewFinalizerService(db, nil)
	if cfg.Archive.Enabled() {
		archive, err := utils.NewR2Archive(ctx, cfg.Archive)
		if err != nil {
			utils.Log.Fatal("failed to initialize R2 archive", zap.Error(err))
		}
		finalizer.Archive = archive
	} else {
		utils.Log.Warn("R2_BUCKET_NAME not set, game records will not be archived")
	}

	verification := services.NewVerificationService(db, nil)
	verification.ReissueInterval = cfg.CodeReissueInterval
	verification.TTL = cfg.CodeTTL
	verification.MaxAttempts = cfg.CodeMaxAttempts

	svc := handlers.Services{
		Matches:      services.NewMatchService(db, finalizer),
		Actions:      services.NewActionLogService(db, finalizer),
		Snapshots:    services.NewSnapshotService(db),
		Intents:      services.NewIntentService(db, rdb, cfg.IntentStaleness),
		Presence:     services.NewPresenceService(db, rdb),
		Profiles:     services.NewProfileService(db),
		Admin:        services.NewAdminService(db, rdb, cfg.AdminIdentity),
		Verification: verification,
	}

	arbiter := services.NewArbiterService(db, finalizer)
	scheduler, err := arbiter.StartArbiterScheduler(ctx, cfg.SweepInterval)
	if err != nil {
		utils.Log.Fatal("failed to start arbiter scheduler", zap.Error(err))
	}
	defer scheduler.Shutdown()

	go workers.PollFinished(ctx, workers.NewFinalizeBackstop(db, finalizer), cfg.FinalizePollInterval)

	app := handlers.NewApp(svc, handlers.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		GatewayToken:   cfg.GatewayToken,
		JWTSecret:      []byte(cfg.JWTSecret),
		Stream:         handlers.StreamOptions{PollInterval: cfg.StreamPollInterval},
	})

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			utils.Log.Error("server error", zap.Error(err))
			stop()
		}
	}()

	utils.Log.Info("server running",
		zap.String("addr", cfg.ListenAddr),
		zap.Strings("allowed_origins", cfg.AllowedOrigins),
		zap.Duration("sweep_interval", cfg.SweepInterval))

	<-ctx.Done()
	utils.Log.Info("shutting down server")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		utils.Log.Error("server shutdown failed", zap.Error(err))
	}
}
