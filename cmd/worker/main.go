package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/app"
	"github.com/noah-isme/course-enrollment-api/internal/jobs"
	"github.com/noah-isme/course-enrollment-api/internal/service"
	"github.com/noah-isme/course-enrollment-api/pkg/config"
	queue "github.com/noah-isme/course-enrollment-api/pkg/jobs"
	"github.com/noah-isme/course-enrollment-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.StorageDriver == config.StorageDriverMemory {
		logr.Fatal("worker requires postgres storage; the memory store is not shared across processes")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, err := app.OpenStorage(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("failed to open storage", zap.Error(err))
	}
	defer storage.Close() //nolint:errcheck

	redisClient := app.OpenRedis(ctx, cfg, logr)
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	opt := queue.RedisOpt(cfg.Redis)
	client := asynq.NewClient(opt)
	defer client.Close() //nolint:errcheck
	inspector := asynq.NewInspector(opt)
	defer inspector.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	scheduler := jobs.NewAsynqScheduler(client, inspector, cfg.Jobs.Queue, logr)
	svcs := app.NewServices(cfg, storage, redisClient, scheduler, metrics, logr)
	handlers := jobs.NewHandlers(svcs.Offerings, svcs.Attendance, metrics, logr)

	mux := asynq.NewServeMux()
	handlers.Register(mux)

	periodic := queue.NewScheduler(cfg, logr)
	if _, err := periodic.Register(cfg.Jobs.FinishSweepCron, jobs.NewFinishOverdueTask(), asynq.Queue(cfg.Jobs.Queue)); err != nil {
		logr.Fatal("failed to register finish sweep", zap.Error(err))
	}
	if _, err := periodic.Register(cfg.Jobs.BackfillCron, jobs.NewSummaryBackfillTask(), asynq.Queue(cfg.Jobs.Queue)); err != nil {
		logr.Fatal("failed to register summary backfill", zap.Error(err))
	}
	if err := periodic.Start(); err != nil {
		logr.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer periodic.Shutdown()

	srv := queue.NewServer(cfg, logr)
	if err := srv.Start(mux); err != nil {
		logr.Fatal("failed to start worker", zap.Error(err))
	}
	logr.Info("worker started",
		zap.String("queue", cfg.Jobs.Queue),
		zap.Int("concurrency", cfg.Jobs.Concurrency),
		zap.String("finish_sweep", cfg.Jobs.FinishSweepCron),
		zap.String("summary_backfill", cfg.Jobs.BackfillCron),
	)

	<-ctx.Done()
	srv.Shutdown()
	logr.Info("worker stopped")
}
