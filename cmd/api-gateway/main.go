package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/app"
	"github.com/noah-isme/course-enrollment-api/internal/handler"
	"github.com/noah-isme/course-enrollment-api/internal/jobs"
	"github.com/noah-isme/course-enrollment-api/internal/service"
	"github.com/noah-isme/course-enrollment-api/pkg/config"
	queue "github.com/noah-isme/course-enrollment-api/pkg/jobs"
	"github.com/noah-isme/course-enrollment-api/pkg/logger"
)

// @title Course Enrollment API
// @version 1.0.0
// @description Course offerings, enrollment lifecycle, waitlists and attendance ledger
// @BasePath /api/v1
// @schemes http

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
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

	metrics := service.NewMetricsService()

	// The finish scheduler and the local job handlers depend on each other through
	// the offering service; the local queue resolves handlers lazily.
	var handlers *jobs.Handlers
	var scheduler service.FinishScheduler
	var localQueue *queue.Queue
	if cfg.Jobs.Enabled {
		opt := queue.RedisOpt(cfg.Redis)
		client := asynq.NewClient(opt)
		defer client.Close() //nolint:errcheck
		inspector := asynq.NewInspector(opt)
		defer inspector.Close() //nolint:errcheck
		scheduler = jobs.NewAsynqScheduler(client, inspector, cfg.Jobs.Queue, logr)
	} else {
		localQueue = queue.NewQueue("jobs", func(ctx context.Context, job queue.Job) error {
			return handlers.Process(ctx, job)
		}, queue.QueueConfig{Workers: cfg.Jobs.Concurrency, MaxRetries: 3, RetryDelay: 5 * time.Second, Logger: logr})
		scheduler = jobs.NewLocalScheduler(localQueue)
	}

	svcs := app.NewServices(cfg, storage, redisClient, scheduler, metrics, logr)
	handlers = jobs.NewHandlers(svcs.Offerings, svcs.Attendance, metrics, logr)

	if localQueue != nil {
		localQueue.Start(ctx)
		defer localQueue.Stop()
		go runLocalSweeps(ctx, localQueue, logr)
	}

	var pinger handler.Pinger
	if storage.DB != nil {
		pinger = storage.DB
	}
	router := app.NewRouter(cfg, svcs, pinger, logr)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logr.Error("graceful shutdown failed", zap.Error(err))
		}
	}()

	logr.Info("server starting",
		zap.String("addr", srv.Addr),
		zap.String("env", cfg.Env),
		zap.String("storage", cfg.StorageDriver),
		zap.Bool("jobs", cfg.Jobs.Enabled),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logr.Fatal("server failed", zap.Error(err))
	}
	logr.Info("server stopped")
}

// runLocalSweeps stands in for the asynq cron entries when no worker is deployed.
func runLocalSweeps(ctx context.Context, q *queue.Queue, logr *zap.Logger) {
	enqueue := func() {
		for _, t := range []*asynq.Task{jobs.NewFinishOverdueTask(), jobs.NewSummaryBackfillTask()} {
			if err := q.Enqueue(queue.Job{Type: t.Type(), Payload: t.Payload()}); err != nil {
				logr.Warn("failed to enqueue sweep", zap.String("type", t.Type()), zap.Error(err))
			}
		}
	}
	enqueue()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			enqueue()
		}
	}
}
