package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/pkg/config"
)

// RedisOpt builds the asynq connection options from the shared Redis settings.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewServer configures an asynq worker server for the jobs queue.
func NewServer(cfg *config.Config, logger *zap.Logger) *asynq.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	queue := cfg.Jobs.Queue
	if queue == "" {
		queue = "default"
	}
	return asynq.NewServer(RedisOpt(cfg.Redis), asynq.Config{
		Concurrency: cfg.Jobs.Concurrency,
		Queues:      map[string]int{queue: 1},
		Logger:      NewLogger(logger),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})
}

// NewScheduler configures the asynq periodic scheduler.
func NewScheduler(cfg *config.Config, logger *zap.Logger) *asynq.Scheduler {
	return asynq.NewScheduler(RedisOpt(cfg.Redis), &asynq.SchedulerOpts{
		Location: cfg.Location(),
		Logger:   NewLogger(logger),
	})
}

// Logger adapts zap to asynq's logging interface.
type Logger struct {
	s *zap.SugaredLogger
}

// NewLogger wraps a zap logger for asynq.
func NewLogger(l *zap.Logger) *Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &Logger{s: l.Named("asynq").Sugar()}
}

func (l *Logger) Debug(args ...interface{}) { l.s.Debug(args...) }
func (l *Logger) Info(args ...interface{})  { l.s.Info(args...) }
func (l *Logger) Warn(args ...interface{})  { l.s.Warn(args...) }
func (l *Logger) Error(args ...interface{}) { l.s.Error(args...) }
func (l *Logger) Fatal(args ...interface{}) { l.s.Fatal(args...) }
