package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	queue "github.com/noah-isme/course-enrollment-api/pkg/jobs"
)

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type taskDeleter interface {
	DeleteTask(queue, id string) error
}

// AsynqScheduler schedules per-offering finish tasks on Redis through asynq.
type AsynqScheduler struct {
	client    taskEnqueuer
	inspector taskDeleter
	queue     string
	logger    *zap.Logger
}

// NewAsynqScheduler constructs the scheduler. inspector may be nil, in which
// case an already scheduled task is left in place and the new one is rejected
// as a duplicate.
func NewAsynqScheduler(client taskEnqueuer, inspector taskDeleter, queueName string, logger *zap.Logger) *AsynqScheduler {
	if queueName == "" {
		queueName = "default"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsynqScheduler{client: client, inspector: inspector, queue: queueName, logger: logger}
}

// ScheduleFinish replaces any pending finish task of the offering with one processed at at.
func (s *AsynqScheduler) ScheduleFinish(ctx context.Context, offeringID string, at time.Time) error {
	taskID := FinishTaskID(offeringID)
	if s.inspector != nil {
		if err := s.inspector.DeleteTask(s.queue, taskID); err != nil &&
			!errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
			s.logger.Warn("failed to delete previous finish task", zap.String("task_id", taskID), zap.Error(err))
		}
	}

	task, err := NewOfferingFinishTask(offeringID)
	if err != nil {
		return err
	}
	_, err = s.client.EnqueueContext(ctx, task, asynq.ProcessAt(at), asynq.TaskID(taskID), asynq.Queue(s.queue))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			s.logger.Debug("finish task already scheduled", zap.String("task_id", taskID))
			return nil
		}
		return fmt.Errorf("enqueue finish task: %w", err)
	}
	s.logger.Info("offering finish scheduled", zap.String("offering_id", offeringID), zap.Time("process_at", at))
	return nil
}

// LocalScheduler schedules finish tasks on the in-process queue when Redis is unavailable.
type LocalScheduler struct {
	queue *queue.Queue
}

// NewLocalScheduler wraps a started in-process queue.
func NewLocalScheduler(q *queue.Queue) *LocalScheduler {
	return &LocalScheduler{queue: q}
}

// ScheduleFinish replaces the pending finish job of the offering.
func (s *LocalScheduler) ScheduleFinish(ctx context.Context, offeringID string, at time.Time) error {
	task, err := NewOfferingFinishTask(offeringID)
	if err != nil {
		return err
	}
	return s.queue.Schedule(queue.Job{ID: FinishTaskID(offeringID), Type: task.Type(), Payload: task.Payload()}, at)
}
