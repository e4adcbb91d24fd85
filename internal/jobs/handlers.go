package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
	queue "github.com/noah-isme/course-enrollment-api/pkg/jobs"
)

type offeringFinisher interface {
	Finish(ctx context.Context, id string) (bool, error)
	FinishOverdue(ctx context.Context, today time.Time) ([]string, error)
}

type summaryBackfiller interface {
	BackfillSummaries(ctx context.Context) (int, error)
}

type jobObserver interface {
	ObserveJob(taskType string, err error)
}

// Handlers executes background tasks against the services.
type Handlers struct {
	offerings offeringFinisher
	summaries summaryBackfiller
	metrics   jobObserver
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandlers constructs task handlers. metrics may be nil.
func NewHandlers(offerings offeringFinisher, summaries summaryBackfiller, metrics jobObserver, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{offerings: offerings, summaries: summaries, metrics: metrics, logger: logger, now: time.Now}
}

// Register binds every task type on the asynq mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeOfferingFinish, h.HandleOfferingFinish)
	mux.HandleFunc(TypeFinishOverdue, h.HandleFinishOverdue)
	mux.HandleFunc(TypeSummaryBackfill, h.HandleSummaryBackfill)
}

// HandleOfferingFinish finishes the offering named in the payload. A deleted
// offering is skipped rather than retried.
func (h *Handlers) HandleOfferingFinish(ctx context.Context, t *asynq.Task) error {
	err := h.finish(ctx, t.Payload())
	h.observe(TypeOfferingFinish, err)
	return err
}

// HandleFinishOverdue sweeps every overdue offering.
func (h *Handlers) HandleFinishOverdue(ctx context.Context, t *asynq.Task) error {
	finished, err := h.offerings.FinishOverdue(ctx, h.now())
	h.observe(TypeFinishOverdue, err)
	if err != nil {
		return err
	}
	h.logger.Info("finish sweep completed", zap.Int("finished", len(finished)))
	return nil
}

// HandleSummaryBackfill creates summaries for confirmed enrollments lacking one.
func (h *Handlers) HandleSummaryBackfill(ctx context.Context, t *asynq.Task) error {
	created, err := h.summaries.BackfillSummaries(ctx)
	h.observe(TypeSummaryBackfill, err)
	if err != nil {
		return err
	}
	h.logger.Info("summary backfill completed", zap.Int("created", created))
	return nil
}

// Process dispatches jobs from the in-process queue.
func (h *Handlers) Process(ctx context.Context, job queue.Job) error {
	switch job.Type {
	case TypeOfferingFinish:
		return h.HandleOfferingFinish(ctx, asynq.NewTask(job.Type, job.Payload))
	case TypeFinishOverdue:
		return h.HandleFinishOverdue(ctx, asynq.NewTask(job.Type, nil))
	case TypeSummaryBackfill:
		return h.HandleSummaryBackfill(ctx, asynq.NewTask(job.Type, nil))
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

func (h *Handlers) finish(ctx context.Context, payload []byte) error {
	p, err := decodeOffering(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	finished, err := h.offerings.Finish(ctx, p.OfferingID)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			h.logger.Warn("offering missing, skipping finish task", zap.String("offering_id", p.OfferingID))
			return nil
		}
		return err
	}
	h.logger.Info("offering finish task processed", zap.String("offering_id", p.OfferingID), zap.Bool("finished", finished))
	return nil
}

func (h *Handlers) observe(taskType string, err error) {
	if h.metrics != nil {
		h.metrics.ObserveJob(taskType, err)
	}
}
