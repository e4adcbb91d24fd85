package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
	queue "github.com/noah-isme/course-enrollment-api/pkg/jobs"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "x"}, nil
}

type fakeDeleter struct {
	deleted []string
	err     error
}

func (f *fakeDeleter) DeleteTask(queueName, id string) error {
	f.deleted = append(f.deleted, queueName+"/"+id)
	return f.err
}

func TestAsynqSchedulerReplacesPendingTask(t *testing.T) {
	client := &fakeEnqueuer{}
	inspector := &fakeDeleter{err: asynq.ErrTaskNotFound}
	scheduler := NewAsynqScheduler(client, inspector, "", nil)
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, scheduler.ScheduleFinish(context.Background(), "off-1", at))
	assert.Equal(t, []string{"default/offering:finish:off-1"}, inspector.deleted)
	require.Len(t, client.tasks, 1)
	assert.Equal(t, TypeOfferingFinish, client.tasks[0].Type())
	assert.JSONEq(t, `{"offering_id":"off-1"}`, string(client.tasks[0].Payload()))

	var kinds []asynq.OptionType
	for _, opt := range client.opts[0] {
		kinds = append(kinds, opt.Type())
	}
	assert.ElementsMatch(t, []asynq.OptionType{asynq.ProcessAtOpt, asynq.TaskIDOpt, asynq.QueueOpt}, kinds)
}

func TestAsynqSchedulerToleratesConflicts(t *testing.T) {
	scheduler := NewAsynqScheduler(&fakeEnqueuer{err: asynq.ErrTaskIDConflict}, nil, "jobs", nil)
	assert.NoError(t, scheduler.ScheduleFinish(context.Background(), "off-1", time.Now()))

	scheduler = NewAsynqScheduler(&fakeEnqueuer{err: errors.New("redis down")}, &fakeDeleter{}, "jobs", nil)
	assert.Error(t, scheduler.ScheduleFinish(context.Background(), "off-1", time.Now()))
}

type stubOfferings struct {
	finished  []string
	finishErr error
	swept     []time.Time
}

func (s *stubOfferings) Finish(ctx context.Context, id string) (bool, error) {
	if s.finishErr != nil {
		return false, s.finishErr
	}
	s.finished = append(s.finished, id)
	return true, nil
}

func (s *stubOfferings) FinishOverdue(ctx context.Context, today time.Time) ([]string, error) {
	s.swept = append(s.swept, today)
	return []string{"off-1"}, nil
}

type stubBackfill struct{ calls int }

func (s *stubBackfill) BackfillSummaries(ctx context.Context) (int, error) {
	s.calls++
	return 3, nil
}

type recordingObserver struct{ types []string }

func (r *recordingObserver) ObserveJob(taskType string, err error) {
	r.types = append(r.types, taskType)
}

func TestHandlers(t *testing.T) {
	offerings := &stubOfferings{}
	backfill := &stubBackfill{}
	observer := &recordingObserver{}
	h := NewHandlers(offerings, backfill, observer, nil)
	now := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	task, err := NewOfferingFinishTask("off-1")
	require.NoError(t, err)
	require.NoError(t, h.HandleOfferingFinish(context.Background(), task))
	assert.Equal(t, []string{"off-1"}, offerings.finished)

	require.NoError(t, h.HandleFinishOverdue(context.Background(), NewFinishOverdueTask()))
	assert.Equal(t, []time.Time{now}, offerings.swept)

	require.NoError(t, h.HandleSummaryBackfill(context.Background(), NewSummaryBackfillTask()))
	assert.Equal(t, 1, backfill.calls)
	assert.Equal(t, []string{TypeOfferingFinish, TypeFinishOverdue, TypeSummaryBackfill}, observer.types)

	err = h.HandleOfferingFinish(context.Background(), asynq.NewTask(TypeOfferingFinish, []byte(`{}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandlersSkipMissingOffering(t *testing.T) {
	h := NewHandlers(&stubOfferings{finishErr: appErrors.Clone(appErrors.ErrNotFound, "offering not found")}, &stubBackfill{}, nil, nil)
	task, err := NewOfferingFinishTask("gone")
	require.NoError(t, err)
	assert.NoError(t, h.HandleOfferingFinish(context.Background(), task))

	h = NewHandlers(&stubOfferings{finishErr: appErrors.ErrInternal}, &stubBackfill{}, nil, nil)
	assert.Error(t, h.HandleOfferingFinish(context.Background(), task))
}

func TestLocalSchedulerDispatchesThroughHandlers(t *testing.T) {
	offerings := &stubOfferings{}
	h := NewHandlers(offerings, &stubBackfill{}, nil, nil)
	done := make(chan struct{})
	q := queue.NewQueue("local", func(ctx context.Context, job queue.Job) error {
		defer close(done)
		return h.Process(ctx, job)
	}, queue.QueueConfig{})
	q.Start(context.Background())
	defer q.Stop()

	scheduler := NewLocalScheduler(q)
	require.NoError(t, scheduler.ScheduleFinish(context.Background(), "off-9", time.Now().Add(-time.Second)))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("finish job did not run")
	}
	assert.Equal(t, []string{"off-9"}, offerings.finished)
	assert.Error(t, h.Process(context.Background(), queue.Job{Type: "unknown"}))
}
