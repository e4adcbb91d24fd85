package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRetriesFailedJobs(t *testing.T) {
	var attempts int32
	done := make(chan struct{})
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, QueueConfig{RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-1", Type: "test"}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried to success")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestQueueScheduleReplacesPendingJob(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	fired := make(chan struct{}, 2)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		mu.Lock()
		seen = append(seen, string(job.Payload))
		mu.Unlock()
		fired <- struct{}{}
		return nil
	}, QueueConfig{})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Schedule(Job{ID: "offering:finish:o1", Payload: []byte("first")}, time.Now().Add(time.Hour)))
	assert.True(t, q.Pending("offering:finish:o1"))
	require.NoError(t, q.Schedule(Job{ID: "offering:finish:o1", Payload: []byte("second")}, time.Now().Add(-time.Minute)))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("rescheduled job did not fire")
	}
	assert.False(t, q.Pending("offering:finish:o1"))
	mu.Lock()
	assert.Equal(t, []string{"second"}, seen)
	mu.Unlock()
}

func TestQueueRejectsWorkBeforeStart(t *testing.T) {
	q := NewQueue("test", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{ID: "x"}))
	assert.Error(t, q.Schedule(Job{ID: "x"}, time.Now()))

	q.Start(context.Background())
	defer q.Stop()
	assert.Error(t, q.Schedule(Job{}, time.Now()))
}
