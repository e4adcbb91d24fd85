package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

type fakeCacheRepo struct {
	mu      sync.Mutex
	entries map[string]models.AttendanceSummary
	delay   func(models.AttendanceSummary) time.Duration
}

func newFakeCacheRepo() *fakeCacheRepo {
	return &fakeCacheRepo{entries: make(map[string]models.AttendanceSummary)}
}

func (f *fakeCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	summary, ok := f.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*dest.(*models.AttendanceSummary) = summary
	return nil
}

func (f *fakeCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	summary := value.(models.AttendanceSummary)
	if f.delay != nil {
		time.Sleep(f.delay(summary))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = summary
	return nil
}

func (f *fakeCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range f.entries {
		if key == pattern || (prefix != pattern && strings.HasPrefix(key, prefix)) {
			delete(f.entries, key)
		}
	}
	return nil
}

func (f *fakeCacheRepo) cached(enrollmentID string) (models.AttendanceSummary, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	summary, ok := f.entries[summaryKey(enrollmentID)]
	return summary, ok
}

// commitFailingLocker runs the locked section and then reports a failed commit.
type commitFailingLocker struct {
	offeringLocker
}

func (l commitFailingLocker) WithinOffering(ctx context.Context, offeringID string, fn func(ctx context.Context, tx repository.OfferingTx) error) error {
	if err := l.offeringLocker.WithinOffering(ctx, offeringID, fn); err != nil {
		return err
	}
	return errors.New("commit failed")
}

func TestCacheServicePutAndEvict(t *testing.T) {
	repo := newFakeCacheRepo()
	cache := NewCacheService(repo, nil, time.Minute, nil, true)

	cache.PutSummaries(context.Background(),
		models.AttendanceSummary{EnrollmentID: "e1", AttendedCount: 2},
		models.AttendanceSummary{EnrollmentID: "e2", AttendedCount: 3},
	)
	got := cache.GetSummary(context.Background(), "e1")
	require.NotNil(t, got)
	assert.Equal(t, 2, got.AttendedCount)

	cache.EvictSummaries(context.Background(), models.AttendanceSummary{EnrollmentID: "e1"})
	assert.Nil(t, cache.GetSummary(context.Background(), "e1"))
	assert.NotNil(t, cache.GetSummary(context.Background(), "e2"))

	require.NoError(t, cache.FlushSummaries(context.Background()))
	assert.Nil(t, cache.GetSummary(context.Background(), "e2"))

	disabled := NewCacheService(repo, nil, time.Minute, nil, false)
	disabled.PutSummaries(context.Background(), models.AttendanceSummary{EnrollmentID: "e3"})
	_, ok := repo.cached("e3")
	assert.False(t, ok)
}

func TestConcurrentAttendanceLeavesLatestSummaryCached(t *testing.T) {
	mondays := []string{"2025-01-06", "2025-01-13", "2025-01-20", "2025-01-27", "2025-02-03", "2025-02-10", "2025-02-17", "2025-02-24"}
	f := newFixture(t, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	f.course("course-1", nil, nil)
	f.offering(models.Offering{ID: "o1", MaxSeats: 5, ScheduleText: "lunes", StartDate: dayPtr(t, "2025-01-06")})
	f.enrollment("e1", "s1", "o1", models.EnrollmentStatusConfirmed, nil)

	repo := newFakeCacheRepo()
	// Earlier summaries take longer to reach the cache.
	repo.delay = func(s models.AttendanceSummary) time.Duration {
		return time.Duration(len(mondays)-s.AttendedCount) * time.Millisecond
	}
	f.attendance.cache = NewCacheService(repo, nil, time.Minute, nil, true)

	var wg sync.WaitGroup
	for _, day := range mondays {
		wg.Add(1)
		go func(day string) {
			defer wg.Done()
			_, err := f.attendance.UpsertAttendance(context.Background(), teacherActor, UpsertAttendanceRequest{
				EnrollmentID: "e1", Date: day, Present: boolPtr(true),
			})
			assert.NoError(t, err)
		}(day)
	}
	wg.Wait()

	cached, ok := repo.cached("e1")
	require.True(t, ok)
	assert.Equal(t, len(mondays), cached.AttendedCount)

	fresh, err := f.attendance.RefreshSummary(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, fresh.AttendedCount, cached.AttendedCount)
	assert.Equal(t, fresh.Percentage, cached.Percentage)
}

func TestFailedCommitEvictsCachedSummary(t *testing.T) {
	f := newFixture(t, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	f.course("course-1", nil, nil)
	f.offering(models.Offering{ID: "o1", MaxSeats: 5, ScheduleText: "lunes", StartDate: dayPtr(t, "2025-01-06")})
	f.enrollment("e1", "s1", "o1", models.EnrollmentStatusConfirmed, nil)

	repo := newFakeCacheRepo()
	f.attendance.cache = NewCacheService(repo, nil, time.Minute, nil, true)
	f.attendance.locker = commitFailingLocker{f.attendance.locker}

	_, err := f.attendance.UpsertAttendance(context.Background(), teacherActor, UpsertAttendanceRequest{
		EnrollmentID: "e1", Date: "2025-01-06", Present: boolPtr(true),
	})
	require.Error(t, err)
	_, ok := repo.cached("e1")
	assert.False(t, ok)
}
