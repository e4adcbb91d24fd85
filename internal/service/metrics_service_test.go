package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

func scrape(t *testing.T, m *MetricsService) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestSeatFreedWithoutAutoPromoteIsNotAPromotion(t *testing.T) {
	f := newFixture(t, time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC))
	f.course("course-1", nil, nil)
	f.offering(models.Offering{ID: "o1", MaxSeats: 1, ScheduleText: "lunes"})
	f.enrollment("e1", "s1", "o1", models.EnrollmentStatusConfirmed, nil)
	f.enrollment("e2", "s2", "o1", models.EnrollmentStatusWaitlisted, intPtr(1))

	metrics := NewMetricsService()
	f.capacity.metrics = metrics
	f.enrollments.metrics = metrics

	_, err := f.enrollments.Cancel(context.Background(), adminActor, "e1")
	require.NoError(t, err)

	body := scrape(t, metrics)
	assert.Contains(t, body, `offering_seats_freed_total{mode="manual"} 1`)
	assert.NotContains(t, body, "waitlist_promotions_total{")
}

func TestAutoPromotionCountsPromotionAndFreedSeat(t *testing.T) {
	f := newFixture(t, time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC), withAutoPromote())
	f.course("course-1", nil, nil)
	f.offering(models.Offering{ID: "o1", MaxSeats: 1, ScheduleText: "lunes"})
	f.enrollment("e1", "s1", "o1", models.EnrollmentStatusConfirmed, nil)
	f.enrollment("e2", "s2", "o1", models.EnrollmentStatusWaitlisted, intPtr(1))

	metrics := NewMetricsService()
	f.capacity.metrics = metrics

	_, err := f.enrollments.Cancel(context.Background(), adminActor, "e1")
	require.NoError(t, err)

	body := scrape(t, metrics)
	assert.Contains(t, body, `offering_seats_freed_total{mode="auto"} 1`)
	assert.Contains(t, body, `waitlist_promotions_total{reason="auto"} 1`)
}
