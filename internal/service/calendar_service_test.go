package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

func TestCalendarServiceScheduledDates(t *testing.T) {
	f := newFixture(t, time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC))
	f.course("course-1", nil, nil)
	f.offering(models.Offering{
		ID: "o1", MaxSeats: 5, ScheduleText: "Lunes y Miércoles 18:00",
		StartDate: dayPtr(t, "2025-01-01"), EndDate: dayPtr(t, "2025-01-08"),
		City: strPtr("Rosario"),
	})

	view, err := f.calendar.ScheduledDates(context.Background(), adminActor, "o1", nil)
	require.NoError(t, err)
	assert.True(t, view.Deterministic)
	assert.Equal(t, []string{"Monday", "Wednesday"}, view.Weekdays)
	assert.Equal(t, []time.Time{mustDay(t, "2025-01-01"), mustDay(t, "2025-01-06"), mustDay(t, "2025-01-08")}, view.Dates)

	upTo := mustDay(t, "2025-01-05")
	view, err = f.calendar.ScheduledDates(context.Background(), frontDeskActor, "o1", &upTo)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{mustDay(t, "2025-01-01")}, view.Dates)
	assert.Equal(t, upTo, view.UpTo)

	outsider := models.Actor{UserID: "desk-9", Role: models.ActorFrontDesk, City: strPtr("Mendoza")}
	_, err = f.calendar.ScheduledDates(context.Background(), outsider, "o1", nil)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.calendar.ScheduledDates(context.Background(), adminActor, "missing", nil)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestCalendarServiceWithoutStartDate(t *testing.T) {
	f := newFixture(t, time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC))
	f.course("course-1", nil, nil)
	f.offering(models.Offering{ID: "o1", MaxSeats: 5, ScheduleText: "miércoles"})
	f.student("s1", nil)
	f.enrollment("e1", "s1", "o1", models.EnrollmentStatusConfirmed, nil)

	view, err := f.calendar.ScheduledDates(context.Background(), adminActor, "o1", nil)
	require.NoError(t, err)
	assert.False(t, view.Deterministic)
	assert.Nil(t, view.From)
	assert.Empty(t, view.Dates)

	upsert(t, f, "e1", "2025-01-08", true)
	view, err = f.calendar.ScheduledDates(context.Background(), adminActor, "o1", nil)
	require.NoError(t, err)
	require.NotNil(t, view.From)
	assert.Equal(t, []time.Time{mustDay(t, "2025-01-08"), mustDay(t, "2025-01-15")}, view.Dates)
}
