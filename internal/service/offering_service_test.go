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

type recordingScheduler struct {
	scheduled map[string]time.Time
}

func (r *recordingScheduler) ScheduleFinish(ctx context.Context, offeringID string, at time.Time) error {
	if r.scheduled == nil {
		r.scheduled = make(map[string]time.Time)
	}
	r.scheduled[offeringID] = at
	return nil
}

func TestOfferingServiceCreate(t *testing.T) {
	scheduler := &recordingScheduler{}
	f := newFixture(t, time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC), withScheduler(scheduler))
	f.course("course-1", nil, nil)

	offering, err := f.offerings.Create(context.Background(), adminActor, OfferingRequest{
		CourseID:     "course-1",
		Name:         "Evening group",
		MaxSeats:     12,
		StartDate:    strPtr("2025-01-06"),
		EndDate:      strPtr("2025-02-28"),
		ScheduleText: "Martes y Jueves 19hs",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, offering.ID)
	assert.Equal(t, models.OfferingStatusOpen, offering.Status)
	assert.Equal(t, mustDay(t, "2025-03-01"), scheduler.scheduled[offering.ID])

	_, err = f.offerings.Create(context.Background(), adminActor, OfferingRequest{
		CourseID: "course-1", Name: "Broken", MaxSeats: 5,
		StartDate: strPtr("2025-01-06"), ScheduleText: "a coordinar",
	})
	assert.ErrorIs(t, err, appErrors.ErrUnschedulableOffering)

	_, err = f.offerings.Create(context.Background(), adminActor, OfferingRequest{
		CourseID: "course-1", Name: "Inverted", MaxSeats: 5,
		StartDate: strPtr("2025-02-06"), EndDate: strPtr("2025-01-06"), ScheduleText: "lunes",
	})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	undated, err := f.offerings.Create(context.Background(), adminActor, OfferingRequest{
		CourseID: "course-1", Name: "Open dates", MaxSeats: 5, ScheduleText: "a coordinar",
	})
	require.NoError(t, err)
	_, scheduled := scheduler.scheduled[undated.ID]
	assert.False(t, scheduled)

	_, err = f.offerings.Create(context.Background(), teacherActor, OfferingRequest{CourseID: "course-1", Name: "x"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.offerings.Create(context.Background(), adminActor, OfferingRequest{CourseID: "nope", Name: "x"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestOfferingServiceUpdateShrinksCapacity(t *testing.T) {
	f := newFixture(t, time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC))
	f.course("course-1", nil, nil)
	f.offering(models.Offering{ID: "o1", Name: "Group", MaxSeats: 5, ScheduleText: "lunes"})
	for _, id := range []string{"e1", "e2", "e3", "e4", "e5"} {
		f.enrollment(id, "s-"+id, "o1", models.EnrollmentStatusPreRegistered, nil)
	}

	updated, err := f.offerings.Update(context.Background(), adminActor, "o1", OfferingRequest{
		CourseID: "course-1", Name: "Group", MaxSeats: 2, ScheduleText: "lunes",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.MaxSeats)
	assert.Equal(t, models.OfferingStatusOpen, updated.Status)

	roster := loadRoster(t, f, "o1")
	assert.Equal(t, 2, seatsTaken(roster))
	require.NoError(t, CheckRoster(*updated, roster))
	queue := waitlist(roster)
	require.Len(t, queue, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{*queue[0].WaitlistRank, *queue[1].WaitlistRank, *queue[2].WaitlistRank})

	_, err = f.offerings.Update(context.Background(), adminActor, "o1", OfferingRequest{
		CourseID: "course-2", Name: "Group", MaxSeats: 2, ScheduleText: "lunes",
	})
	assert.Error(t, err)
}

func TestOfferingServiceUpdateSeatsOnFinishedOfferingKeepsWaitlist(t *testing.T) {
	f := newFixture(t, time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC))
	f.course("course-1", nil, nil)
	f.offering(models.Offering{ID: "o1", Name: "Group", MaxSeats: 1, Status: models.OfferingStatusFinished, ScheduleText: "lunes"})
	f.enrollment("e1", "s1", "o1", models.EnrollmentStatusConfirmed, nil)
	f.enrollment("e2", "s2", "o1", models.EnrollmentStatusWaitlisted, intPtr(1))

	updated, err := f.offerings.Update(context.Background(), adminActor, "o1", OfferingRequest{
		CourseID: "course-1", Name: "Group", MaxSeats: 3, ScheduleText: "lunes",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OfferingStatusFinished, updated.Status)

	roster := loadRoster(t, f, "o1")
	assert.Equal(t, 1, seatsTaken(roster))
	queue := waitlist(roster)
	require.Len(t, queue, 1)
	assert.Equal(t, "e2", queue[0].ID)
}

func TestOfferingServiceUpdateScheduleRecomputesSummaries(t *testing.T) {
	f := newFixture(t, time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC))
	f.course("course-1", nil, nil)
	f.offering(models.Offering{ID: "o1", Name: "Group", MaxSeats: 5, ScheduleText: "lunes", StartDate: dayPtr(t, "2025-01-06")})
	f.enrollment("e1", "s1", "o1", models.EnrollmentStatusConfirmed, nil)

	before, err := f.attendance.GetSummary(context.Background(), adminActor, "e1")
	require.NoError(t, err)
	assert.Equal(t, 3, before.TotalScheduled)

	_, err = f.offerings.Update(context.Background(), adminActor, "o1", OfferingRequest{
		CourseID: "course-1", Name: "Group", MaxSeats: 5, ScheduleText: "lunes y miércoles", StartDate: strPtr("2025-01-06"),
	})
	require.NoError(t, err)

	after, err := f.attendance.RefreshSummary(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 5, after.TotalScheduled)
}

func TestOfferingServiceFinishOverdue(t *testing.T) {
	f := newFixture(t, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	f.course("course-1", nil, nil)
	f.offering(models.Offering{ID: "past", MaxSeats: 5, ScheduleText: "lunes", StartDate: dayPtr(t, "2025-01-06"), EndDate: dayPtr(t, "2025-01-27")})
	f.offering(models.Offering{ID: "today", MaxSeats: 5, ScheduleText: "sabado", StartDate: dayPtr(t, "2025-02-01"), EndDate: dayPtr(t, "2025-03-01")})
	f.offering(models.Offering{ID: "done", MaxSeats: 5, Status: models.OfferingStatusFinished, ScheduleText: "lunes", StartDate: dayPtr(t, "2025-01-06"), EndDate: dayPtr(t, "2025-01-13")})
	f.enrollment("e1", "s1", "past", models.EnrollmentStatusConfirmed, nil)

	finished, err := f.offerings.FinishOverdue(context.Background(), f.now)
	require.NoError(t, err)
	assert.Equal(t, []string{"past"}, finished)

	past, err := f.offerings.Get(context.Background(), "past")
	require.NoError(t, err)
	assert.Equal(t, models.OfferingStatusFinished, past.Status)

	summary, err := f.attendance.GetSummary(context.Background(), adminActor, "e1")
	require.NoError(t, err)
	require.NotNil(t, summary.FinalTotalScheduled)
	assert.Equal(t, 4, *summary.FinalTotalScheduled)
	assert.False(t, summary.CertificateEligible)

	again, err := f.offerings.FinishOverdue(context.Background(), f.now)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestValidateSchedule(t *testing.T) {
	start := mustDay(t, "2025-01-06")
	end := mustDay(t, "2025-01-31")
	assert.NoError(t, ValidateSchedule(models.Offering{}))
	assert.NoError(t, ValidateSchedule(models.Offering{StartDate: &start, EndDate: &end, ScheduleText: "jueves"}))
	assert.ErrorIs(t, ValidateSchedule(models.Offering{EndDate: &end, ScheduleText: "todos los dias"}), appErrors.ErrUnschedulableOffering)
	assert.ErrorIs(t, ValidateSchedule(models.Offering{StartDate: &end, EndDate: &start, ScheduleText: "jueves"}), appErrors.ErrValidation)
}

func TestOfferingServiceRecompute(t *testing.T) {
	f := newFixture(t, time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC))
	f.course("course-1", nil, nil)
	f.offering(models.Offering{ID: "o1", MaxSeats: 5, ScheduleText: "lunes", StartDate: dayPtr(t, "2025-01-06"), City: strPtr("Mendoza")})
	f.enrollment("e1", "s1", "o1", models.EnrollmentStatusConfirmed, nil)
	f.enrollment("e2", "s2", "o1", models.EnrollmentStatusConfirmed, nil)

	count, err := f.offerings.Recompute(context.Background(), adminActor, "o1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = f.offerings.Recompute(context.Background(), frontDeskActor, "o1")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.offerings.Recompute(context.Background(), teacherActor, "o1")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.offerings.Recompute(context.Background(), adminActor, "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
