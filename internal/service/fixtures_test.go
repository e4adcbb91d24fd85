package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/calendar"
	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/internal/repository/memory"
)

var (
	adminActor     = models.Actor{UserID: "admin-1", Role: models.ActorAdmin}
	frontDeskActor = models.Actor{UserID: "desk-1", Role: models.ActorFrontDesk, City: strPtr("Rosario")}
	teacherActor   = models.Actor{UserID: "teacher-1", Role: models.ActorTeacher}
)

type fixture struct {
	store       *memory.Store
	attendance  *AttendanceService
	capacity    *CapacityService
	enrollments *EnrollmentService
	offerings   *OfferingService
	calendar    *CalendarService
	now         time.Time
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	autoPromote bool
	scheduler   FinishScheduler
}

func withAutoPromote() fixtureOption {
	return func(c *fixtureConfig) { c.autoPromote = true }
}

func withScheduler(s FinishScheduler) fixtureOption {
	return func(c *fixtureConfig) { c.scheduler = s }
}

// newFixture wires every service on a fresh memory store with "today" pinned to now.
func newFixture(t *testing.T, now time.Time, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := memory.NewStore()
	locker := memory.NewOfferingLocker(store)
	enrollmentRepo := memory.NewEnrollmentRepository(store)
	offeringRepo := memory.NewOfferingRepository(store)
	courseRepo := memory.NewCourseRepository(store)
	personRepo := memory.NewPersonRepository(store)
	attendanceRepo := memory.NewAttendanceRepository(store)
	logger := zap.NewNop()
	fixed := func() time.Time { return now }

	attendance := NewAttendanceService(locker, enrollmentRepo, attendanceRepo, nil, nil, AttendanceConfig{}, nil, logger)
	attendance.clock.now = fixed
	capacity := NewCapacityService(locker, attendance, nil, nil, cfg.autoPromote, logger)
	enrollments := NewEnrollmentService(enrollmentRepo, offeringRepo, courseRepo, personRepo, locker, capacity, attendance, nil, nil, time.UTC, nil, logger)
	enrollments.clock.now = fixed
	offerings := NewOfferingService(offeringRepo, courseRepo, capacity, attendance, cfg.scheduler, nil, time.UTC, nil, logger)
	offerings.clock.now = fixed
	cal := NewCalendarService(offeringRepo, attendanceRepo, time.UTC)
	cal.clock.now = fixed

	return &fixture{
		store:       store,
		attendance:  attendance,
		capacity:    capacity,
		enrollments: enrollments,
		offerings:   offerings,
		calendar:    cal,
		now:         now,
	}
}

func (f *fixture) course(id string, minAge, maxAge *int) {
	f.store.PutCourse(models.Course{ID: id, Name: "Course " + id, MinAge: minAge, MaxAge: maxAge})
}

func (f *fixture) student(id string, birth *time.Time) {
	f.store.PutPerson(models.Person{ID: id, FullName: "Student " + id, BirthDate: birth, Roles: []models.PersonRole{models.PersonRoleStudent}})
}

func (f *fixture) offering(o models.Offering) models.Offering {
	if o.Status == "" {
		o.Status = models.OfferingStatusOpen
	}
	if o.CourseID == "" {
		o.CourseID = "course-1"
	}
	f.store.PutOffering(o)
	return o
}

func (f *fixture) enrollment(id, studentID, offeringID string, status models.EnrollmentStatus, rank *int) {
	f.store.PutEnrollment(models.Enrollment{
		ID:           id,
		StudentID:    studentID,
		OfferingID:   offeringID,
		Status:       status,
		WaitlistRank: rank,
		CreatedAt:    f.now,
		UpdatedAt:    f.now,
	})
}

func mustDay(t *testing.T, raw string) time.Time {
	t.Helper()
	d, err := calendar.ParseDay(raw)
	require.NoError(t, err)
	return d
}

func dayPtr(t *testing.T, raw string) *time.Time {
	t.Helper()
	d := mustDay(t, raw)
	return &d
}

func strPtr(v string) *string {
	return &v
}

func boolPtr(v bool) *bool {
	return &v
}
