package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	ListActiveByStudentAndCourse(ctx context.Context, studentID, courseID string) ([]models.CourseEnrollment, error)
}

type offeringReader interface {
	FindByID(ctx context.Context, id string) (*models.Offering, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type personReader interface {
	FindByID(ctx context.Context, id string) (*models.Person, error)
}

// RegisterEnrollmentRequest describes a registration request.
type RegisterEnrollmentRequest struct {
	StudentID           string  `json:"student_id" validate:"required"`
	OfferingID          string  `json:"offering_id" validate:"required"`
	RequireConfirmation bool    `json:"require_confirmation"`
	Notes               *string `json:"notes" validate:"omitempty,max=500"`
}

// ForcePlaceRequest moves an enrollment into an offering regardless of capacity.
type ForcePlaceRequest struct {
	OfferingID string `json:"offering_id" validate:"required"`
}

// EnrollmentService orchestrates enrollment workflows and status transitions.
type EnrollmentService struct {
	repo      enrollmentRepository
	offerings offeringReader
	courses   courseReader
	people    personReader
	locker    offeringLocker
	capacity  *CapacityService
	refresher summaryRefresher
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	clock     clock
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, offerings offeringReader, courses courseReader, people personReader, locker offeringLocker, capacity *CapacityService, refresher summaryRefresher, cache *CacheService, metrics *MetricsService, loc *time.Location, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:      repo,
		offerings: offerings,
		courses:   courses,
		people:    people,
		locker:    locker,
		capacity:  capacity,
		refresher: refresher,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		clock:     newClock(loc),
	}
}

// List returns enrollments visible to the actor with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, actor models.Actor, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	switch {
	case actor.Role == models.ActorStudent:
		filter.StudentID = actor.UserID
	case actor.CanTakeAttendance():
		if actor.City != nil && actor.Role != models.ActorAdmin && actor.Role != models.ActorSystem {
			filter.City = actor.City
		}
	default:
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "actor cannot list enrollments")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid status filter")
	}

	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// Get returns a single enrollment visible to the actor.
func (s *EnrollmentService) Get(ctx context.Context, actor models.Actor, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "enrollment not found", "failed to load enrollment")
	}
	if actor.Role == models.ActorStudent {
		if actor.UserID != enrollment.StudentID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another student")
		}
		return enrollment, nil
	}
	if !actor.CanTakeAttendance() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "actor cannot read enrollments")
	}
	if _, err := s.scopedOffering(ctx, actor, enrollment.OfferingID); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// Register creates an enrollment after the entry guard and places it against capacity.
func (s *EnrollmentService) Register(ctx context.Context, actor models.Actor, req RegisterEnrollmentRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	if !actor.CanActFor(req.StudentID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "actor cannot register this student")
	}

	student, err := s.people.FindByID(ctx, req.StudentID)
	if err != nil {
		return nil, mapRepoError(err, "student not found", "failed to load student")
	}
	if !student.HasRole(models.PersonRoleStudent) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "person is not a student")
	}
	offering, err := s.scopedOffering(ctx, actor, req.OfferingID)
	if err != nil {
		return nil, err
	}
	if !offering.AcceptsEnrollment() {
		return nil, appErrors.Clone(appErrors.ErrClosedForEnrollment, fmt.Sprintf("offering is %s", offering.Status))
	}
	course, err := s.courses.FindByID(ctx, offering.CourseID)
	if err != nil {
		return nil, mapRepoError(err, "course not found", "failed to load course")
	}
	if err := s.checkCourseEnrollments(ctx, student.ID, *offering, ""); err != nil {
		return nil, err
	}
	if err := s.checkAge(*student, *course); err != nil {
		return nil, err
	}

	want := models.EnrollmentStatusConfirmed
	if req.RequireConfirmation {
		want = models.EnrollmentStatusPreRegistered
	}

	var enrollment *models.Enrollment
	var summary *models.AttendanceSummary
	err = retryOnConflict(ctx, "enrollment.register", s.logger, s.metrics, func(ctx context.Context) error {
		enrollment = &models.Enrollment{StudentID: student.ID, OfferingID: offering.ID, Notes: req.Notes}
		summary = nil
		return s.locker.WithinOffering(ctx, offering.ID, func(ctx context.Context, tx repository.OfferingTx) error {
			roster, err := tx.Roster(ctx, offering.ID)
			if err != nil {
				return err
			}
			for _, e := range roster {
				if e.StudentID == student.ID && e.Status != models.EnrollmentStatusCancelled {
					return appErrors.Clone(appErrors.ErrDuplicateEnrollment, "student already enrolled in offering")
				}
			}
			if err := s.capacity.Place(ctx, tx, enrollment, want); err != nil {
				return err
			}
			if err := tx.CreateEnrollment(ctx, enrollment); err != nil {
				return err
			}
			if enrollment.Status == models.EnrollmentStatusConfirmed {
				if summary, err = s.refresher.RefreshWithin(ctx, tx, *enrollment); err != nil {
					return err
				}
				s.cache.PutSummaries(ctx, *summary)
			}
			return nil
		})
	})
	if err != nil {
		if summary != nil {
			s.cache.EvictSummaries(ctx, *summary)
		}
		return nil, mapRepoError(err, "offering not found", "failed to register enrollment")
	}

	fields := []zap.Field{
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student_id", enrollment.StudentID),
		zap.String("offering_id", enrollment.OfferingID),
		zap.String("status", string(enrollment.Status)),
	}
	if enrollment.WaitlistRank != nil {
		fields = append(fields, zap.Int("waitlist_rank", *enrollment.WaitlistRank))
	}
	s.logger.Info("enrollment registered", fields...)
	return enrollment, nil
}

// Cancel moves an enrollment to CANCELLED and releases its seat or waitlist slot.
func (s *EnrollmentService) Cancel(ctx context.Context, actor models.Actor, id string) (*models.Enrollment, error) {
	return s.transition(ctx, actor, id, "enrollment.cancel", func(ctx context.Context, tx repository.OfferingTx, e *models.Enrollment) ([]models.AttendanceSummary, error) {
		if !actor.CanActFor(e.StudentID) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "actor cannot cancel this enrollment")
		}
		if !e.Status.CanTransitionTo(models.EnrollmentStatusCancelled) {
			return nil, appErrors.Clone(appErrors.ErrEnrollmentNotCancellable, fmt.Sprintf("cannot cancel a %s enrollment", e.Status))
		}
		return s.release(ctx, tx, e, models.EnrollmentStatusCancelled)
	})
}

// Reject moves a PRE_REGISTERED enrollment to REJECTED.
func (s *EnrollmentService) Reject(ctx context.Context, actor models.Actor, id string) (*models.Enrollment, error) {
	if !actor.CanAdminister() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "actor cannot reject enrollments")
	}
	return s.transition(ctx, actor, id, "enrollment.reject", func(ctx context.Context, tx repository.OfferingTx, e *models.Enrollment) ([]models.AttendanceSummary, error) {
		if !e.Status.CanTransitionTo(models.EnrollmentStatusRejected) {
			return nil, appErrors.Clone(appErrors.ErrIllegalTransition, fmt.Sprintf("cannot reject a %s enrollment", e.Status))
		}
		return s.release(ctx, tx, e, models.EnrollmentStatusRejected)
	})
}

// AdminConfirm confirms a WAITLISTED or PRE_REGISTERED enrollment when capacity allows.
func (s *EnrollmentService) AdminConfirm(ctx context.Context, actor models.Actor, id string) (*models.Enrollment, error) {
	if !actor.CanAdminister() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "actor cannot confirm enrollments")
	}
	return s.transition(ctx, actor, id, "enrollment.confirm", func(ctx context.Context, tx repository.OfferingTx, e *models.Enrollment) ([]models.AttendanceSummary, error) {
		offering, _ := tx.Offering(e.OfferingID)
		if !offering.AcceptsEnrollment() {
			return nil, appErrors.Clone(appErrors.ErrClosedForEnrollment, fmt.Sprintf("offering is %s", offering.Status))
		}
		if err := s.capacity.Promote(ctx, tx, e); err != nil {
			return nil, err
		}
		summary, err := s.refresher.RefreshWithin(ctx, tx, *e)
		if err != nil {
			return nil, err
		}
		return []models.AttendanceSummary{*summary}, nil
	})
}

// AdminForcePlace confirms the enrollment in the target offering bypassing capacity.
// Closed offerings, duplicates and overlapping same-course enrollments are still rejected.
func (s *EnrollmentService) AdminForcePlace(ctx context.Context, actor models.Actor, id string, req ForcePlaceRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid placement payload")
	}
	if !actor.CanAdminister() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "actor cannot force placements")
	}
	target, err := s.scopedOffering(ctx, actor, req.OfferingID)
	if err != nil {
		return nil, err
	}

	var result *models.Enrollment
	var refreshed []models.AttendanceSummary
	err = retryOnConflict(ctx, "enrollment.force_place", s.logger, s.metrics, func(ctx context.Context) error {
		refreshed = nil
		enrollment, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if _, err := s.scopedOffering(ctx, actor, enrollment.OfferingID); err != nil {
			return err
		}
		if enrollment.Status.Terminal() {
			return appErrors.Clone(appErrors.ErrIllegalTransition, fmt.Sprintf("cannot place a %s enrollment", enrollment.Status))
		}
		moving := enrollment.OfferingID != target.ID
		if moving {
			if err := s.checkCourseEnrollments(ctx, enrollment.StudentID, *target, enrollment.ID); err != nil {
				return err
			}
		}

		sourceID := enrollment.OfferingID
		return s.locker.WithinOfferings(ctx, []string{sourceID, target.ID}, func(ctx context.Context, tx repository.OfferingTx) error {
			current, err := tx.FindEnrollment(ctx, id)
			if err != nil {
				return err
			}
			if current.OfferingID != sourceID {
				return repository.ErrConcurrentUpdate
			}
			if current.Status.Terminal() {
				return appErrors.Clone(appErrors.ErrIllegalTransition, fmt.Sprintf("cannot place a %s enrollment", current.Status))
			}
			locked, _ := tx.Offering(target.ID)
			if !locked.AcceptsEnrollment() {
				return appErrors.Clone(appErrors.ErrClosedForEnrollment, fmt.Sprintf("offering is %s", locked.Status))
			}
			if moving {
				roster, err := tx.Roster(ctx, target.ID)
				if err != nil {
					return err
				}
				for _, e := range roster {
					if e.StudentID == current.StudentID && e.Status != models.EnrollmentStatusCancelled {
						return appErrors.Clone(appErrors.ErrDuplicateEnrollment, "student already enrolled in target offering")
					}
				}
			} else if current.Status == models.EnrollmentStatusConfirmed {
				result = current
				return nil
			}

			from := current.Status
			heldSeat := from.CountsTowardCapacity()
			wasWaitlisted := from == models.EnrollmentStatusWaitlisted
			current.OfferingID = target.ID
			current.Status = models.EnrollmentStatusConfirmed
			current.WaitlistRank = nil
			if err := tx.SaveEnrollment(ctx, current); err != nil {
				return err
			}
			s.metrics.ObserveTransition(from, current.Status)

			if wasWaitlisted {
				if err := s.capacity.compact(ctx, tx, sourceID); err != nil {
					return err
				}
			}
			if moving && heldSeat {
				promoted, err := s.capacity.SeatFreed(ctx, tx, sourceID)
				if err != nil {
					return err
				}
				refreshed = append(refreshed, promoted...)
			}
			summary, err := s.refresher.RefreshWithin(ctx, tx, *current)
			if err != nil {
				return err
			}
			refreshed = append(refreshed, *summary)
			s.cache.PutSummaries(ctx, refreshed...)
			result = current
			return nil
		})
	})
	if err != nil {
		s.cache.EvictSummaries(ctx, refreshed...)
		return nil, mapRepoError(err, "enrollment not found", "failed to place enrollment")
	}
	s.logger.Info("enrollment force placed",
		zap.String("enrollment_id", result.ID),
		zap.String("offering_id", result.OfferingID),
		zap.String("actor_id", actor.UserID),
	)
	return result, nil
}

type transitionFunc func(ctx context.Context, tx repository.OfferingTx, e *models.Enrollment) ([]models.AttendanceSummary, error)

// transition re-reads the enrollment under its offering lock and applies fn.
func (s *EnrollmentService) transition(ctx context.Context, actor models.Actor, id, op string, fn transitionFunc) (*models.Enrollment, error) {
	var result *models.Enrollment
	var refreshed []models.AttendanceSummary
	err := retryOnConflict(ctx, op, s.logger, s.metrics, func(ctx context.Context) error {
		enrollment, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		return s.locker.WithinOffering(ctx, enrollment.OfferingID, func(ctx context.Context, tx repository.OfferingTx) error {
			current, err := tx.FindEnrollment(ctx, id)
			if err != nil {
				return err
			}
			if current.OfferingID != enrollment.OfferingID {
				return repository.ErrConcurrentUpdate
			}
			offering, _ := tx.Offering(current.OfferingID)
			if actor.Role != models.ActorStudent && !actor.InScope(offering) {
				return appErrors.Clone(appErrors.ErrForbidden, "offering outside actor scope")
			}
			from := current.Status
			refreshed, err = fn(ctx, tx, current)
			if err != nil {
				return err
			}
			s.logger.Info("enrollment transitioned",
				zap.String("enrollment_id", current.ID),
				zap.String("from", string(from)),
				zap.String("to", string(current.Status)),
				zap.String("actor_id", actor.UserID),
			)
			s.cache.PutSummaries(ctx, refreshed...)
			result = current
			return nil
		})
	})
	if err != nil {
		s.cache.EvictSummaries(ctx, refreshed...)
		return nil, mapRepoError(err, "enrollment not found", "failed to update enrollment")
	}
	return result, nil
}

// release moves the enrollment into a terminal status and frees what it held.
func (s *EnrollmentService) release(ctx context.Context, tx repository.OfferingTx, e *models.Enrollment, to models.EnrollmentStatus) ([]models.AttendanceSummary, error) {
	from := e.Status
	e.Status = to
	e.WaitlistRank = nil
	if err := tx.SaveEnrollment(ctx, e); err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(from, to)

	switch {
	case from == models.EnrollmentStatusWaitlisted:
		return nil, s.capacity.compact(ctx, tx, e.OfferingID)
	case from.CountsTowardCapacity():
		return s.capacity.SeatFreed(ctx, tx, e.OfferingID)
	}
	return nil, nil
}

// checkCourseEnrollments rejects a second active enrollment in the same offering and
// active enrollments in overlapping offerings of the same course.
func (s *EnrollmentService) checkCourseEnrollments(ctx context.Context, studentID string, offering models.Offering, excludeID string) error {
	existing, err := s.repo.ListActiveByStudentAndCourse(ctx, studentID, offering.CourseID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
	}
	for _, ce := range existing {
		if ce.Enrollment.ID == excludeID {
			continue
		}
		if ce.Offering.ID == offering.ID {
			return appErrors.Clone(appErrors.ErrDuplicateEnrollment, "student already enrolled in offering")
		}
		if ce.Offering.Overlaps(offering) {
			return appErrors.Clone(appErrors.ErrOverlappingCourseEnrollment, fmt.Sprintf("student already enrolled in overlapping offering %s", ce.Offering.ID))
		}
	}
	return nil
}

func (s *EnrollmentService) checkAge(student models.Person, course models.Course) error {
	if !course.DeclaresAgeBound() {
		return nil
	}
	age, ok := student.Age(s.clock.today())
	if !ok {
		return appErrors.Clone(appErrors.ErrAgeOutOfRange, "student birth date required for this course")
	}
	if !course.AgeAllowed(age) {
		return appErrors.Clone(appErrors.ErrAgeOutOfRange, fmt.Sprintf("student age %d outside course range", age))
	}
	return nil
}

func (s *EnrollmentService) scopedOffering(ctx context.Context, actor models.Actor, id string) (*models.Offering, error) {
	offering, err := s.offerings.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "offering not found", "failed to load offering")
	}
	if actor.Role != models.ActorStudent && !actor.InScope(*offering) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "offering outside actor scope")
	}
	return offering, nil
}
