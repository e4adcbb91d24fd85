package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/calendar"
	"github.com/noah-isme/course-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

type offeringRepository interface {
	FindByID(ctx context.Context, id string) (*models.Offering, error)
	Create(ctx context.Context, offering *models.Offering) error
	Update(ctx context.Context, offering *models.Offering) error
	ListOverdue(ctx context.Context, today time.Time) ([]models.Offering, error)
	MarkFinished(ctx context.Context, id string) (bool, error)
}

type summaryRecomputer interface {
	RecomputeOfferingSummaries(ctx context.Context, offeringID string) (int, error)
}

// FinishScheduler arranges for an offering to be finished once its end date passes.
type FinishScheduler interface {
	ScheduleFinish(ctx context.Context, offeringID string, at time.Time) error
}

// OfferingRequest describes offering create and update payloads.
type OfferingRequest struct {
	CourseID     string                `json:"course_id" validate:"required"`
	Name         string                `json:"name" validate:"required,max=200"`
	MaxSeats     int                   `json:"max_seats" validate:"gte=0"`
	Status       models.OfferingStatus `json:"status" validate:"omitempty,oneof=OPEN CLOSED IN_PROGRESS FINISHED"`
	StartDate    *string               `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate      *string               `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	ScheduleText string                `json:"schedule_text" validate:"max=255"`
	City         *string               `json:"city" validate:"omitempty,max=120"`
}

// OfferingService handles the administrative edits that affect the core invariants.
type OfferingService struct {
	repo      offeringRepository
	courses   courseReader
	capacity  *CapacityService
	summaries summaryRecomputer
	scheduler FinishScheduler
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	clock     clock
}

// NewOfferingService constructs OfferingService. scheduler may be nil when background
// jobs are disabled; the periodic sweep still finishes overdue offerings.
func NewOfferingService(repo offeringRepository, courses courseReader, capacity *CapacityService, summaries summaryRecomputer, scheduler FinishScheduler, metrics *MetricsService, loc *time.Location, validate *validator.Validate, logger *zap.Logger) *OfferingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OfferingService{
		repo:      repo,
		courses:   courses,
		capacity:  capacity,
		summaries: summaries,
		scheduler: scheduler,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		clock:     newClock(loc),
	}
}

// Get returns an offering by id.
func (s *OfferingService) Get(ctx context.Context, id string) (*models.Offering, error) {
	offering, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "offering not found", "failed to load offering")
	}
	return offering, nil
}

// Create validates and stores a new offering.
func (s *OfferingService) Create(ctx context.Context, actor models.Actor, req OfferingRequest) (*models.Offering, error) {
	if !actor.CanAdminister() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "actor cannot manage offerings")
	}
	offering, err := s.buildOffering(ctx, req)
	if err != nil {
		return nil, err
	}
	if !actor.InScope(*offering) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "offering outside actor scope")
	}
	if err := s.repo.Create(ctx, offering); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create offering")
	}
	s.scheduleFinish(ctx, *offering)
	s.logger.Info("offering created", zap.String("offering_id", offering.ID), zap.Int("max_seats", offering.MaxSeats))
	return offering, nil
}

// Update stores the new attributes. A capacity change normalizes the roster and a
// schedule or date change recomputes every summary of the offering.
func (s *OfferingService) Update(ctx context.Context, actor models.Actor, id string, req OfferingRequest) (*models.Offering, error) {
	if !actor.CanAdminister() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "actor cannot manage offerings")
	}
	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "offering not found", "failed to load offering")
	}
	if !actor.InScope(*existing) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "offering outside actor scope")
	}
	updated, err := s.buildOffering(ctx, req)
	if err != nil {
		return nil, err
	}
	if updated.CourseID != existing.CourseID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course of an offering cannot change")
	}
	if req.Status == "" {
		updated.Status = existing.Status
	}
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	if err := s.repo.Update(ctx, updated); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update offering")
	}

	if updated.MaxSeats != existing.MaxSeats {
		if _, err := s.capacity.Normalize(ctx, models.SystemActor(), id); err != nil {
			return nil, err
		}
	}
	if scheduleChanged(*existing, *updated) {
		if _, err := s.summaries.RecomputeOfferingSummaries(ctx, id); err != nil {
			return nil, err
		}
		s.scheduleFinish(ctx, *updated)
	}
	s.logger.Info("offering updated", zap.String("offering_id", id), zap.String("actor_id", actor.UserID))
	return updated, nil
}

// Recompute rebuilds every confirmed summary of the offering on behalf of an administrator.
func (s *OfferingService) Recompute(ctx context.Context, actor models.Actor, id string) (int, error) {
	if !actor.CanAdminister() {
		return 0, appErrors.Clone(appErrors.ErrForbidden, "actor cannot recompute summaries")
	}
	offering, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return 0, mapRepoError(err, "offering not found", "failed to load offering")
	}
	if !actor.InScope(*offering) {
		return 0, appErrors.Clone(appErrors.ErrForbidden, "offering outside actor scope")
	}
	return s.summaries.RecomputeOfferingSummaries(ctx, id)
}

// FinishOverdue marks offerings whose end date is before today as FINISHED and
// recomputes their summaries so certificate decisions are final.
func (s *OfferingService) FinishOverdue(ctx context.Context, today time.Time) ([]string, error) {
	overdue, err := s.repo.ListOverdue(ctx, calendar.Day(today))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list overdue offerings")
	}
	finished := make([]string, 0, len(overdue))
	for _, offering := range overdue {
		ok, err := s.Finish(ctx, offering.ID)
		if err != nil {
			return finished, err
		}
		if ok {
			finished = append(finished, offering.ID)
		}
	}
	if len(finished) > 0 {
		s.logger.Info("overdue offerings finished", zap.Strings("offering_ids", finished))
	}
	return finished, nil
}

// Finish marks a single offering FINISHED when its end date has passed.
func (s *OfferingService) Finish(ctx context.Context, id string) (bool, error) {
	offering, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return false, mapRepoError(err, "offering not found", "failed to load offering")
	}
	if offering.EndDate == nil || !offering.EndDate.Before(s.clock.today()) {
		return false, nil
	}
	changed, err := s.repo.MarkFinished(ctx, id)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finish offering")
	}
	if !changed {
		return false, nil
	}
	if _, err := s.summaries.RecomputeOfferingSummaries(ctx, id); err != nil {
		return true, err
	}
	return true, nil
}

func (s *OfferingService) buildOffering(ctx context.Context, req OfferingRequest) (*models.Offering, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid offering payload")
	}
	if _, err := s.courses.FindByID(ctx, req.CourseID); err != nil {
		return nil, mapRepoError(err, "course not found", "failed to load course")
	}
	offering := &models.Offering{
		CourseID:     req.CourseID,
		Name:         req.Name,
		MaxSeats:     req.MaxSeats,
		Status:       req.Status,
		ScheduleText: req.ScheduleText,
		City:         req.City,
	}
	var err error
	if offering.StartDate, err = parseOptionalDay(req.StartDate); err != nil {
		return nil, err
	}
	if offering.EndDate, err = parseOptionalDay(req.EndDate); err != nil {
		return nil, err
	}
	if err := ValidateSchedule(*offering); err != nil {
		return nil, err
	}
	return offering, nil
}

// ValidateSchedule checks the date bounds and that bounded offerings name a weekday.
func ValidateSchedule(o models.Offering) error {
	if o.StartDate != nil && o.EndDate != nil && o.EndDate.Before(*o.StartDate) {
		return appErrors.Clone(appErrors.ErrValidation, "end date must not be before start date")
	}
	if o.HasDateBounds() && calendar.ParseWeekdays(o.ScheduleText).Empty() {
		return appErrors.Clone(appErrors.ErrUnschedulableOffering, "schedule text must name at least one weekday when dates are set")
	}
	return nil
}

func (s *OfferingService) scheduleFinish(ctx context.Context, o models.Offering) {
	if s.scheduler == nil || o.EndDate == nil || o.Status == models.OfferingStatusFinished {
		return
	}
	at := calendar.Day(*o.EndDate).AddDate(0, 0, 1)
	if err := s.scheduler.ScheduleFinish(ctx, o.ID, at); err != nil {
		s.logger.Warn("failed to schedule offering finish", zap.String("offering_id", o.ID), zap.Error(err))
	}
}

func scheduleChanged(before, after models.Offering) bool {
	return before.ScheduleText != after.ScheduleText ||
		!sameDay(before.StartDate, after.StartDate) ||
		!sameDay(before.EndDate, after.EndDate)
}

func sameDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return calendar.Day(*a).Equal(calendar.Day(*b))
}

func parseOptionalDay(raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	d, err := calendar.ParseDay(*raw)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid date")
	}
	return &d, nil
}
