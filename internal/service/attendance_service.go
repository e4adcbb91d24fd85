package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/calendar"
	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

type attendanceEnrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	ListConfirmedWithoutSummary(ctx context.Context) ([]models.Enrollment, error)
}

type attendanceRecordReader interface {
	FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error)
}

// UpsertAttendanceRequest records one class outcome for an enrollment.
type UpsertAttendanceRequest struct {
	EnrollmentID string  `json:"enrollment_id" validate:"required"`
	Date         string  `json:"date" validate:"required,datetime=2006-01-02"`
	Present      *bool   `json:"present" validate:"required"`
	Notes        *string `json:"notes" validate:"omitempty,max=500"`
}

// AttendanceConfig tunes ledger behaviour.
type AttendanceConfig struct {
	CertificateThreshold float64
	Location             *time.Location
}

// AttendanceService owns attendance records and the derived summaries.
type AttendanceService struct {
	locker      offeringLocker
	enrollments attendanceEnrollmentReader
	records     attendanceRecordReader
	cache       *CacheService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	clock       clock
	threshold   float64
}

// NewAttendanceService constructs AttendanceService.
func NewAttendanceService(locker offeringLocker, enrollments attendanceEnrollmentReader, records attendanceRecordReader, cache *CacheService, metrics *MetricsService, cfg AttendanceConfig, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CertificateThreshold <= 0 {
		cfg.CertificateThreshold = DefaultCertificateThreshold
	}
	return &AttendanceService{
		locker:      locker,
		enrollments: enrollments,
		records:     records,
		cache:       cache,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		clock:       newClock(cfg.Location),
		threshold:   cfg.CertificateThreshold,
	}
}

// UpsertAttendance records attendance idempotently for (enrollment, date) and refreshes
// the affected summaries. A first record for a date cascades to the whole offering when
// the offering has no deterministic schedule.
func (s *AttendanceService) UpsertAttendance(ctx context.Context, actor models.Actor, req UpsertAttendanceRequest) (*models.AttendanceResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	if !actor.CanTakeAttendance() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "actor cannot record attendance")
	}
	classDate, err := calendar.ParseDay(req.Date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance date")
	}

	var result *models.AttendanceResult
	var refreshed []models.AttendanceSummary
	err = retryOnConflict(ctx, "attendance.upsert", s.logger, s.metrics, func(ctx context.Context) error {
		enrollment, err := s.enrollments.FindByID(ctx, req.EnrollmentID)
		if err != nil {
			return err
		}
		return s.locker.WithinOffering(ctx, enrollment.OfferingID, func(ctx context.Context, tx repository.OfferingTx) error {
			current, offering, err := s.lockedEnrollment(ctx, tx, enrollment.ID, enrollment.OfferingID)
			if err != nil {
				return err
			}
			if !actor.InScope(offering) {
				return appErrors.Clone(appErrors.ErrForbidden, "offering outside actor scope")
			}
			if current.Status != models.EnrollmentStatusConfirmed {
				return appErrors.Clone(appErrors.ErrPreconditionFailed, "attendance requires a confirmed enrollment")
			}
			if err := ValidateClassDate(offering, classDate); err != nil {
				return err
			}

			existing, err := tx.CountAttendanceOnDate(ctx, offering.ID, classDate)
			if err != nil {
				return err
			}
			recordedBy := actor.UserID
			record := &models.AttendanceRecord{
				EnrollmentID: current.ID,
				ClassDate:    classDate,
				Present:      *req.Present,
				Notes:        req.Notes,
				RecordedBy:   &recordedBy,
			}
			if _, err := tx.UpsertAttendance(ctx, record); err != nil {
				return err
			}

			summary, err := s.RefreshWithin(ctx, tx, *current)
			if err != nil {
				return err
			}
			refreshed = []models.AttendanceSummary{*summary}
			result = &models.AttendanceResult{Record: record, Summary: summary}

			if existing == 0 && !hasDeterministicSchedule(offering) {
				cascaded, err := s.recomputeWithin(ctx, tx, offering, current.ID)
				if err != nil {
					return err
				}
				refreshed = append(refreshed, cascaded...)
				result.Cascaded = len(cascaded)
			}
			s.cache.PutSummaries(ctx, refreshed...)
			return nil
		})
	})
	if err != nil {
		s.cache.EvictSummaries(ctx, refreshed...)
		return nil, mapRepoError(err, "enrollment not found", "failed to record attendance")
	}

	s.metrics.ObserveSummaries("attendance", len(refreshed))
	if result.Cascaded > 0 {
		s.metrics.ObserveCascade(result.Cascaded)
		s.logger.Info("attendance denominator grew", zap.String("enrollment_id", req.EnrollmentID), zap.String("date", req.Date), zap.Int("cascaded", result.Cascaded))
	}
	return result, nil
}

// DeleteAttendance removes a record. Removing the last record of a date cascades to the
// whole offering when the offering has no deterministic schedule.
func (s *AttendanceService) DeleteAttendance(ctx context.Context, actor models.Actor, attendanceID string) (*models.AttendanceResult, error) {
	if !actor.CanAdminister() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "actor cannot delete attendance")
	}

	var result *models.AttendanceResult
	var refreshed []models.AttendanceSummary
	err := retryOnConflict(ctx, "attendance.delete", s.logger, s.metrics, func(ctx context.Context) error {
		record, err := s.records.FindByID(ctx, attendanceID)
		if err != nil {
			return err
		}
		enrollment, err := s.enrollments.FindByID(ctx, record.EnrollmentID)
		if err != nil {
			return err
		}
		return s.locker.WithinOffering(ctx, enrollment.OfferingID, func(ctx context.Context, tx repository.OfferingTx) error {
			current, offering, err := s.lockedEnrollment(ctx, tx, enrollment.ID, enrollment.OfferingID)
			if err != nil {
				return err
			}
			if !actor.InScope(offering) {
				return appErrors.Clone(appErrors.ErrForbidden, "offering outside actor scope")
			}
			if _, err := tx.FindAttendance(ctx, attendanceID); err != nil {
				return err
			}
			if err := tx.DeleteAttendance(ctx, attendanceID); err != nil {
				return err
			}
			remaining, err := tx.CountAttendanceOnDate(ctx, offering.ID, record.ClassDate)
			if err != nil {
				return err
			}

			summary, err := s.RefreshWithin(ctx, tx, *current)
			if err != nil {
				return err
			}
			refreshed = []models.AttendanceSummary{*summary}
			result = &models.AttendanceResult{Summary: summary}

			if remaining == 0 && !hasDeterministicSchedule(offering) {
				cascaded, err := s.recomputeWithin(ctx, tx, offering, current.ID)
				if err != nil {
					return err
				}
				refreshed = append(refreshed, cascaded...)
				result.Cascaded = len(cascaded)
			}
			s.cache.PutSummaries(ctx, refreshed...)
			return nil
		})
	})
	if err != nil {
		s.cache.EvictSummaries(ctx, refreshed...)
		return nil, mapRepoError(err, "attendance record not found", "failed to delete attendance")
	}

	s.metrics.ObserveSummaries("attendance_delete", len(refreshed))
	if result.Cascaded > 0 {
		s.metrics.ObserveCascade(result.Cascaded)
	}
	return result, nil
}

// GetSummary returns the summary of an enrollment, cache first.
func (s *AttendanceService) GetSummary(ctx context.Context, actor models.Actor, enrollmentID string) (*models.AttendanceSummary, error) {
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		return nil, mapRepoError(err, "enrollment not found", "failed to load enrollment")
	}
	if !actor.CanActFor(enrollment.StudentID) && !actor.CanTakeAttendance() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "actor cannot read this summary")
	}
	if cached := s.cache.GetSummary(ctx, enrollmentID); cached != nil {
		return cached, nil
	}
	return s.RefreshSummary(ctx, enrollmentID)
}

// RefreshSummary recomputes and stores the summary of one enrollment.
func (s *AttendanceService) RefreshSummary(ctx context.Context, enrollmentID string) (*models.AttendanceSummary, error) {
	var summary *models.AttendanceSummary
	err := retryOnConflict(ctx, "summary.refresh", s.logger, s.metrics, func(ctx context.Context) error {
		enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
		if err != nil {
			return err
		}
		return s.locker.WithinOffering(ctx, enrollment.OfferingID, func(ctx context.Context, tx repository.OfferingTx) error {
			current, _, err := s.lockedEnrollment(ctx, tx, enrollment.ID, enrollment.OfferingID)
			if err != nil {
				return err
			}
			if summary, err = s.RefreshWithin(ctx, tx, *current); err != nil {
				return err
			}
			s.cache.PutSummaries(ctx, *summary)
			return nil
		})
	})
	if err != nil {
		if summary != nil {
			s.cache.EvictSummaries(ctx, *summary)
		}
		return nil, mapRepoError(err, "enrollment not found", "failed to refresh summary")
	}
	s.metrics.ObserveSummaries("refresh", 1)
	return summary, nil
}

// RecomputeOfferingSummaries recomputes every confirmed enrollment of the offering.
func (s *AttendanceService) RecomputeOfferingSummaries(ctx context.Context, offeringID string) (int, error) {
	var refreshed []models.AttendanceSummary
	err := retryOnConflict(ctx, "summary.recompute", s.logger, s.metrics, func(ctx context.Context) error {
		return s.locker.WithinOffering(ctx, offeringID, func(ctx context.Context, tx repository.OfferingTx) error {
			offering, _ := tx.Offering(offeringID)
			var err error
			if refreshed, err = s.recomputeWithin(ctx, tx, offering, ""); err != nil {
				return err
			}
			s.cache.PutSummaries(ctx, refreshed...)
			return nil
		})
	})
	if err != nil {
		s.cache.EvictSummaries(ctx, refreshed...)
		return 0, mapRepoError(err, "offering not found", "failed to recompute summaries")
	}
	s.metrics.ObserveSummaries("offering", len(refreshed))
	s.logger.Info("offering summaries recomputed", zap.String("offering_id", offeringID), zap.Int("count", len(refreshed)))
	return len(refreshed), nil
}

// BackfillSummaries creates summaries for confirmed enrollments that have none.
func (s *AttendanceService) BackfillSummaries(ctx context.Context) (int, error) {
	missing, err := s.enrollments.ListConfirmedWithoutSummary(ctx)
	if err != nil {
		return 0, mapRepoError(err, "", "failed to list enrollments missing summaries")
	}
	byOffering := make(map[string][]string)
	var order []string
	for _, e := range missing {
		if _, ok := byOffering[e.OfferingID]; !ok {
			order = append(order, e.OfferingID)
		}
		byOffering[e.OfferingID] = append(byOffering[e.OfferingID], e.ID)
	}

	created := 0
	for _, offeringID := range order {
		var refreshed []models.AttendanceSummary
		err := retryOnConflict(ctx, "summary.backfill", s.logger, s.metrics, func(ctx context.Context) error {
			refreshed = refreshed[:0]
			return s.locker.WithinOffering(ctx, offeringID, func(ctx context.Context, tx repository.OfferingTx) error {
				for _, id := range byOffering[offeringID] {
					current, _, err := s.lockedEnrollment(ctx, tx, id, offeringID)
					if err != nil {
						if err == repository.ErrConcurrentUpdate {
							continue
						}
						return err
					}
					if current.Status != models.EnrollmentStatusConfirmed {
						continue
					}
					summary, err := s.RefreshWithin(ctx, tx, *current)
					if err != nil {
						return err
					}
					refreshed = append(refreshed, *summary)
				}
				s.cache.PutSummaries(ctx, refreshed...)
				return nil
			})
		})
		if err != nil {
			s.cache.EvictSummaries(ctx, refreshed...)
			return created, mapRepoError(err, "offering not found", "failed to backfill summaries")
		}
		created += len(refreshed)
	}
	s.metrics.ObserveSummaries("backfill", created)
	if created > 0 {
		s.logger.Info("attendance summaries backfilled", zap.Int("count", created))
	}
	return created, nil
}

// RefreshWithin recomputes and stores one summary inside an existing offering lock.
func (s *AttendanceService) RefreshWithin(ctx context.Context, tx repository.OfferingTx, enrollment models.Enrollment) (*models.AttendanceSummary, error) {
	offering, ok := tx.Offering(enrollment.OfferingID)
	if !ok {
		return nil, repository.ErrOfferingNotLocked
	}
	today := s.clock.today()
	counts, err := gatherCounts(ctx, tx, offering, enrollment.ID, today)
	if err != nil {
		return nil, err
	}
	summary := ComputeSummary(enrollment.ID, offering.ID, counts, s.threshold, s.clock.now().UTC())
	if err := tx.SaveSummary(ctx, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// recomputeWithin refreshes every confirmed enrollment of the offering except skipID.
func (s *AttendanceService) recomputeWithin(ctx context.Context, tx repository.OfferingTx, offering models.Offering, skipID string) ([]models.AttendanceSummary, error) {
	roster, err := tx.Roster(ctx, offering.ID)
	if err != nil {
		return nil, err
	}
	var refreshed []models.AttendanceSummary
	for _, e := range roster {
		if e.ID == skipID || e.Status != models.EnrollmentStatusConfirmed {
			continue
		}
		summary, err := s.RefreshWithin(ctx, tx, e)
		if err != nil {
			return nil, err
		}
		refreshed = append(refreshed, *summary)
	}
	return refreshed, nil
}

// lockedEnrollment re-reads the enrollment under the lock and detects a concurrent move.
func (s *AttendanceService) lockedEnrollment(ctx context.Context, tx repository.OfferingTx, enrollmentID, offeringID string) (*models.Enrollment, models.Offering, error) {
	current, err := tx.FindEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, models.Offering{}, err
	}
	if current.OfferingID != offeringID {
		return nil, models.Offering{}, repository.ErrConcurrentUpdate
	}
	offering, _ := tx.Offering(offeringID)
	return current, offering, nil
}

// ValidateClassDate rejects dates outside the offering bounds or off its weekdays.
// Offerings without a resolvable weekday set only enforce the bounds.
func ValidateClassDate(offering models.Offering, classDate time.Time) error {
	if !offering.Contains(classDate) {
		return appErrors.Clone(appErrors.ErrAttendanceDateInvalid, "attendance date outside offering dates")
	}
	weekdays := calendar.ParseWeekdays(offering.ScheduleText)
	if !weekdays.Empty() && !weekdays.Matches(classDate) {
		return appErrors.Clone(appErrors.ErrAttendanceDateInvalid, "attendance date is not a scheduled weekday")
	}
	return nil
}
