package service

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

type summaryRefresher interface {
	RefreshWithin(ctx context.Context, tx repository.OfferingTx, enrollment models.Enrollment) (*models.AttendanceSummary, error)
}

// Placement is the outcome of a capacity decision.
type Placement struct {
	Status       models.EnrollmentStatus
	WaitlistRank *int
}

// NormalizeResult reports what a capacity sweep changed.
type NormalizeResult struct {
	OfferingID string   `json:"offering_id"`
	Demoted    []string `json:"demoted"`
	Promoted   []string `json:"promoted"`
}

// CapacityService enforces seat limits and owns waitlist ordering.
type CapacityService struct {
	locker      offeringLocker
	refresher   summaryRefresher
	cache       *CacheService
	metrics     *MetricsService
	logger      *zap.Logger
	autoPromote bool
}

// NewCapacityService constructs CapacityService. With autoPromote the head of the
// waitlist takes a seat as soon as one is freed.
func NewCapacityService(locker offeringLocker, refresher summaryRefresher, cache *CacheService, metrics *MetricsService, autoPromote bool, logger *zap.Logger) *CapacityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapacityService{
		locker:      locker,
		refresher:   refresher,
		cache:       cache,
		metrics:     metrics,
		logger:      logger,
		autoPromote: autoPromote,
	}
}

// Decide places a new enrollment against the current roster. Capacity counts
// CONFIRMED and PRE_REGISTERED enrollments; a full offering appends to the waitlist.
func Decide(offering models.Offering, roster []models.Enrollment, want models.EnrollmentStatus) Placement {
	if seatsTaken(roster) >= offering.MaxSeats {
		return Placement{Status: models.EnrollmentStatusWaitlisted, WaitlistRank: intPtr(maxRank(roster) + 1)}
	}
	return Placement{Status: want}
}

// Place decides and applies the placement of a new enrollment. The caller must hold
// the offering lock through tx.
func (s *CapacityService) Place(ctx context.Context, tx repository.OfferingTx, enrollment *models.Enrollment, want models.EnrollmentStatus) error {
	offering, ok := tx.Offering(enrollment.OfferingID)
	if !ok {
		return repository.ErrOfferingNotLocked
	}
	if !offering.AcceptsEnrollment() {
		return appErrors.Clone(appErrors.ErrClosedForEnrollment, fmt.Sprintf("offering is %s", offering.Status))
	}
	roster, err := tx.Roster(ctx, offering.ID)
	if err != nil {
		return err
	}
	placement := Decide(offering, roster, want)
	enrollment.Status = placement.Status
	enrollment.WaitlistRank = placement.WaitlistRank
	s.metrics.ObservePlacement(placement.Status)
	return nil
}

// Promote moves an enrollment into CONFIRMED. A WAITLISTED enrollment needs a free
// seat; a PRE_REGISTERED one already holds its seat.
func (s *CapacityService) Promote(ctx context.Context, tx repository.OfferingTx, enrollment *models.Enrollment) error {
	offering, ok := tx.Offering(enrollment.OfferingID)
	if !ok {
		return repository.ErrOfferingNotLocked
	}
	if !enrollment.Status.CanTransitionTo(models.EnrollmentStatusConfirmed) {
		return appErrors.Clone(appErrors.ErrEnrollmentNotConfirmable, fmt.Sprintf("cannot confirm a %s enrollment", enrollment.Status))
	}
	roster, err := tx.Roster(ctx, offering.ID)
	if err != nil {
		return err
	}
	wasWaitlisted := enrollment.Status == models.EnrollmentStatusWaitlisted
	if wasWaitlisted && seatsTaken(roster) >= offering.MaxSeats {
		return appErrors.Clone(appErrors.ErrEnrollmentNotConfirmable, "offering has no free seat")
	}

	from := enrollment.Status
	enrollment.Status = models.EnrollmentStatusConfirmed
	enrollment.WaitlistRank = nil
	if err := tx.SaveEnrollment(ctx, enrollment); err != nil {
		return err
	}
	s.metrics.ObserveTransition(from, enrollment.Status)
	if wasWaitlisted {
		s.metrics.ObservePromotion("admin")
		return s.compact(ctx, tx, offering.ID)
	}
	return nil
}

// SeatFreed runs after a seat holder leaves the offering. The head of the waitlist is
// promoted only when auto promotion is enabled.
func (s *CapacityService) SeatFreed(ctx context.Context, tx repository.OfferingTx, offeringID string) ([]models.AttendanceSummary, error) {
	s.metrics.ObserveSeatFreed(s.autoPromote)
	if !s.autoPromote {
		s.logger.Info("seat freed, waiting for manual promotion", zap.String("offering_id", offeringID))
		return nil, nil
	}
	promoted, err := s.fillSeats(ctx, tx, offeringID, "auto")
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, tx, promoted)
}

// Normalize demotes excess PRE_REGISTERED enrollments to the waitlist and promotes
// waitlisted ones into free seats. CONFIRMED enrollments are never demoted.
func (s *CapacityService) Normalize(ctx context.Context, actor models.Actor, offeringID string) (*NormalizeResult, error) {
	if !actor.CanAdminister() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "actor cannot normalize offerings")
	}
	var result *NormalizeResult
	var refreshed []models.AttendanceSummary
	err := retryOnConflict(ctx, "capacity.normalize", s.logger, s.metrics, func(ctx context.Context) error {
		return s.locker.WithinOffering(ctx, offeringID, func(ctx context.Context, tx repository.OfferingTx) error {
			offering, _ := tx.Offering(offeringID)
			if !actor.InScope(offering) {
				return appErrors.Clone(appErrors.ErrForbidden, "offering outside actor scope")
			}
			var err error
			if result, refreshed, err = s.normalizeWithin(ctx, tx, offering); err != nil {
				return err
			}
			s.cache.PutSummaries(ctx, refreshed...)
			return nil
		})
	})
	if err != nil {
		s.cache.EvictSummaries(ctx, refreshed...)
		return nil, mapRepoError(err, "offering not found", "failed to normalize offering")
	}
	if len(result.Demoted) > 0 || len(result.Promoted) > 0 {
		s.logger.Info("offering capacity normalized",
			zap.String("offering_id", offeringID),
			zap.Int("demoted", len(result.Demoted)),
			zap.Int("promoted", len(result.Promoted)),
		)
	}
	return result, nil
}

func (s *CapacityService) normalizeWithin(ctx context.Context, tx repository.OfferingTx, offering models.Offering) (*NormalizeResult, []models.AttendanceSummary, error) {
	result := &NormalizeResult{OfferingID: offering.ID, Demoted: []string{}, Promoted: []string{}}
	roster, err := tx.Roster(ctx, offering.ID)
	if err != nil {
		return nil, nil, err
	}

	excess := seatsTaken(roster) - offering.MaxSeats
	if excess > 0 {
		var pending []models.Enrollment
		for _, e := range roster {
			if e.Status == models.EnrollmentStatusPreRegistered {
				pending = append(pending, e)
			}
		}
		sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
		next := maxRank(roster)
		for i := 0; i < len(pending) && i < excess; i++ {
			demoted := pending[i]
			next++
			demoted.Status = models.EnrollmentStatusWaitlisted
			demoted.WaitlistRank = intPtr(next)
			if err := tx.SaveEnrollment(ctx, &demoted); err != nil {
				return nil, nil, err
			}
			s.metrics.ObserveTransition(models.EnrollmentStatusPreRegistered, models.EnrollmentStatusWaitlisted)
			result.Demoted = append(result.Demoted, demoted.ID)
		}
	}

	promoted, err := s.fillSeats(ctx, tx, offering.ID, "normalize")
	if err != nil {
		return nil, nil, err
	}
	for _, e := range promoted {
		result.Promoted = append(result.Promoted, e.ID)
	}
	if len(promoted) == 0 {
		if err := s.compact(ctx, tx, offering.ID); err != nil {
			return nil, nil, err
		}
	}

	if roster, err = tx.Roster(ctx, offering.ID); err != nil {
		return nil, nil, err
	}
	if err := CheckRoster(offering, roster); err != nil {
		s.logger.Warn("roster invariant violated after normalize", zap.String("offering_id", offering.ID), zap.Error(err))
	}

	refreshed, err := s.refresh(ctx, tx, promoted)
	if err != nil {
		return nil, nil, err
	}
	return result, refreshed, nil
}

// fillSeats promotes waitlisted enrollments in rank order while seats are free.
// Closed and finished offerings keep their waitlist as is.
func (s *CapacityService) fillSeats(ctx context.Context, tx repository.OfferingTx, offeringID, reason string) ([]models.Enrollment, error) {
	offering, ok := tx.Offering(offeringID)
	if !ok {
		return nil, repository.ErrOfferingNotLocked
	}
	if !offering.AcceptsEnrollment() {
		return nil, nil
	}
	roster, err := tx.Roster(ctx, offeringID)
	if err != nil {
		return nil, err
	}
	free := offering.MaxSeats - seatsTaken(roster)
	if free <= 0 {
		return nil, nil
	}

	var promoted []models.Enrollment
	for _, e := range waitlist(roster) {
		if free == 0 {
			break
		}
		e.Status = models.EnrollmentStatusConfirmed
		e.WaitlistRank = nil
		if err := tx.SaveEnrollment(ctx, &e); err != nil {
			return nil, err
		}
		s.metrics.ObserveTransition(models.EnrollmentStatusWaitlisted, models.EnrollmentStatusConfirmed)
		s.metrics.ObservePromotion(reason)
		promoted = append(promoted, e)
		free--
	}
	if len(promoted) > 0 {
		if err := s.compact(ctx, tx, offeringID); err != nil {
			return nil, err
		}
	}
	return promoted, nil
}

// compact renumbers the waitlist of the offering to 1..n.
func (s *CapacityService) compact(ctx context.Context, tx repository.OfferingTx, offeringID string) error {
	roster, err := tx.Roster(ctx, offeringID)
	if err != nil {
		return err
	}
	for _, e := range CompactWaitlist(roster) {
		e := e
		if err := tx.SaveEnrollment(ctx, &e); err != nil {
			return err
		}
	}
	return nil
}

func (s *CapacityService) refresh(ctx context.Context, tx repository.OfferingTx, promoted []models.Enrollment) ([]models.AttendanceSummary, error) {
	if s.refresher == nil {
		return nil, nil
	}
	var summaries []models.AttendanceSummary
	for _, e := range promoted {
		summary, err := s.refresher.RefreshWithin(ctx, tx, e)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, *summary)
	}
	return summaries, nil
}

// CompactWaitlist returns the waitlisted enrollments whose rank must change so the
// waitlist reads 1..n in its current order.
func CompactWaitlist(roster []models.Enrollment) []models.Enrollment {
	var changed []models.Enrollment
	for i, e := range waitlist(roster) {
		rank := i + 1
		if e.WaitlistRank != nil && *e.WaitlistRank == rank {
			continue
		}
		e.WaitlistRank = intPtr(rank)
		changed = append(changed, e)
	}
	return changed
}

// CheckRoster verifies the capacity and waitlist invariants of an offering.
func CheckRoster(offering models.Offering, roster []models.Enrollment) error {
	confirmed := 0
	students := make(map[string]struct{}, len(roster))
	for _, e := range roster {
		if e.Status == models.EnrollmentStatusConfirmed {
			confirmed++
		}
		if e.Status != models.EnrollmentStatusCancelled {
			if _, dup := students[e.StudentID]; dup {
				return fmt.Errorf("student %s enrolled twice", e.StudentID)
			}
			students[e.StudentID] = struct{}{}
		}
		if (e.Status == models.EnrollmentStatusWaitlisted) != (e.WaitlistRank != nil) {
			return fmt.Errorf("enrollment %s has status %s with rank %v", e.ID, e.Status, e.WaitlistRank)
		}
	}
	if confirmed > offering.MaxSeats {
		return fmt.Errorf("offering %s has %d confirmed for %d seats", offering.ID, confirmed, offering.MaxSeats)
	}
	for i, e := range waitlist(roster) {
		if *e.WaitlistRank != i+1 {
			return fmt.Errorf("waitlist of offering %s is not contiguous at enrollment %s", offering.ID, e.ID)
		}
	}
	return nil
}

func seatsTaken(roster []models.Enrollment) int {
	n := 0
	for _, e := range roster {
		if e.Status.CountsTowardCapacity() {
			n++
		}
	}
	return n
}

func maxRank(roster []models.Enrollment) int {
	max := 0
	for _, e := range roster {
		if e.Status == models.EnrollmentStatusWaitlisted && e.WaitlistRank != nil && *e.WaitlistRank > max {
			max = *e.WaitlistRank
		}
	}
	return max
}

// waitlist returns the waitlisted enrollments ordered by rank, then creation.
func waitlist(roster []models.Enrollment) []models.Enrollment {
	var out []models.Enrollment
	for _, e := range roster {
		if e.Status == models.EnrollmentStatusWaitlisted && e.WaitlistRank != nil {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if *out[i].WaitlistRank != *out[j].WaitlistRank {
			return *out[i].WaitlistRank < *out[j].WaitlistRank
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
