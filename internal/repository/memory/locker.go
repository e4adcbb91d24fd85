package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/internal/repository"
)

// OfferingLocker serializes work per offering with in-process mutexes.
type OfferingLocker struct{ s *Store }

// NewOfferingLocker constructs the locker.
func NewOfferingLocker(s *Store) *OfferingLocker { return &OfferingLocker{s: s} }

// WithinOfferings locks the offerings in id order and runs fn. Writes made
// through the tx are undone when fn returns an error.
func (l *OfferingLocker) WithinOfferings(ctx context.Context, offeringIDs []string, fn func(ctx context.Context, tx repository.OfferingTx) error) error {
	ids := repository.LockOrder(offeringIDs)
	for _, id := range ids {
		lock := l.s.offeringLock(id)
		lock.Lock()
		defer lock.Unlock()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	locked := make(map[string]models.Offering, len(ids))
	l.s.mu.RLock()
	for _, id := range ids {
		o, ok := l.s.offerings[id]
		if !ok {
			l.s.mu.RUnlock()
			return sql.ErrNoRows
		}
		locked[id] = *o
	}
	l.s.mu.RUnlock()

	tx := &offeringTx{s: l.s, offerings: locked}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// WithinOffering is WithinOfferings for a single offering.
func (l *OfferingLocker) WithinOffering(ctx context.Context, offeringID string, fn func(ctx context.Context, tx repository.OfferingTx) error) error {
	return l.WithinOfferings(ctx, []string{offeringID}, fn)
}

type offeringTx struct {
	s         *Store
	offerings map[string]models.Offering
	undo      []func()
}

func (t *offeringTx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *offeringTx) requireLocked(id string) error {
	if _, ok := t.offerings[id]; !ok {
		return fmt.Errorf("%w: %s", repository.ErrOfferingNotLocked, id)
	}
	return nil
}

func (t *offeringTx) Offering(id string) (models.Offering, bool) {
	o, ok := t.offerings[id]
	return o, ok
}

func (t *offeringTx) Roster(ctx context.Context, offeringID string) ([]models.Enrollment, error) {
	if err := t.requireLocked(offeringID); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var roster []models.Enrollment
	for _, e := range t.s.enrollments {
		if e.OfferingID == offeringID {
			roster = append(roster, *cloneEnrollment(e))
		}
	}
	sortRoster(roster)
	return roster, nil
}

func (t *offeringTx) FindEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	e, ok := t.s.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneEnrollment(e), nil
}

func (t *offeringTx) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	if err := t.requireLocked(enrollment.OfferingID); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, e := range t.s.enrollments {
		if e.StudentID == enrollment.StudentID && e.OfferingID == enrollment.OfferingID && e.Status != models.EnrollmentStatusCancelled {
			return repository.ErrDuplicateEnrollment
		}
	}
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now
	id := enrollment.ID
	t.s.enrollments[id] = cloneEnrollment(enrollment)
	t.undo = append(t.undo, func() { delete(t.s.enrollments, id) })
	return nil
}

func (t *offeringTx) SaveEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	if err := t.requireLocked(enrollment.OfferingID); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	prev, ok := t.s.enrollments[enrollment.ID]
	if !ok {
		return sql.ErrNoRows
	}
	enrollment.UpdatedAt = time.Now().UTC()
	t.s.enrollments[enrollment.ID] = cloneEnrollment(enrollment)
	t.undo = append(t.undo, func() { t.s.enrollments[prev.ID] = prev })
	return nil
}

func (t *offeringTx) FindAttendance(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	rec, ok := t.s.attendance[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := *rec
	return &out, nil
}

func (t *offeringTx) UpsertAttendance(ctx context.Context, record *models.AttendanceRecord) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	now := time.Now().UTC()
	for id, existing := range t.s.attendance {
		if existing.EnrollmentID == record.EnrollmentID && existing.ClassDate.Equal(record.ClassDate) {
			prev := *existing
			updated := prev
			updated.Present = record.Present
			updated.Notes = record.Notes
			updated.RecordedBy = record.RecordedBy
			updated.UpdatedAt = now
			t.s.attendance[id] = &updated
			t.undo = append(t.undo, func() { t.s.attendance[prev.ID] = &prev })
			*record = updated
			return false, nil
		}
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.CreatedAt = now
	record.UpdatedAt = now
	stored := *record
	t.s.attendance[stored.ID] = &stored
	t.undo = append(t.undo, func() { delete(t.s.attendance, stored.ID) })
	return true, nil
}

func (t *offeringTx) DeleteAttendance(ctx context.Context, id string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	prev, ok := t.s.attendance[id]
	if !ok {
		return sql.ErrNoRows
	}
	delete(t.s.attendance, id)
	t.undo = append(t.undo, func() { t.s.attendance[id] = prev })
	return nil
}

func (t *offeringTx) CountAttendanceOnDate(ctx context.Context, offeringID string, classDate time.Time) (int, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	count := 0
	for _, rec := range t.s.attendance {
		e, ok := t.s.enrollments[rec.EnrollmentID]
		if ok && e.OfferingID == offeringID && rec.ClassDate.Equal(classDate) {
			count++
		}
	}
	return count, nil
}

func (t *offeringTx) CountPresentUpTo(ctx context.Context, enrollmentID string, upTo time.Time) (int, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	count := 0
	for _, rec := range t.s.attendance {
		if rec.EnrollmentID == enrollmentID && rec.Present && !rec.ClassDate.After(upTo) {
			count++
		}
	}
	return count, nil
}

func (t *offeringTx) CountDistinctDatesUpTo(ctx context.Context, offeringID string, upTo time.Time) (int, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	dates := make(map[time.Time]struct{})
	for _, rec := range t.s.attendance {
		e, ok := t.s.enrollments[rec.EnrollmentID]
		if ok && e.OfferingID == offeringID && !rec.ClassDate.After(upTo) {
			dates[rec.ClassDate] = struct{}{}
		}
	}
	return len(dates), nil
}

func (t *offeringTx) EarliestClassDate(ctx context.Context, offeringID string) (*time.Time, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.earliestClassDate(offeringID), nil
}

func (t *offeringTx) SaveSummary(ctx context.Context, summary *models.AttendanceSummary) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	id := summary.EnrollmentID
	prev, existed := t.s.summaries[id]
	stored := *summary
	t.s.summaries[id] = &stored
	t.undo = append(t.undo, func() {
		if existed {
			t.s.summaries[id] = prev
			return
		}
		delete(t.s.summaries, id)
	})
	return nil
}

// earliestClassDate expects s.mu to be held.
func (s *Store) earliestClassDate(offeringID string) *time.Time {
	var earliest *time.Time
	for _, rec := range s.attendance {
		e, ok := s.enrollments[rec.EnrollmentID]
		if !ok || e.OfferingID != offeringID {
			continue
		}
		if earliest == nil || rec.ClassDate.Before(*earliest) {
			d := rec.ClassDate
			earliest = &d
		}
	}
	return earliest
}

func sortRoster(roster []models.Enrollment) {
	sort.Slice(roster, func(i, j int) bool {
		a, b := roster[i], roster[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

var _ repository.OfferingTx = (*offeringTx)(nil)
