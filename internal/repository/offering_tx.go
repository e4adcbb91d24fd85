package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

// LedgerReader exposes the attendance aggregates summaries are derived from.
type LedgerReader interface {
	CountPresentUpTo(ctx context.Context, enrollmentID string, upTo time.Time) (int, error)
	CountDistinctDatesUpTo(ctx context.Context, offeringID string, upTo time.Time) (int, error)
	EarliestClassDate(ctx context.Context, offeringID string) (*time.Time, error)
}

// OfferingTx is the unit of work held while one or more offering rows are locked.
// Every roster read and write made through it is serialized against other
// holders of the same offering.
type OfferingTx interface {
	LedgerReader
	Offering(id string) (models.Offering, bool)
	Roster(ctx context.Context, offeringID string) ([]models.Enrollment, error)
	FindEnrollment(ctx context.Context, id string) (*models.Enrollment, error)
	CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	SaveEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	FindAttendance(ctx context.Context, id string) (*models.AttendanceRecord, error)
	UpsertAttendance(ctx context.Context, record *models.AttendanceRecord) (bool, error)
	DeleteAttendance(ctx context.Context, id string) error
	CountAttendanceOnDate(ctx context.Context, offeringID string, classDate time.Time) (int, error)
	SaveSummary(ctx context.Context, summary *models.AttendanceSummary) error
}

// OfferingLocker opens an OfferingTx with PostgreSQL row locks on the offerings.
type OfferingLocker struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewOfferingLocker constructs the locker. A zero timeout waits indefinitely.
func NewOfferingLocker(db *sqlx.DB, lockTimeout time.Duration) *OfferingLocker {
	return &OfferingLocker{db: db, lockTimeout: lockTimeout}
}

// WithinOfferings locks the offering rows in id order and runs fn in the same transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
func (l *OfferingLocker) WithinOfferings(ctx context.Context, offeringIDs []string, fn func(ctx context.Context, tx OfferingTx) error) (err error) {
	ids := LockOrder(offeringIDs)
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin offering transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if l.lockTimeout > 0 {
		if _, err = tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", l.lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	query := `SELECT ` + offeringColumns + ` FROM offerings WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	var locked []models.Offering
	if err = tx.SelectContext(ctx, &locked, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("lock offerings: %w", classify(err))
	}
	if len(locked) != len(ids) {
		err = sql.ErrNoRows
		return err
	}

	unit := newSQLOfferingTx(tx, locked)
	if err = fn(ctx, unit); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit offering transaction: %w", classify(err))
	}
	return nil
}

// WithinOffering is WithinOfferings for a single offering.
func (l *OfferingLocker) WithinOffering(ctx context.Context, offeringID string, fn func(ctx context.Context, tx OfferingTx) error) error {
	return l.WithinOfferings(ctx, []string{offeringID}, fn)
}

type sqlOfferingTx struct {
	offerings   map[string]models.Offering
	enrollments *EnrollmentRepository
	attendance  *AttendanceRepository
	summaries   *SummaryRepository
}

func newSQLOfferingTx(tx *sqlx.Tx, locked []models.Offering) *sqlOfferingTx {
	offerings := make(map[string]models.Offering, len(locked))
	for _, o := range locked {
		offerings[o.ID] = o
	}
	return &sqlOfferingTx{
		offerings:   offerings,
		enrollments: NewEnrollmentRepository(tx),
		attendance:  NewAttendanceRepository(tx),
		summaries:   NewSummaryRepository(tx),
	}
}

func (t *sqlOfferingTx) Offering(id string) (models.Offering, bool) {
	o, ok := t.offerings[id]
	return o, ok
}

func (t *sqlOfferingTx) Roster(ctx context.Context, offeringID string) ([]models.Enrollment, error) {
	if _, ok := t.offerings[offeringID]; !ok {
		return nil, errNotLocked(offeringID)
	}
	return t.enrollments.ListByOffering(ctx, offeringID)
}

func (t *sqlOfferingTx) FindEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	return t.enrollments.FindByID(ctx, id)
}

func (t *sqlOfferingTx) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	if _, ok := t.offerings[enrollment.OfferingID]; !ok {
		return errNotLocked(enrollment.OfferingID)
	}
	return t.enrollments.Create(ctx, enrollment)
}

func (t *sqlOfferingTx) SaveEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	if _, ok := t.offerings[enrollment.OfferingID]; !ok {
		return errNotLocked(enrollment.OfferingID)
	}
	return t.enrollments.Save(ctx, enrollment)
}

func (t *sqlOfferingTx) FindAttendance(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	return t.attendance.FindByID(ctx, id)
}

func (t *sqlOfferingTx) UpsertAttendance(ctx context.Context, record *models.AttendanceRecord) (bool, error) {
	return t.attendance.Upsert(ctx, record)
}

func (t *sqlOfferingTx) DeleteAttendance(ctx context.Context, id string) error {
	return t.attendance.Delete(ctx, id)
}

func (t *sqlOfferingTx) CountAttendanceOnDate(ctx context.Context, offeringID string, classDate time.Time) (int, error) {
	return t.attendance.CountOnDate(ctx, offeringID, classDate)
}

func (t *sqlOfferingTx) CountPresentUpTo(ctx context.Context, enrollmentID string, upTo time.Time) (int, error) {
	return t.attendance.CountPresentUpTo(ctx, enrollmentID, upTo)
}

func (t *sqlOfferingTx) CountDistinctDatesUpTo(ctx context.Context, offeringID string, upTo time.Time) (int, error) {
	return t.attendance.CountDistinctDatesUpTo(ctx, offeringID, upTo)
}

func (t *sqlOfferingTx) EarliestClassDate(ctx context.Context, offeringID string) (*time.Time, error) {
	return t.attendance.EarliestClassDate(ctx, offeringID)
}

func (t *sqlOfferingTx) SaveSummary(ctx context.Context, summary *models.AttendanceSummary) error {
	return t.summaries.Save(ctx, summary)
}

// ErrOfferingNotLocked is returned when a write targets an offering outside the held locks.
var ErrOfferingNotLocked = errors.New("offering not locked")

func errNotLocked(id string) error {
	return fmt.Errorf("%w: %s", ErrOfferingNotLocked, id)
}

// LockOrder deduplicates offering ids and sorts them into lock acquisition order.
func LockOrder(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
