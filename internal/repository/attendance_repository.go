package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

// AttendanceRepository persists per-enrollment class attendance.
type AttendanceRepository struct {
	db sqlx.ExtContext
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db sqlx.ExtContext) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// FindByID returns a single attendance record.
func (r *AttendanceRepository) FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	const query = `SELECT id, enrollment_id, class_date, present, notes, recorded_by, created_at, updated_at FROM attendance_records WHERE id = $1`
	var record models.AttendanceRecord
	if err := sqlx.GetContext(ctx, r.db, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert inserts or updates the row keyed by (enrollment_id, class_date).
// It reports whether a new row was inserted.
func (r *AttendanceRepository) Upsert(ctx context.Context, record *models.AttendanceRecord) (bool, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	const query = `INSERT INTO attendance_records (id, enrollment_id, class_date, present, notes, recorded_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (enrollment_id, class_date) DO UPDATE SET present = EXCLUDED.present, notes = EXCLUDED.notes,
    recorded_by = EXCLUDED.recorded_by, updated_at = EXCLUDED.updated_at
RETURNING id, created_at, (xmax = 0) AS inserted`
	var row struct {
		ID        string    `db:"id"`
		CreatedAt time.Time `db:"created_at"`
		Inserted  bool      `db:"inserted"`
	}
	if err := sqlx.GetContext(ctx, r.db, &row, query, record.ID, record.EnrollmentID, record.ClassDate, record.Present, record.Notes, record.RecordedBy, record.CreatedAt, record.UpdatedAt); err != nil {
		return false, fmt.Errorf("upsert attendance: %w", classify(err))
	}
	record.ID = row.ID
	record.CreatedAt = row.CreatedAt
	return row.Inserted, nil
}

// Delete removes an attendance record.
func (r *AttendanceRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM attendance_records WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete attendance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete attendance rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountOnDate counts rows across the offering for one class date.
func (r *AttendanceRepository) CountOnDate(ctx context.Context, offeringID string, classDate time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM attendance_records a JOIN enrollments e ON e.id = a.enrollment_id
        WHERE e.offering_id = $1 AND a.class_date = $2`
	var count int
	if err := sqlx.GetContext(ctx, r.db, &count, query, offeringID, classDate); err != nil {
		return 0, fmt.Errorf("count attendance on date: %w", err)
	}
	return count, nil
}

// CountPresentUpTo counts present rows for an enrollment on or before upTo.
func (r *AttendanceRepository) CountPresentUpTo(ctx context.Context, enrollmentID string, upTo time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM attendance_records WHERE enrollment_id = $1 AND present = TRUE AND class_date <= $2`
	var count int
	if err := sqlx.GetContext(ctx, r.db, &count, query, enrollmentID, upTo); err != nil {
		return 0, fmt.Errorf("count present attendance: %w", err)
	}
	return count, nil
}

// CountDistinctDatesUpTo counts class dates taken by anyone in the offering on or before upTo.
func (r *AttendanceRepository) CountDistinctDatesUpTo(ctx context.Context, offeringID string, upTo time.Time) (int, error) {
	const query = `SELECT COUNT(DISTINCT a.class_date) FROM attendance_records a JOIN enrollments e ON e.id = a.enrollment_id
        WHERE e.offering_id = $1 AND a.class_date <= $2`
	var count int
	if err := sqlx.GetContext(ctx, r.db, &count, query, offeringID, upTo); err != nil {
		return 0, fmt.Errorf("count offering class dates: %w", err)
	}
	return count, nil
}

// EarliestClassDate returns the first recorded class date of the offering, if any.
func (r *AttendanceRepository) EarliestClassDate(ctx context.Context, offeringID string) (*time.Time, error) {
	const query = `SELECT MIN(a.class_date) FROM attendance_records a JOIN enrollments e ON e.id = a.enrollment_id WHERE e.offering_id = $1`
	var earliest sql.NullTime
	if err := sqlx.GetContext(ctx, r.db, &earliest, query, offeringID); err != nil {
		return nil, fmt.Errorf("earliest class date: %w", err)
	}
	if !earliest.Valid {
		return nil, nil
	}
	day := earliest.Time.UTC()
	return &day, nil
}
