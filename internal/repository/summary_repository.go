package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

// SummaryRepository stores derived attendance summaries.
type SummaryRepository struct {
	db sqlx.ExtContext
}

// NewSummaryRepository constructs the repository.
func NewSummaryRepository(db sqlx.ExtContext) *SummaryRepository {
	return &SummaryRepository{db: db}
}

// FindByEnrollment returns the stored summary of an enrollment.
func (r *SummaryRepository) FindByEnrollment(ctx context.Context, enrollmentID string) (*models.AttendanceSummary, error) {
	const query = `SELECT enrollment_id, offering_id, total_scheduled, attended_count, percentage, certificate_eligible, final_total_scheduled, computed_at
        FROM attendance_summaries WHERE enrollment_id = $1`
	var summary models.AttendanceSummary
	if err := sqlx.GetContext(ctx, r.db, &summary, query, enrollmentID); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Save upserts a summary row.
func (r *SummaryRepository) Save(ctx context.Context, summary *models.AttendanceSummary) error {
	const query = `INSERT INTO attendance_summaries (enrollment_id, offering_id, total_scheduled, attended_count, percentage, certificate_eligible, final_total_scheduled, computed_at)
VALUES (:enrollment_id, :offering_id, :total_scheduled, :attended_count, :percentage, :certificate_eligible, :final_total_scheduled, :computed_at)
ON CONFLICT (enrollment_id) DO UPDATE SET offering_id = EXCLUDED.offering_id, total_scheduled = EXCLUDED.total_scheduled,
    attended_count = EXCLUDED.attended_count, percentage = EXCLUDED.percentage, certificate_eligible = EXCLUDED.certificate_eligible,
    final_total_scheduled = EXCLUDED.final_total_scheduled, computed_at = EXCLUDED.computed_at`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, summary); err != nil {
		return fmt.Errorf("save attendance summary: %w", err)
	}
	return nil
}
