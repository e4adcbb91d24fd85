package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

const offeringColumns = `id, course_id, name, max_seats, status, start_date, end_date, schedule_text, city, created_at, updated_at`

// OfferingRepository handles persistence of course offerings.
type OfferingRepository struct {
	db sqlx.ExtContext
}

// NewOfferingRepository constructs the repository.
func NewOfferingRepository(db sqlx.ExtContext) *OfferingRepository {
	return &OfferingRepository{db: db}
}

// FindByID returns an offering by its ID.
func (r *OfferingRepository) FindByID(ctx context.Context, id string) (*models.Offering, error) {
	query := `SELECT ` + offeringColumns + ` FROM offerings WHERE id = $1`
	var offering models.Offering
	if err := sqlx.GetContext(ctx, r.db, &offering, query, id); err != nil {
		return nil, err
	}
	return &offering, nil
}

// Create persists a new offering.
func (r *OfferingRepository) Create(ctx context.Context, offering *models.Offering) error {
	if offering.ID == "" {
		offering.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if offering.CreatedAt.IsZero() {
		offering.CreatedAt = now
	}
	offering.UpdatedAt = now
	if offering.Status == "" {
		offering.Status = models.OfferingStatusOpen
	}
	const query = `INSERT INTO offerings (id, course_id, name, max_seats, status, start_date, end_date, schedule_text, city, created_at, updated_at)
        VALUES (:id, :course_id, :name, :max_seats, :status, :start_date, :end_date, :schedule_text, :city, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, offering); err != nil {
		return fmt.Errorf("create offering: %w", err)
	}
	return nil
}

// Update overwrites the mutable attributes of an offering.
func (r *OfferingRepository) Update(ctx context.Context, offering *models.Offering) error {
	offering.UpdatedAt = time.Now().UTC()
	const query = `UPDATE offerings SET name = :name, max_seats = :max_seats, status = :status, start_date = :start_date,
        end_date = :end_date, schedule_text = :schedule_text, city = :city, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, offering); err != nil {
		return fmt.Errorf("update offering: %w", classify(err))
	}
	return nil
}

// ListOverdue returns unfinished offerings whose end date is before today.
func (r *OfferingRepository) ListOverdue(ctx context.Context, today time.Time) ([]models.Offering, error) {
	query := `SELECT ` + offeringColumns + ` FROM offerings WHERE end_date IS NOT NULL AND end_date < $1 AND status <> $2 ORDER BY end_date, id`
	var offerings []models.Offering
	if err := sqlx.SelectContext(ctx, r.db, &offerings, query, today, models.OfferingStatusFinished); err != nil {
		return nil, fmt.Errorf("list overdue offerings: %w", err)
	}
	return offerings, nil
}

// MarkFinished flips the offering to FINISHED unless it already is.
func (r *OfferingRepository) MarkFinished(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE offerings SET status = $2, updated_at = $3 WHERE id = $1 AND status <> $2`
	res, err := r.db.ExecContext(ctx, query, id, models.OfferingStatusFinished, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("finish offering: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finish offering rows: %w", err)
	}
	return affected > 0, nil
}
