package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

const enrollmentColumns = `id, student_id, offering_id, status, waitlist_rank, notes, created_at, updated_at`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db sqlx.ExtContext
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db sqlx.ExtContext) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN people p ON p.id = e.student_id
JOIN offerings o ON o.id = e.offering_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.OfferingID != "" {
		conditions = append(conditions, fmt.Sprintf("e.offering_id = $%d", len(args)+1))
		args = append(args, filter.OfferingID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.City != nil {
		conditions = append(conditions, fmt.Sprintf("LOWER(o.city) = LOWER($%d)", len(args)+1))
		args = append(args, *filter.City)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":    "e.created_at",
		"student_name":  "p.full_name",
		"waitlist_rank": "e.waitlist_rank",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.offering_id, e.status, e.waitlist_rank, e.notes, e.created_at, e.updated_at,
        COALESCE(p.full_name, '') AS student_name, o.name AS offering_name, o.course_id
        %s ORDER BY %s %s, e.id LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := sqlx.SelectContext(ctx, r.db, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, r.db, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

type courseEnrollmentRow struct {
	models.Enrollment
	OfferingCourseID  string     `db:"o_course_id"`
	OfferingStartDate *time.Time `db:"o_start_date"`
	OfferingEndDate   *time.Time `db:"o_end_date"`
	OfferingName      string     `db:"o_name"`
}

// ListActiveByStudentAndCourse returns the student's non-cancelled enrollments in any offering of the course.
func (r *EnrollmentRepository) ListActiveByStudentAndCourse(ctx context.Context, studentID, courseID string) ([]models.CourseEnrollment, error) {
	const query = `SELECT e.id, e.student_id, e.offering_id, e.status, e.waitlist_rank, e.notes, e.created_at, e.updated_at,
        o.course_id AS o_course_id, o.start_date AS o_start_date, o.end_date AS o_end_date, o.name AS o_name
        FROM enrollments e JOIN offerings o ON o.id = e.offering_id
        WHERE e.student_id = $1 AND o.course_id = $2 AND e.status <> $3`
	var rows []courseEnrollmentRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, studentID, courseID, models.EnrollmentStatusCancelled); err != nil {
		return nil, fmt.Errorf("list student course enrollments: %w", err)
	}
	result := make([]models.CourseEnrollment, 0, len(rows))
	for _, row := range rows {
		result = append(result, models.CourseEnrollment{
			Enrollment: row.Enrollment,
			Offering: models.Offering{
				ID:        row.OfferingID,
				CourseID:  row.OfferingCourseID,
				Name:      row.OfferingName,
				StartDate: row.OfferingStartDate,
				EndDate:   row.OfferingEndDate,
			},
		})
	}
	return result, nil
}

// ListByOffering returns every enrollment of an offering ordered by creation then id.
func (r *EnrollmentRepository) ListByOffering(ctx context.Context, offeringID string) ([]models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE offering_id = $1 ORDER BY created_at, id`
	var enrollments []models.Enrollment
	if err := sqlx.SelectContext(ctx, r.db, &enrollments, query, offeringID); err != nil {
		return nil, fmt.Errorf("list offering roster: %w", err)
	}
	return enrollments, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now
	const query = `INSERT INTO enrollments (id, student_id, offering_id, status, waitlist_rank, notes, created_at, updated_at)
        VALUES (:id, :student_id, :offering_id, :status, :waitlist_rank, :notes, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", classify(err))
	}
	return nil
}

// Save updates placement attributes of an enrollment.
func (r *EnrollmentRepository) Save(ctx context.Context, enrollment *models.Enrollment) error {
	enrollment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE enrollments SET offering_id = $2, status = $3, waitlist_rank = $4, notes = $5, updated_at = $6 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, enrollment.ID, enrollment.OfferingID, enrollment.Status, enrollment.WaitlistRank, enrollment.Notes, enrollment.UpdatedAt); err != nil {
		return fmt.Errorf("update enrollment: %w", classify(err))
	}
	return nil
}

// ListConfirmedWithoutSummary returns confirmed enrollments lacking a summary row.
func (r *EnrollmentRepository) ListConfirmedWithoutSummary(ctx context.Context) ([]models.Enrollment, error) {
	const query = `SELECT e.id, e.student_id, e.offering_id, e.status, e.waitlist_rank, e.notes, e.created_at, e.updated_at
        FROM enrollments e LEFT JOIN attendance_summaries s ON s.enrollment_id = e.id
        WHERE e.status = $1 AND s.enrollment_id IS NULL ORDER BY e.offering_id, e.id`
	var enrollments []models.Enrollment
	if err := sqlx.SelectContext(ctx, r.db, &enrollments, query, models.EnrollmentStatusConfirmed); err != nil {
		return nil, fmt.Errorf("list enrollments missing summary: %w", err)
	}
	return enrollments, nil
}
