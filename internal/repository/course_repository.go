package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

// CourseRepository reads the course catalog.
type CourseRepository struct {
	db sqlx.ExtContext
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db sqlx.ExtContext) *CourseRepository {
	return &CourseRepository{db: db}
}

// FindByID returns a course by its ID.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, name, min_age, max_age, created_at FROM courses WHERE id = $1`
	var course models.Course
	if err := sqlx.GetContext(ctx, r.db, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}
