package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

// PersonRepository reads the shared person directory.
type PersonRepository struct {
	db sqlx.ExtContext
}

// NewPersonRepository constructs the repository.
func NewPersonRepository(db sqlx.ExtContext) *PersonRepository {
	return &PersonRepository{db: db}
}

type personRow struct {
	ID        string         `db:"id"`
	FullName  string         `db:"full_name"`
	BirthDate *time.Time     `db:"birth_date"`
	City      *string        `db:"city"`
	Roles     pq.StringArray `db:"roles"`
}

// FindByID returns a person with their role set.
func (r *PersonRepository) FindByID(ctx context.Context, id string) (*models.Person, error) {
	const query = `SELECT id, full_name, birth_date, city, roles FROM people WHERE id = $1`
	var row personRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, id); err != nil {
		return nil, err
	}
	person := &models.Person{ID: row.ID, FullName: row.FullName, BirthDate: row.BirthDate, City: row.City}
	for _, role := range row.Roles {
		person.Roles = append(person.Roles, models.PersonRole(role))
	}
	return person, nil
}
