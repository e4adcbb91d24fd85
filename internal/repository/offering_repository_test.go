package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

var offeringCols = []string{"id", "course_id", "name", "max_seats", "status", "start_date", "end_date", "schedule_text", "city", "created_at", "updated_at"}

func TestOfferingRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewOfferingRepository(db)

	now := time.Now()
	start := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + offeringColumns + " FROM offerings WHERE id = $1")).
		WithArgs("off-1").
		WillReturnRows(sqlmock.NewRows(offeringCols).
			AddRow("off-1", "course-1", "Evening", 12, models.OfferingStatusOpen, start, nil, "Lunes y Miércoles", "Rosario", now, now))

	offering, err := repo.FindByID(context.Background(), "off-1")
	require.NoError(t, err)
	assert.Equal(t, 12, offering.MaxSeats)
	require.NotNil(t, offering.City)
	assert.Equal(t, "Rosario", *offering.City)
	assert.Nil(t, offering.EndDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOfferingRepositoryCreateAndUpdate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewOfferingRepository(db)

	mock.ExpectExec("INSERT INTO offerings").
		WithArgs(sqlmock.AnyArg(), "course-1", "Evening", 10, models.OfferingStatusOpen, nil, nil, "martes", nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	offering := &models.Offering{CourseID: "course-1", Name: "Evening", MaxSeats: 10, ScheduleText: "martes"}
	require.NoError(t, repo.Create(context.Background(), offering))
	assert.NotEmpty(t, offering.ID)
	assert.Equal(t, models.OfferingStatusOpen, offering.Status)

	mock.ExpectExec("UPDATE offerings SET name = ").
		WithArgs("Evening", 8, models.OfferingStatusClosed, nil, nil, "martes", nil, sqlmock.AnyArg(), offering.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	offering.MaxSeats = 8
	offering.Status = models.OfferingStatusClosed
	require.NoError(t, repo.Update(context.Background(), offering))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOfferingRepositoryListOverdueAndFinish(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewOfferingRepository(db)

	now := time.Now()
	today := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 2, 27, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM offerings WHERE end_date IS NOT NULL AND end_date < $1 AND status <> $2 ORDER BY end_date, id")).
		WithArgs(today, models.OfferingStatusFinished).
		WillReturnRows(sqlmock.NewRows(offeringCols).
			AddRow("off-1", "course-1", "Evening", 12, models.OfferingStatusInProgress, nil, end, "lunes", nil, now, now))

	overdue, err := repo.ListOverdue(context.Background(), today)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "off-1", overdue[0].ID)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE offerings SET status = $2, updated_at = $3 WHERE id = $1 AND status <> $2")).
		WithArgs("off-1", models.OfferingStatusFinished, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	changed, err := repo.MarkFinished(context.Background(), "off-1")
	require.NoError(t, err)
	assert.True(t, changed)

	mock.ExpectExec("UPDATE offerings SET status").
		WithArgs("off-1", models.OfferingStatusFinished, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	changed, err = repo.MarkFinished(context.Background(), "off-1")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
