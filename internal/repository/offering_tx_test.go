package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

func TestLockOrder(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, LockOrder([]string{"c", "a", "", "b", "a"}))
	assert.Empty(t, LockOrder(nil))
}

func TestOfferingLockerCommits(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	locker := NewOfferingLocker(db, 2*time.Second)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout = '2000ms'")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM offerings WHERE id = ANY($1) ORDER BY id FOR UPDATE")).
		WithArgs(pq.Array([]string{"off-1", "off-2"})).
		WillReturnRows(sqlmock.NewRows(offeringCols).
			AddRow("off-1", "course-1", "A", 1, models.OfferingStatusOpen, nil, nil, "lunes", nil, now, now).
			AddRow("off-2", "course-1", "B", 1, models.OfferingStatusOpen, nil, nil, "martes", nil, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE offering_id = $1 ORDER BY created_at, id")).
		WithArgs("off-2").
		WillReturnRows(sqlmock.NewRows(enrollmentCols))
	mock.ExpectCommit()

	err := locker.WithinOfferings(context.Background(), []string{"off-2", "off-1", "off-2"}, func(ctx context.Context, tx OfferingTx) error {
		offering, ok := tx.Offering("off-1")
		require.True(t, ok)
		assert.Equal(t, "A", offering.Name)
		roster, err := tx.Roster(ctx, "off-2")
		require.NoError(t, err)
		assert.Empty(t, roster)

		_, err = tx.Roster(ctx, "off-3")
		assert.ErrorIs(t, err, ErrOfferingNotLocked)
		err = tx.SaveEnrollment(ctx, &models.Enrollment{ID: "enr-1", OfferingID: "off-3"})
		assert.ErrorIs(t, err, ErrOfferingNotLocked)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOfferingLockerRollsBack(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	locker := NewOfferingLocker(db, 0)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(pq.Array([]string{"off-1"})).
		WillReturnRows(sqlmock.NewRows(offeringCols).
			AddRow("off-1", "course-1", "A", 1, models.OfferingStatusOpen, nil, nil, "lunes", nil, now, now))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := locker.WithinOffering(context.Background(), "off-1", func(ctx context.Context, tx OfferingTx) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOfferingLockerMissingOffering(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	locker := NewOfferingLocker(db, 0)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(pq.Array([]string{"missing"})).
		WillReturnRows(sqlmock.NewRows(offeringCols))
	mock.ExpectRollback()

	called := false
	err := locker.WithinOffering(context.Background(), "missing", func(ctx context.Context, tx OfferingTx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOfferingLockerMapsLockTimeout(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	locker := NewOfferingLocker(db, 0)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(pq.Array([]string{"off-1"})).
		WillReturnError(&pq.Error{Code: "55P03"})
	mock.ExpectRollback()

	err := locker.WithinOffering(context.Background(), "off-1", func(ctx context.Context, tx OfferingTx) error { return nil })
	assert.ErrorIs(t, err, ErrConcurrentUpdate)
	assert.NoError(t, mock.ExpectationsWereMet())
}
