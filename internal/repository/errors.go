package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrConcurrentUpdate signals that a locked section lost a race and may be retried.
	ErrConcurrentUpdate = errors.New("concurrent update")
	// ErrDuplicateEnrollment signals a (student, offering) uniqueness violation.
	ErrDuplicateEnrollment = errors.New("duplicate enrollment")
)

const (
	constraintStudentOffering = "enrollments_student_offering_active_key"
	constraintWaitlistRank    = "enrollments_waitlist_rank_key"
)

// classify maps PostgreSQL conflicts onto repository sentinels.
func classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "40001", "40P01", "55P03":
		return errors.Join(ErrConcurrentUpdate, err)
	case "23505", "23P01":
		switch pqErr.Constraint {
		case constraintStudentOffering:
			return errors.Join(ErrDuplicateEnrollment, err)
		case constraintWaitlistRank:
			return errors.Join(ErrConcurrentUpdate, err)
		}
	}
	return err
}
