package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/calendar"
	"github.com/noah-isme/course-enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

type offeringLocker interface {
	WithinOffering(ctx context.Context, offeringID string, fn func(ctx context.Context, tx repository.OfferingTx) error) error
	WithinOfferings(ctx context.Context, offeringIDs []string, fn func(ctx context.Context, tx repository.OfferingTx) error) error
}

// clock yields "today" in the configured location as a UTC calendar day.
type clock struct {
	now func() time.Time
	loc *time.Location
}

func newClock(loc *time.Location) clock {
	if loc == nil {
		loc = time.UTC
	}
	return clock{now: time.Now, loc: loc}
}

func (c clock) today() time.Time {
	return calendar.Day(c.now().In(c.loc))
}

// retryOnConflict runs fn and retries it once when the locked section lost a race.
func retryOnConflict(ctx context.Context, op string, logger *zap.Logger, metrics *MetricsService, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if !errors.Is(err, repository.ErrConcurrentUpdate) {
		return err
	}
	metrics.ObserveLockRetry(op)
	logger.Info("retrying after concurrent update", zap.String("op", op), zap.Error(err))
	err = fn(ctx)
	if errors.Is(err, repository.ErrConcurrentUpdate) {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "concurrent update, please retry")
	}
	return err
}

// mapRepoError converts repository failures into typed errors, passing typed ones through.
func mapRepoError(err error, notFound, internal string) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	case errors.Is(err, repository.ErrDuplicateEnrollment):
		return appErrors.Wrap(err, appErrors.ErrDuplicateEnrollment.Code, appErrors.ErrDuplicateEnrollment.Status, appErrors.ErrDuplicateEnrollment.Message)
	case errors.Is(err, repository.ErrConcurrentUpdate):
		return err
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
	}
}

func intPtr(v int) *int {
	return &v
}
