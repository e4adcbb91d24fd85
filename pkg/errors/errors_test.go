package errors

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneMatchesTemplateByCode(t *testing.T) {
	err := Clone(ErrDuplicateEnrollment, "student stu-1 already enrolled")
	wrapped := fmt.Errorf("register: %w", err)

	assert.True(t, errors.Is(wrapped, ErrDuplicateEnrollment))
	assert.False(t, errors.Is(wrapped, ErrConflict))
	assert.Equal(t, "student stu-1 already enrolled", err.Message)
	assert.Equal(t, "student already enrolled in offering", ErrDuplicateEnrollment.Message)
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	appErr := FromError(fmt.Errorf("outer: %w", ErrAgeOutOfRange))
	assert.Equal(t, http.StatusUnprocessableEntity, appErr.Status)

	internal := FromError(sql.ErrConnDone)
	assert.Equal(t, ErrInternal.Code, internal.Code)
	assert.ErrorIs(t, internal, sql.ErrConnDone)
}
