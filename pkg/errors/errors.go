package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors by code so cloned errors still compare equal to their template.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Enrollment and attendance failures surfaced to callers.
var (
	ErrClosedForEnrollment         = New("CLOSED_FOR_ENROLLMENT", http.StatusConflict, "offering is not accepting enrollments")
	ErrDuplicateEnrollment         = New("DUPLICATE_ENROLLMENT", http.StatusConflict, "student already enrolled in offering")
	ErrOverlappingCourseEnrollment = New("OVERLAPPING_COURSE_ENROLLMENT", http.StatusConflict, "student already enrolled in an overlapping offering of the same course")
	ErrAgeOutOfRange               = New("AGE_OUT_OF_RANGE", http.StatusUnprocessableEntity, "student age outside course range")
	ErrUnschedulableOffering       = New("UNSCHEDULABLE_OFFERING", http.StatusUnprocessableEntity, "schedule text does not name any weekday")
	ErrAttendanceDateInvalid       = New("ATTENDANCE_DATE_INVALID", http.StatusUnprocessableEntity, "attendance date is not a scheduled class date")
	ErrEnrollmentNotCancellable    = New("ENROLLMENT_NOT_CANCELLABLE", http.StatusConflict, "enrollment cannot be cancelled")
	ErrEnrollmentNotConfirmable    = New("ENROLLMENT_NOT_CONFIRMABLE", http.StatusConflict, "enrollment cannot be confirmed")
	ErrIllegalTransition           = New("ILLEGAL_TRANSITION", http.StatusConflict, "illegal enrollment transition")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
