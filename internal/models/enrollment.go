package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPreRegistered EnrollmentStatus = "PRE_REGISTERED"
	EnrollmentStatusConfirmed     EnrollmentStatus = "CONFIRMED"
	EnrollmentStatusWaitlisted    EnrollmentStatus = "WAITLISTED"
	EnrollmentStatusCancelled     EnrollmentStatus = "CANCELLED"
	EnrollmentStatusRejected      EnrollmentStatus = "REJECTED"
)

var enrollmentTransitions = map[EnrollmentStatus][]EnrollmentStatus{
	EnrollmentStatusPreRegistered: {EnrollmentStatusConfirmed, EnrollmentStatusWaitlisted, EnrollmentStatusCancelled, EnrollmentStatusRejected},
	EnrollmentStatusWaitlisted:    {EnrollmentStatusConfirmed, EnrollmentStatusCancelled},
	EnrollmentStatusConfirmed:     {EnrollmentStatusCancelled},
}

// Valid returns true when the status is a supported value.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentStatusPreRegistered, EnrollmentStatusConfirmed, EnrollmentStatusWaitlisted, EnrollmentStatusCancelled, EnrollmentStatusRejected:
		return true
	default:
		return false
	}
}

// CountsTowardCapacity reports whether the status holds a seat.
func (s EnrollmentStatus) CountsTowardCapacity() bool {
	return s == EnrollmentStatusConfirmed || s == EnrollmentStatusPreRegistered
}

// Terminal reports whether no transition may leave the status.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentStatusCancelled || s == EnrollmentStatusRejected
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s EnrollmentStatus) CanTransitionTo(next EnrollmentStatus) bool {
	for _, candidate := range enrollmentTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Enrollment links one student to one offering.
type Enrollment struct {
	ID           string           `db:"id" json:"id"`
	StudentID    string           `db:"student_id" json:"student_id"`
	OfferingID   string           `db:"offering_id" json:"offering_id"`
	Status       EnrollmentStatus `db:"status" json:"status"`
	WaitlistRank *int             `db:"waitlist_rank" json:"waitlist_rank,omitempty"`
	Notes        *string          `db:"notes" json:"notes,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student and offering info.
type EnrollmentDetail struct {
	Enrollment
	StudentName  string `db:"student_name" json:"student_name"`
	OfferingName string `db:"offering_name" json:"offering_name"`
	CourseID     string `db:"course_id" json:"course_id"`
}

// CourseEnrollment pairs an enrollment with the offering it belongs to.
type CourseEnrollment struct {
	Enrollment Enrollment
	Offering   Offering
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID  string
	OfferingID string
	Status     EnrollmentStatus
	City       *string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
