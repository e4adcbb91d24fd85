package models

import (
	"strings"
	"time"
)

// OfferingStatus represents whether an offering accepts new enrollments.
type OfferingStatus string

const (
	OfferingStatusOpen       OfferingStatus = "OPEN"
	OfferingStatusClosed     OfferingStatus = "CLOSED"
	OfferingStatusInProgress OfferingStatus = "IN_PROGRESS"
	OfferingStatusFinished   OfferingStatus = "FINISHED"
)

// Valid returns true when the status is a supported value.
func (s OfferingStatus) Valid() bool {
	switch s {
	case OfferingStatusOpen, OfferingStatusClosed, OfferingStatusInProgress, OfferingStatusFinished:
		return true
	default:
		return false
	}
}

// Offering is a scheduled instance of a course with finite capacity.
type Offering struct {
	ID           string         `db:"id" json:"id"`
	CourseID     string         `db:"course_id" json:"course_id"`
	Name         string         `db:"name" json:"name"`
	MaxSeats     int            `db:"max_seats" json:"max_seats"`
	Status       OfferingStatus `db:"status" json:"status"`
	StartDate    *time.Time     `db:"start_date" json:"start_date,omitempty"`
	EndDate      *time.Time     `db:"end_date" json:"end_date,omitempty"`
	ScheduleText string         `db:"schedule_text" json:"schedule_text"`
	City         *string        `db:"city" json:"city,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// AcceptsEnrollment reports whether new placements are allowed.
func (o Offering) AcceptsEnrollment() bool {
	return o.Status != OfferingStatusClosed && o.Status != OfferingStatusFinished
}

// HasDateBounds reports whether either date bound is set.
func (o Offering) HasDateBounds() bool {
	return o.StartDate != nil || o.EndDate != nil
}

// Contains reports whether day lies within the offering's date bounds.
// Missing bounds are treated as open.
func (o Offering) Contains(day time.Time) bool {
	if o.StartDate != nil && day.Before(*o.StartDate) {
		return false
	}
	if o.EndDate != nil && day.After(*o.EndDate) {
		return false
	}
	return true
}

// Overlaps reports whether the two offerings share any day.
// An offering without both bounds overlaps everything.
func (o Offering) Overlaps(other Offering) bool {
	if o.StartDate == nil || o.EndDate == nil || other.StartDate == nil || other.EndDate == nil {
		return true
	}
	return !o.EndDate.Before(*other.StartDate) && !other.EndDate.Before(*o.StartDate)
}

// Ended reports whether the offering's end date is on or before today.
func (o Offering) Ended(today time.Time) bool {
	return o.EndDate != nil && !o.EndDate.After(today)
}

// InCity reports whether the offering is located in city (case-insensitive).
func (o Offering) InCity(city string) bool {
	return o.City != nil && strings.EqualFold(strings.TrimSpace(*o.City), strings.TrimSpace(city))
}

// Course describes the catalog entry an offering instantiates.
type Course struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	MinAge    *int      `db:"min_age" json:"min_age,omitempty"`
	MaxAge    *int      `db:"max_age" json:"max_age,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DeclaresAgeBound reports whether the course restricts student age.
func (c Course) DeclaresAgeBound() bool {
	return c.MinAge != nil || c.MaxAge != nil
}

// AgeAllowed reports whether age falls within the declared range.
func (c Course) AgeAllowed(age int) bool {
	if c.MinAge != nil && age < *c.MinAge {
		return false
	}
	if c.MaxAge != nil && age > *c.MaxAge {
		return false
	}
	return true
}
