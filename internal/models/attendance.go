package models

import "time"

// AttendanceRecord is one taken-class outcome for one enrollment.
type AttendanceRecord struct {
	ID           string    `db:"id" json:"id"`
	EnrollmentID string    `db:"enrollment_id" json:"enrollment_id"`
	ClassDate    time.Time `db:"class_date" json:"class_date"`
	Present      bool      `db:"present" json:"present"`
	Notes        *string   `db:"notes" json:"notes,omitempty"`
	RecordedBy   *string   `db:"recorded_by" json:"recorded_by,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// AttendanceSummary is the derived aggregate for one enrollment.
type AttendanceSummary struct {
	EnrollmentID        string    `db:"enrollment_id" json:"enrollment_id"`
	OfferingID          string    `db:"offering_id" json:"offering_id"`
	TotalScheduled      int       `db:"total_scheduled" json:"total_scheduled"`
	AttendedCount       int       `db:"attended_count" json:"attended_count"`
	Percentage          float64   `db:"percentage" json:"percentage"`
	CertificateEligible bool      `db:"certificate_eligible" json:"certificate_eligible"`
	FinalTotalScheduled *int      `db:"final_total_scheduled" json:"final_total_scheduled,omitempty"`
	ComputedAt          time.Time `db:"computed_at" json:"computed_at"`
}

// AttendanceResult is returned from attendance writes.
type AttendanceResult struct {
	Record   *AttendanceRecord  `json:"record,omitempty"`
	Summary  *AttendanceSummary `json:"summary"`
	Cascaded int                `json:"cascaded"`
}
