package memory

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

// OfferingRepository is the in-memory offering table.
type OfferingRepository struct{ s *Store }

// NewOfferingRepository constructs the repository.
func NewOfferingRepository(s *Store) *OfferingRepository { return &OfferingRepository{s: s} }

func (r *OfferingRepository) FindByID(ctx context.Context, id string) (*models.Offering, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.offerings[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := *o
	return &out, nil
}

func (r *OfferingRepository) Create(ctx context.Context, offering *models.Offering) error {
	if offering.ID == "" {
		offering.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if offering.CreatedAt.IsZero() {
		offering.CreatedAt = now
	}
	offering.UpdatedAt = now
	if offering.Status == "" {
		offering.Status = models.OfferingStatusOpen
	}
	r.s.PutOffering(*offering)
	return nil
}

func (r *OfferingRepository) Update(ctx context.Context, offering *models.Offering) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.offerings[offering.ID]; !ok {
		return sql.ErrNoRows
	}
	offering.UpdatedAt = time.Now().UTC()
	out := *offering
	r.s.offerings[offering.ID] = &out
	return nil
}

func (r *OfferingRepository) ListOverdue(ctx context.Context, today time.Time) ([]models.Offering, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var result []models.Offering
	for _, o := range r.s.offerings {
		if o.EndDate != nil && o.EndDate.Before(today) && o.Status != models.OfferingStatusFinished {
			result = append(result, *o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *OfferingRepository) MarkFinished(ctx context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.offerings[id]
	if !ok {
		return false, sql.ErrNoRows
	}
	if o.Status == models.OfferingStatusFinished {
		return false, nil
	}
	o.Status = models.OfferingStatusFinished
	o.UpdatedAt = time.Now().UTC()
	return true, nil
}

// CourseRepository is the in-memory course table.
type CourseRepository struct{ s *Store }

// NewCourseRepository constructs the repository.
func NewCourseRepository(s *Store) *CourseRepository { return &CourseRepository{s: s} }

func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := *c
	return &out, nil
}

// PersonRepository is the in-memory person directory.
type PersonRepository struct{ s *Store }

// NewPersonRepository constructs the repository.
func NewPersonRepository(s *Store) *PersonRepository { return &PersonRepository{s: s} }

func (r *PersonRepository) FindByID(ctx context.Context, id string) (*models.Person, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.people[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := *p
	out.Roles = append([]models.PersonRole(nil), p.Roles...)
	return &out, nil
}

// EnrollmentRepository is the in-memory enrollment table.
type EnrollmentRepository struct{ s *Store }

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(s *Store) *EnrollmentRepository { return &EnrollmentRepository{s: s} }

func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneEnrollment(e), nil
}

func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var matched []models.EnrollmentDetail
	for _, e := range r.s.enrollments {
		if filter.StudentID != "" && e.StudentID != filter.StudentID {
			continue
		}
		if filter.OfferingID != "" && e.OfferingID != filter.OfferingID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		offering := r.s.offerings[e.OfferingID]
		if filter.City != nil && (offering == nil || !offering.InCity(*filter.City)) {
			continue
		}
		detail := models.EnrollmentDetail{Enrollment: *cloneEnrollment(e)}
		if offering != nil {
			detail.OfferingName = offering.Name
			detail.CourseID = offering.CourseID
		}
		if p, ok := r.s.people[e.StudentID]; ok {
			detail.StudentName = p.FullName
		}
		matched = append(matched, detail)
	}
	desc := !strings.EqualFold(filter.SortOrder, "ASC")
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if desc {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	total := len(matched)
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	start := (page - 1) * size
	if start >= total {
		return []models.EnrollmentDetail{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *EnrollmentRepository) ListActiveByStudentAndCourse(ctx context.Context, studentID, courseID string) ([]models.CourseEnrollment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var result []models.CourseEnrollment
	for _, e := range r.s.enrollments {
		if e.StudentID != studentID || e.Status == models.EnrollmentStatusCancelled {
			continue
		}
		o, ok := r.s.offerings[e.OfferingID]
		if !ok || o.CourseID != courseID {
			continue
		}
		result = append(result, models.CourseEnrollment{Enrollment: *cloneEnrollment(e), Offering: *o})
	}
	return result, nil
}

func (r *EnrollmentRepository) ListConfirmedWithoutSummary(ctx context.Context) ([]models.Enrollment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var result []models.Enrollment
	for _, e := range r.s.enrollments {
		if e.Status != models.EnrollmentStatusConfirmed {
			continue
		}
		if _, ok := r.s.summaries[e.ID]; ok {
			continue
		}
		result = append(result, *cloneEnrollment(e))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].OfferingID != result[j].OfferingID {
			return result[i].OfferingID < result[j].OfferingID
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// AttendanceRepository is the in-memory attendance table.
type AttendanceRepository struct{ s *Store }

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(s *Store) *AttendanceRepository { return &AttendanceRepository{s: s} }

func (r *AttendanceRepository) FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.attendance[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := *rec
	return &out, nil
}

func (r *AttendanceRepository) EarliestClassDate(ctx context.Context, offeringID string) (*time.Time, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.earliestClassDate(offeringID), nil
}

// SummaryRepository is the in-memory summary table.
type SummaryRepository struct{ s *Store }

// NewSummaryRepository constructs the repository.
func NewSummaryRepository(s *Store) *SummaryRepository { return &SummaryRepository{s: s} }

func (r *SummaryRepository) FindByEnrollment(ctx context.Context, enrollmentID string) (*models.AttendanceSummary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	summary, ok := r.s.summaries[enrollmentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := *summary
	return &out, nil
}
