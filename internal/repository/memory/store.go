// Package memory provides in-process implementations of the repositories for
// local runs and service tests.
package memory

import (
	"sync"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

// Store holds every table in maps guarded by a single RWMutex. Offering-level
// serialization is provided separately by per-offering mutexes.
type Store struct {
	mu          sync.RWMutex
	offerings   map[string]*models.Offering
	courses     map[string]*models.Course
	people      map[string]*models.Person
	enrollments map[string]*models.Enrollment
	attendance  map[string]*models.AttendanceRecord
	summaries   map[string]*models.AttendanceSummary

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		offerings:   make(map[string]*models.Offering),
		courses:     make(map[string]*models.Course),
		people:      make(map[string]*models.Person),
		enrollments: make(map[string]*models.Enrollment),
		attendance:  make(map[string]*models.AttendanceRecord),
		summaries:   make(map[string]*models.AttendanceSummary),
		locks:       make(map[string]*sync.Mutex),
	}
}

func (s *Store) offeringLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// PutCourse seeds a course.
func (s *Store) PutCourse(c models.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[c.ID] = &c
}

// PutPerson seeds a person.
func (s *Store) PutPerson(p models.Person) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Roles = append([]models.PersonRole(nil), p.Roles...)
	s.people[p.ID] = &p
}

// PutOffering seeds an offering without going through validation.
func (s *Store) PutOffering(o models.Offering) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offerings[o.ID] = &o
}

// PutEnrollment seeds an enrollment without placement.
func (s *Store) PutEnrollment(e models.Enrollment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrollments[e.ID] = cloneEnrollment(&e)
}

func cloneEnrollment(e *models.Enrollment) *models.Enrollment {
	c := *e
	if e.WaitlistRank != nil {
		rank := *e.WaitlistRank
		c.WaitlistRank = &rank
	}
	return &c
}
