package memory

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

// Seed is the catalog loaded into a fresh store for local runs.
type Seed struct {
	Courses   []models.Course   `json:"courses"`
	People    []models.Person   `json:"people"`
	Offerings []models.Offering `json:"offerings"`
}

// LoadSeed decodes a JSON seed from r into the store.
func LoadSeed(s *Store, r io.Reader) error {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}
	for _, c := range seed.Courses {
		s.PutCourse(c)
	}
	for _, p := range seed.People {
		s.PutPerson(p)
	}
	for _, o := range seed.Offerings {
		if o.CourseID == "" || o.ID == "" {
			return fmt.Errorf("seed offering %q: id and course_id are required", o.Name)
		}
		s.PutOffering(o)
	}
	return nil
}
