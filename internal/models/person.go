package models

import "time"

// PersonRole tags the capacities a single person identity holds.
type PersonRole string

const (
	PersonRoleStudent   PersonRole = "STUDENT"
	PersonRoleTeacher   PersonRole = "TEACHER"
	PersonRoleAdmin     PersonRole = "ADMIN"
	PersonRoleFrontDesk PersonRole = "FRONT_DESK"
	PersonRoleCompany   PersonRole = "COMPANY"
)

// Person is the directory identity shared by students, staff and companies.
type Person struct {
	ID        string       `db:"id" json:"id"`
	FullName  string       `db:"full_name" json:"full_name"`
	BirthDate *time.Time   `db:"birth_date" json:"birth_date,omitempty"`
	City      *string      `db:"city" json:"city,omitempty"`
	Roles     []PersonRole `db:"-" json:"roles"`
}

// HasRole reports whether the person carries role.
func (p Person) HasRole(role PersonRole) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Age returns the person's age in whole years on the given day.
func (p Person) Age(on time.Time) (int, bool) {
	if p.BirthDate == nil {
		return 0, false
	}
	b := *p.BirthDate
	age := on.Year() - b.Year()
	if on.Month() < b.Month() || (on.Month() == b.Month() && on.Day() < b.Day()) {
		age--
	}
	return age, true
}
