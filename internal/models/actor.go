package models

// ActorRole represents who is invoking an enrollment operation.
type ActorRole string

const (
	ActorAdmin     ActorRole = "ADMIN"
	ActorFrontDesk ActorRole = "FRONT_DESK"
	ActorTeacher   ActorRole = "TEACHER"
	ActorStudent   ActorRole = "STUDENT"
	ActorSystem    ActorRole = "SYSTEM"
)

// Actor is the capability passed explicitly into every core operation.
// A non-nil City restricts staff to offerings located in that city.
type Actor struct {
	UserID string    `json:"user_id"`
	Role   ActorRole `json:"role"`
	City   *string   `json:"city,omitempty"`
}

// SystemActor is used by background jobs.
func SystemActor() Actor {
	return Actor{UserID: "system", Role: ActorSystem}
}

// CanAdminister reports whether the actor may run override operations.
func (a Actor) CanAdminister() bool {
	return a.Role == ActorAdmin || a.Role == ActorFrontDesk || a.Role == ActorSystem
}

// CanTakeAttendance reports whether the actor may write attendance.
func (a Actor) CanTakeAttendance() bool {
	return a.CanAdminister() || a.Role == ActorTeacher
}

// CanActFor reports whether the actor may act on behalf of studentID.
func (a Actor) CanActFor(studentID string) bool {
	if a.Role == ActorStudent {
		return a.UserID == studentID
	}
	return a.CanAdminister()
}

// InScope reports whether the offering falls inside the actor's scope.
func (a Actor) InScope(o Offering) bool {
	if a.City == nil || a.Role == ActorAdmin || a.Role == ActorSystem {
		return true
	}
	return o.InCity(*a.City)
}
