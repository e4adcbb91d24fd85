package service

import (
	"context"
	"time"

	"github.com/noah-isme/course-enrollment-api/internal/calendar"
	"github.com/noah-isme/course-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

type earliestDateReader interface {
	EarliestClassDate(ctx context.Context, offeringID string) (*time.Time, error)
}

// CalendarView is the class calendar of an offering up to a given day.
type CalendarView struct {
	OfferingID    string      `json:"offering_id"`
	ScheduleText  string      `json:"schedule_text"`
	Weekdays      []string    `json:"weekdays"`
	Deterministic bool        `json:"deterministic"`
	From          *time.Time  `json:"from,omitempty"`
	UpTo          time.Time   `json:"up_to"`
	Dates         []time.Time `json:"dates"`
}

// CalendarService exposes the read-only class calendar of offerings.
type CalendarService struct {
	offerings  offeringReader
	attendance earliestDateReader
	clock      clock
}

// NewCalendarService constructs CalendarService.
func NewCalendarService(offerings offeringReader, attendance earliestDateReader, loc *time.Location) *CalendarService {
	return &CalendarService{offerings: offerings, attendance: attendance, clock: newClock(loc)}
}

// ScheduledDates returns the class dates of the offering up to upTo. A nil upTo
// yields the whole term, ending at the offering end date or today when it has none.
func (s *CalendarService) ScheduledDates(ctx context.Context, actor models.Actor, offeringID string, upTo *time.Time) (*CalendarView, error) {
	offering, err := s.offerings.FindByID(ctx, offeringID)
	if err != nil {
		return nil, mapRepoError(err, "offering not found", "failed to load offering")
	}
	if actor.Role != models.ActorStudent && !actor.InScope(*offering) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "offering outside actor scope")
	}

	limit := s.clock.today()
	switch {
	case upTo != nil:
		limit = calendar.Day(*upTo)
	case offering.EndDate != nil:
		limit = calendar.Day(*offering.EndDate)
	}

	var earliest *time.Time
	if offering.StartDate == nil {
		if earliest, err = s.attendance.EarliestClassDate(ctx, offering.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance dates")
		}
	}

	weekdays := calendar.ParseWeekdays(offering.ScheduleText)
	view := &CalendarView{
		OfferingID:    offering.ID,
		ScheduleText:  offering.ScheduleText,
		Weekdays:      []string{},
		Deterministic: hasDeterministicSchedule(*offering),
		UpTo:          limit,
		Dates:         []time.Time{},
	}
	for _, d := range weekdays.Days() {
		view.Weekdays = append(view.Weekdays, d.String())
	}
	start, end, ok := calendar.Window(offeringBounds(*offering), earliest, limit)
	if !ok {
		return view, nil
	}
	view.From = &start
	view.UpTo = end
	if dates := calendar.Dates(weekdays, start, end); dates != nil {
		view.Dates = dates
	}
	return view, nil
}
