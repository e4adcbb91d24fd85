package calendar

import "time"

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string into a UTC day.
func ParseDay(raw string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", raw, time.UTC)
}

// Dates walks every day from start to end inclusive and keeps those in set.
// An empty set or an inverted range yields no dates.
func Dates(set WeekdaySet, start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	if set.Empty() || end.Before(start) {
		return nil
	}
	dates := make([]time.Time, 0, int(end.Sub(start).Hours()/24)/7*len(set.Days())+len(set.Days()))
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if set.Matches(day) {
			dates = append(dates, day)
		}
	}
	return dates
}

// ScheduledDates is Dates over the weekdays named in scheduleText.
func ScheduledDates(scheduleText string, start, end time.Time) []time.Time {
	return Dates(ParseWeekdays(scheduleText), start, end)
}

// Bounds describes the optional date limits of an offering.
type Bounds struct {
	Start *time.Time
	End   *time.Time
}

// Window resolves the inclusive range to enumerate.
// The start falls back to the earliest recorded class date; the end defaults
// to upTo and is clamped to it. ok is false when no start can be resolved.
func Window(b Bounds, earliestRecorded *time.Time, upTo time.Time) (start, end time.Time, ok bool) {
	switch {
	case b.Start != nil:
		start = Day(*b.Start)
	case earliestRecorded != nil:
		start = Day(*earliestRecorded)
	default:
		return time.Time{}, time.Time{}, false
	}
	end = Day(upTo)
	if b.End != nil && Day(*b.End).Before(end) {
		end = Day(*b.End)
	}
	return start, end, true
}

// Count returns the number of scheduled dates in the resolved window.
func Count(set WeekdaySet, b Bounds, earliestRecorded *time.Time, upTo time.Time) int {
	start, end, ok := Window(b, earliestRecorded, upTo)
	if !ok {
		return 0
	}
	return len(Dates(set, start, end))
}
