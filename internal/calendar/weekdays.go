// Package calendar turns free-text weekly schedules into concrete class dates.
package calendar

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Weekday numbers days Monday=0 through Sunday=6.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// FromTime converts a time.Weekday (Sunday=0) into the Monday-first numbering.
func FromTime(d time.Weekday) Weekday {
	return Weekday((int(d) + 6) % 7)
}

// WeekdaySet is a bitmask of weekdays.
type WeekdaySet uint8

// Has reports whether d is in the set.
func (s WeekdaySet) Has(d Weekday) bool {
	return s&(1<<uint(d)) != 0
}

// With returns the set including d.
func (s WeekdaySet) With(d Weekday) WeekdaySet {
	return s | 1<<uint(d)
}

// Empty reports whether no weekday is set.
func (s WeekdaySet) Empty() bool {
	return s == 0
}

// Days lists the members in Monday-first order.
func (s WeekdaySet) Days() []Weekday {
	days := make([]Weekday, 0, 7)
	for d := Monday; d <= Sunday; d++ {
		if s.Has(d) {
			days = append(days, d)
		}
	}
	return days
}

// Matches reports whether the calendar day falls on a weekday in the set.
func (s WeekdaySet) Matches(day time.Time) bool {
	return s.Has(FromTime(day.Weekday()))
}

var weekdayTokens = map[string]Weekday{
	"lunes": Monday, "lun": Monday, "lu": Monday,
	"martes": Tuesday, "mar": Tuesday, "ma": Tuesday,
	"miercoles": Wednesday, "mie": Wednesday, "mi": Wednesday, "x": Wednesday,
	"jueves": Thursday, "jue": Thursday, "ju": Thursday,
	"viernes": Friday, "vie": Friday, "vi": Friday,
	"sabado": Saturday, "sab": Saturday, "sa": Saturday,
	"domingo": Sunday, "dom": Sunday,

	"monday": Monday, "mon": Monday,
	"tuesday": Tuesday, "tue": Tuesday, "tues": Tuesday,
	"wednesday": Wednesday, "wed": Wednesday, "weds": Wednesday,
	"thursday": Thursday, "thu": Thursday, "thur": Thursday, "thurs": Thursday,
	"friday": Friday, "fri": Friday,
	"saturday": Saturday, "sat": Saturday,
	"sunday": Sunday, "sun": Sunday,
}

// Normalize strips diacritics and case-folds text.
func Normalize(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, text)
	if err != nil {
		stripped = text
	}
	return cases.Fold().String(stripped)
}

// Tokens splits normalized text on anything that is not an ASCII letter.
func Tokens(text string) []string {
	return strings.FieldsFunc(Normalize(text), func(r rune) bool {
		return r < 'a' || r > 'z'
	})
}

// ParseWeekdays resolves every recognised weekday token in text.
// Unknown tokens are ignored.
func ParseWeekdays(text string) WeekdaySet {
	var set WeekdaySet
	for _, token := range Tokens(text) {
		if d, ok := weekdayTokens[token]; ok {
			set = set.With(d)
		}
	}
	return set
}

func (d Weekday) String() string {
	if d < Monday || d > Sunday {
		return "unknown"
	}
	return time.Weekday((int(d) + 1) % 7).String()
}
