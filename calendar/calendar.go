/*
Package calendar resolves instants to civil days in one fixed reference frame.

PURPOSE:
  Every day key and every weekday in the engine is derived here. Attendance
  rows carry a `day` column, shift periods are keyed by weekday, and jobs fire
  at wall-clock times; all three must agree on which civil day an instant
  belongs to.

THE SINGLE-FRAME RULE:
  A Clock owns exactly one *time.Location. DayOf(t) converts t into that
  location and takes the civil date. WeekdayOf(t) is DayOf(t).Weekday(), and
  Day.Weekday() is computed from the civil date alone, so a (day, weekday)
  pair can never disagree. Mixing t.UTC().Weekday() with a local date is the
  defect this package exists to prevent: near midnight under a negative UTC
  offset the two frames name different days.

  Code outside this package must not call time.Time.Weekday(), Day() or
  YearDay() to derive a civil day. Ask the Clock.

KEY TYPES:
  Day:       civil date, no time-of-day, no zone
  TimeOfDay: wall-clock time used by shift periods ("17:00")
  MonthKey:  accumulation bucket (year + month)
  Clock:     frame + time source

SEE ALSO:
  - attendance/shift.go: composes TimeOfDay onto a Day through the Clock
  - store/sqlite: persists Day as YYYY-MM-DD written from the Clock's frame
*/
package calendar

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidDay is returned when a day string cannot be parsed.
var ErrInvalidDay = errors.New("invalid calendar day")

// DayLayout is the storage and wire format of a Day.
const DayLayout = "2006-01-02"

// =============================================================================
// DAY - Civil date, time-of-day independent
// =============================================================================

// Day is one civil day. It is stored as midnight UTC of the civil date so
// that comparisons are day-granular and zone independent. The zero value is
// not a valid day.
type Day struct {
	t time.Time
}

// NewDay builds a Day from civil date fields. Out-of-range fields are
// normalised the way time.Date normalises them.
func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("%w: %q", ErrInvalidDay, s)
	}
	return Day{t: t}, nil
}

// MustParseDay is ParseDay for literals in tests and fixtures.
func MustParseDay(s string) Day {
	d, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Day) Year() int { return d.t.Year() }
func (d Day) Month() time.Month { return d.t.Month() }
func (d Day) DayOfMonth() int { return d.t.Day() }
func (d Day) IsZero() bool { return d.t.IsZero() }
func (d Day) String() string { return d.t.Format(DayLayout) }
func (d Day) AddDays(n int) Day { return Day{t: d.t.AddDate(0, 0, n)} }
func (d Day) MonthKey() MonthKey { return MonthKey{Year: d.t.Year(), Month: d.t.Month()} }
func (d Day) Before(o Day) bool { return d.t.Before(o.t) }
func (d Day) After(o Day) bool { return d.t.After(o.t) }
func (d Day) Equal(o Day) bool { return d.t.Equal(o.t) }

// Weekday is derived from the civil date alone.
func (d Day) Weekday() time.Weekday { return d.t.Weekday() }

// =============================================================================
// TIME OF DAY
// =============================================================================

// TimeOfDay is a wall-clock time without a date or zone.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	layout := "15:04:05"
	if len(s) == 5 {
		layout = "15:04"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
}

// MustParseTimeOfDay is ParseTimeOfDay for literals.
func MustParseTimeOfDay(s string) TimeOfDay {
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return tod
}

func (t TimeOfDay) seconds() int { return t.Hour*3600 + t.Minute*60 + t.Second }

func (t TimeOfDay) Before(o TimeOfDay) bool { return t.seconds() < o.seconds() }

func (t TimeOfDay) String() string {
	if t.Second == 0 {
		return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
	}
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// =============================================================================
// MONTH KEY - Accumulation bucket
// =============================================================================

// MonthKey identifies one calendar month.
type MonthKey struct {
	Year  int
	Month time.Month
}

func (m MonthKey) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }

// Prev returns the previous month.
func (m MonthKey) Prev() MonthKey {
	if m.Month == time.January {
		return MonthKey{Year: m.Year - 1, Month: time.December}
	}
	return MonthKey{Year: m.Year, Month: m.Month - 1}
}

// FirstDay and LastDay bound the month.
func (m MonthKey) FirstDay() Day { return NewDay(m.Year, m.Month, 1) }
func (m MonthKey) LastDay() Day { return NewDay(m.Year, m.Month+1, 1).AddDays(-1) }
