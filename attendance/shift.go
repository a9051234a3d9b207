package attendance

import (
	"time"

	"github.com/warp/attendance-engine/calendar"
)

// ShiftPeriod is the recurring schedule of one shift for one weekday.
// End not after Start denotes a simple overnight shift ending the next day.
type ShiftPeriod struct {
	ShiftID      string
	Weekday      time.Weekday
	Start        calendar.TimeOfDay
	End          calendar.TimeOfDay
	GraceMinutes int
}

// Overnight reports whether the shift ends on the following civil day.
func (p ShiftPeriod) Overnight() bool { return !p.Start.Before(p.End) }

// StartOn returns the scheduled start on day.
func (p ShiftPeriod) StartOn(clock *calendar.Clock, day calendar.Day) time.Time {
	return clock.At(day, p.Start)
}

// EndOn returns the scheduled end of the shift that starts on day.
func (p ShiftPeriod) EndOn(clock *calendar.Clock, day calendar.Day) time.Time {
	if p.Overnight() {
		return clock.At(day.AddDays(1), p.End)
	}
	return clock.At(day, p.End)
}

// DueAt is the instant from which a still-open session may be auto-closed.
func (p ShiftPeriod) DueAt(clock *calendar.Clock, day calendar.Day) time.Time {
	return p.EndOn(clock, day).Add(time.Duration(p.GraceMinutes) * time.Minute)
}
