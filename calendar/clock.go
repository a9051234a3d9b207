package calendar

import "time"

// Clock resolves instants to civil days in one location.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// Option configures a Clock.
type Option func(*Clock)

// WithNow replaces the time source.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) { c.now = now }
}

// NewClock returns a Clock whose reference frame is loc. A nil loc means UTC.
func NewClock(loc *time.Location, opts ...Option) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	c := &Clock{loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadClock resolves an IANA zone name ("America/Mexico_City", "UTC").
func LoadClock(zone string, opts ...Option) (*Clock, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, err
	}
	return NewClock(loc, opts...), nil
}

// Location returns the reference frame.
func (c *Clock) Location() *time.Location { return c.loc }

// Now returns the current instant expressed in the reference frame.
func (c *Clock) Now() time.Time { return c.now().In(c.loc) }

// DayOf returns the civil day t falls on in the reference frame.
func (c *Clock) DayOf(t time.Time) Day {
	lt := t.In(c.loc)
	return NewDay(lt.Year(), lt.Month(), lt.Day())
}

// WeekdayOf returns the weekday of DayOf(t). It never looks at t's own zone.
func (c *Clock) WeekdayOf(t time.Time) time.Weekday { return c.DayOf(t).Weekday() }

// MonthOf returns the accumulation bucket for t.
func (c *Clock) MonthOf(t time.Time) MonthKey { return c.DayOf(t).MonthKey() }

// Today is DayOf(Now()).
func (c *Clock) Today() Day { return c.DayOf(c.now()) }

// At composes a wall-clock time onto a civil day in the reference frame.
func (c *Clock) At(d Day, tod TimeOfDay) time.Time {
	return time.Date(d.Year(), d.Month(), d.DayOfMonth(), tod.Hour, tod.Minute, tod.Second, 0, c.loc)
}

// StartOf returns the first instant of d in the reference frame.
func (c *Clock) StartOf(d Day) time.Time { return c.At(d, TimeOfDay{}) }
