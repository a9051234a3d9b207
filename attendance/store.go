package attendance

import (
	"context"
	"time"

	"github.com/warp/attendance-engine/calendar"
)

// Store is the persistence surface the auto-checkout engine consumes.
// Implementations: store/sqlite (production), store/memory (tests).
type Store interface {
	// FindOpenSessions returns sessions with a check-in and no check-out
	// whose day is on or before day.
	FindOpenSessions(ctx context.Context, day calendar.Day) ([]Session, error)

	// CloseSessionIfOpen sets the check-out only if it is still NULL.
	// Returns false, nil when another writer closed the session first.
	CloseSessionIfOpen(ctx context.Context, id string, req CloseRequest) (bool, error)

	// FindShiftPeriod returns the employee's shift period for weekday, or
	// nil when the employee has no shift on that weekday.
	FindShiftPeriod(ctx context.Context, employeeID string, weekday time.Weekday) (*ShiftPeriod, error)
}

// SessionStore extends Store with the check-in side used by the manual
// attendance service and the incident calculator.
type SessionStore interface {
	Store

	// CreateSession inserts a new open session. Returns ErrSessionOpen when
	// the employee already has an open session for the same day.
	CreateSession(ctx context.Context, s Session) error

	// GetSession returns nil, nil when the id is unknown.
	GetSession(ctx context.Context, id string) (*Session, error)

	// FindSession returns the employee's most recent session for day, or nil.
	FindSession(ctx context.Context, employeeID string, day calendar.Day) (*Session, error)

	// FindSessionsByDay returns every session checked in on day.
	FindSessionsByDay(ctx context.Context, day calendar.Day) ([]Session, error)
}
