package tardiness

import (
	"context"

	"github.com/warp/attendance-engine/calendar"
)

// RuleSource lists configured tardiness rules.
type RuleSource interface {
	ListTardinessRules(ctx context.Context, activeOnly bool) ([]Rule, error)
}

// ApplyFunc mutates the accumulation row for an event and returns the
// triggers to record alongside it.
type ApplyFunc func(acc *Accumulation) []Trigger

// Store persists accumulations, events and triggers.
type Store interface {
	// ApplyEvent atomically records ev (keyed by its session id), loads or
	// creates the row for (ev.EmployeeID, period), runs apply on it, and
	// persists the row and the returned triggers. Returns ErrDuplicateEvent
	// without calling apply when the session was already recorded.
	ApplyEvent(ctx context.Context, ev Event, period calendar.MonthKey, apply ApplyFunc) (Accumulation, error)

	// GetAccumulation returns nil, nil when no row exists yet.
	GetAccumulation(ctx context.Context, employeeID string, period calendar.MonthKey) (*Accumulation, error)

	// ListAccumulations returns every row of period.
	ListAccumulations(ctx context.Context, period calendar.MonthKey) ([]Accumulation, error)

	// IncrementAdministrativeActs bumps the act counter, creating the row if needed.
	IncrementAdministrativeActs(ctx context.Context, employeeID string, period calendar.MonthKey) error
}
