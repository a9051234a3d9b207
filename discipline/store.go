package discipline

import (
	"context"
	"time"

	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/tardiness"
)

// RuleSource lists configured disciplinary rules.
type RuleSource interface {
	ListDisciplinaryRules(ctx context.Context, activeOnly bool) ([]ActionRule, error)
}

// Store persists triggers and disciplinary records.
type Store interface {
	// ListTriggers returns the employee's triggers of kind with
	// from < OccurredAt <= to, ordered by OccurredAt.
	ListTriggers(ctx context.Context, employeeID string, kind tardiness.TriggerKind, from, to time.Time) ([]tardiness.Trigger, error)

	// ListTriggeredEmployees returns employees with any trigger after since.
	ListTriggeredEmployees(ctx context.Context, since time.Time) ([]string, error)

	// CreateRecord inserts rec. Returns ErrDuplicateRecord when the
	// (employee, rule, window start) key exists.
	CreateRecord(ctx context.Context, rec Record) error

	// GetRecord returns nil, nil when the id is unknown.
	GetRecord(ctx context.Context, id string) (*Record, error)

	// ListRecords returns records matching filter, oldest first.
	ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error)

	// TransitionRecord writes rec only if the stored state is still from.
	// Returns false, nil when another writer moved the record first.
	TransitionRecord(ctx context.Context, id string, from State, rec Record) (bool, error)
}

// ActsRecorder counts administrative acts against the tardiness month.
type ActsRecorder interface {
	RecordAdministrativeAct(ctx context.Context, employeeID string, period calendar.MonthKey) error
}
