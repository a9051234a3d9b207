/*
Package discipline turns accumulated tardiness triggers into disciplinary records.

PURPOSE:
  An ActionRule says "TriggerCount units of TriggerType within PeriodDays
  lead to ActionType". The Escalator counts triggers in a rolling window
  ending now (not aligned to calendar months) and creates one Record per
  threshold crossing.

RECORD LIFECYCLE:
  PENDING -> ACTIVE     approved by the external workflow
  PENDING -> CANCELLED  rejected by the external workflow
  ACTIVE  -> COMPLETED  expiration date passed, checked on every sweep
  New records start ACTIVE when the rule does not require approval.

IDEMPOTENCY:
  A record is keyed by (employee, rule, window start) and the store enforces
  that key with a unique index. Triggers up to a record's WindowEnd are
  consumed for that rule and for every lower rule of the same trigger type,
  so re-evaluating unchanged state creates nothing.

SEE ALSO:
  - escalator.go: window evaluation
  - workflow.go: approval path used by the API
  - tardiness/: produces the triggers
*/
package discipline

import (
	"time"

	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/tardiness"
)

// ActionType is the disciplinary measure a rule applies.
type ActionType string

const (
	ActionWarning        ActionType = "WARNING"
	ActionWrittenWarning ActionType = "WRITTEN_WARNING"
	ActionSuspension     ActionType = "SUSPENSION"
	ActionFinalWarning   ActionType = "FINAL_WARNING"
	ActionTermination    ActionType = "TERMINATION"
)

// Severity orders action types, higher is more severe. Zero means unknown.
func (a ActionType) Severity() int {
	switch a {
	case ActionWarning:
		return 1
	case ActionWrittenWarning:
		return 2
	case ActionSuspension:
		return 3
	case ActionFinalWarning:
		return 4
	case ActionTermination:
		return 5
	}
	return 0
}

// State is the approval state of a record.
type State string

const (
	StatePending   State = "PENDING"
	StateActive    State = "ACTIVE"
	StateCompleted State = "COMPLETED"
	StateCancelled State = "CANCELLED"
)

// ActionRule maps a trigger threshold within a rolling window to an action.
type ActionRule struct {
	ID               string                `json:"id"`
	Name             string                `json:"name"`
	TriggerType      tardiness.TriggerKind `json:"trigger_type"`
	TriggerCount     int                   `json:"trigger_count"`
	PeriodDays       int                   `json:"period_days"`
	ActionType       ActionType            `json:"action_type"`
	SuspensionDays   *int                  `json:"suspension_days,omitempty"`
	ValidityDays     *int                  `json:"validity_days,omitempty"`
	RequiresApproval bool                  `json:"requires_approval"`
	Active           bool                  `json:"active"`
}

// Record is one escalation instance for one employee.
type Record struct {
	ID             string
	EmployeeID     string
	RuleID         string
	TriggerType    tardiness.TriggerKind
	TriggerCount   int // the rule threshold that was crossed
	CountedUnits   int // units counted in the window when it was crossed
	WindowStart    calendar.Day
	WindowEnd      time.Time // occurrence of the trigger that crossed the threshold
	FirstTriggerID string    // first counted trigger; identifies the crossing
	ActionType     ActionType
	AppliedDate    calendar.Day
	EffectiveDate  *calendar.Day
	ExpirationDate *calendar.Day
	SuspensionDays *int
	State          State
	DecidedBy      string
	DecidedAt      *time.Time
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RecordFilter narrows ListRecords. Empty fields match everything.
type RecordFilter struct {
	EmployeeID string
	State      State
}
