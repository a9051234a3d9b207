/*
Package tardiness classifies late check-ins and accumulates them per month.

PURPOSE:
  A check-in that is m minutes late is mapped to exactly one Rule by a
  validated interval table. Classified events are accumulated into a
  per-(employee, month) Accumulation; every AccumulationCount raw events of
  a rule produce EquivalentFormalTardies formal tardy units. Each raw event
  and each formal unit is also recorded as a timestamped Trigger, the input
  of the disciplinary escalator's rolling window.

RANGES:
  Ranges are half-open [StartMinute, EndMinute). A check-in exactly
  EndMinute late belongs to the next range. The last range of a type may be
  unbounded (EndMinute == nil). Gaps and overlaps within a type, and any
  overlap across types, are rejected when the table is built.

IDEMPOTENCY:
  The session id is the idempotency key of an event. Re-running the incident
  calculation for a day never counts a session twice.

SEE ALSO:
  - table.go: interval table
  - accumulator.go: classification + accumulation
  - incidents.go: daily incident calculation job body
  - discipline/: consumes Trigger records
*/
package tardiness

import (
	"time"

	"github.com/warp/attendance-engine/calendar"
)

// Type is the tardiness classification of a rule.
type Type string

const (
	LateArrival     Type = "LATE_ARRIVAL"
	DirectTardiness Type = "DIRECT_TARDINESS"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool { return t == LateArrival || t == DirectTardiness }

// Rule maps a minutes-late range to an accumulation weight.
type Rule struct {
	ID                      string `json:"id"`
	Name                    string `json:"name"`
	Type                    Type   `json:"type"`
	StartMinute             int    `json:"start_minute"`
	EndMinute               *int   `json:"end_minute,omitempty"` // nil = unbounded
	EquivalentFormalTardies int    `json:"equivalent_formal_tardies"`
	AccumulationCount       int    `json:"accumulation_count"`
	Active                  bool   `json:"active"`
}

// Contains reports whether minutes falls in [StartMinute, EndMinute).
func (r Rule) Contains(minutes int) bool {
	if minutes < r.StartMinute {
		return false
	}
	return r.EndMinute == nil || minutes < *r.EndMinute
}

// Event is one classified late check-in.
type Event struct {
	EmployeeID     string
	SessionID      string
	Day            calendar.Day
	CheckIn        time.Time
	ScheduledStart time.Time
	LateMinutes    int
	Rule           Rule
}

// Accumulation is the per-(employee, month) tardiness counter row. A new
// month starts a new row; rows are never reset.
type Accumulation struct {
	EmployeeID         string            `json:"employee_id"`
	Period             calendar.MonthKey `json:"-"`
	LateArrivals       int               `json:"late_arrivals"`
	DirectTardies      int               `json:"direct_tardies"`
	FormalTardies      int               `json:"formal_tardies"`
	AdministrativeActs int               `json:"administrative_acts"`
	RuleCounts         map[string]int    `json:"rule_counts"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// NewAccumulation returns an empty row for employee and period.
func NewAccumulation(employeeID string, period calendar.MonthKey) Accumulation {
	return Accumulation{EmployeeID: employeeID, Period: period, RuleCounts: map[string]int{}}
}

// TriggerKind is what a Trigger counts toward in a disciplinary rule.
type TriggerKind string

const (
	TriggerFormalTardy     TriggerKind = "FORMAL_TARDY"
	TriggerLateArrival     TriggerKind = TriggerKind(LateArrival)
	TriggerDirectTardiness TriggerKind = TriggerKind(DirectTardiness)
)

// Valid reports whether k is a known trigger kind.
func (k TriggerKind) Valid() bool {
	switch k {
	case TriggerFormalTardy, TriggerLateArrival, TriggerDirectTardiness:
		return true
	}
	return false
}

// Trigger is a timestamped escalation signal.
type Trigger struct {
	ID         string
	EmployeeID string
	Kind       TriggerKind
	Units      int
	OccurredAt time.Time
	SourceID   string // session that produced it
}
