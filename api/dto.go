/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the engine
  types (which carry calendar.Day, decimal and pointer fields) from the
  external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TIME FORMATS:
  Instants are RFC3339 in the calendar frame's zone. Days are YYYY-MM-DD.
  Worked hours are decimal strings ("8.25").

SEE ALSO:
  - handlers.go: Uses these types
  - rules/rules.go: rule and shift JSON types shared with the rules file
*/
package api

import (
	"time"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/discipline"
	"github.com/warp/attendance-engine/tardiness"
)

// =============================================================================
// ATTENDANCE
// =============================================================================

// CheckRequest is the body of check-in and check-out.
type CheckRequest struct {
	EmployeeID string `json:"employee_id"`
	At         string `json:"at,omitempty"`     // RFC3339, defaults to now
	Method     string `json:"method,omitempty"` // MANUAL (default) or BIOMETRIC
}

// AutoCheckoutRequest is the optional body of a manual auto-checkout run.
type AutoCheckoutRequest struct {
	Date string `json:"date,omitempty"` // YYYY-MM-DD, defaults to today
}

// SessionDTO represents an attendance session.
type SessionDTO struct {
	ID             string  `json:"id"`
	EmployeeID     string  `json:"employee_id"`
	ShiftID        string  `json:"shift_id,omitempty"`
	Day            string  `json:"day"`
	CheckIn        string  `json:"check_in"`
	CheckOut       *string `json:"check_out,omitempty"`
	CheckInMethod  string  `json:"check_in_method"`
	CheckOutMethod string  `json:"check_out_method,omitempty"`
	WorkedHours    *string `json:"worked_hours,omitempty"`
	Status         string  `json:"status"`
}

func toSessionDTO(s attendance.Session, loc *time.Location) SessionDTO {
	dto := SessionDTO{
		ID:             s.ID,
		EmployeeID:     s.EmployeeID,
		ShiftID:        s.ShiftID,
		Day:            s.Day.String(),
		CheckIn:        s.CheckIn.In(loc).Format(time.RFC3339),
		CheckInMethod:  string(s.CheckInMethod),
		CheckOutMethod: string(s.CheckOutMethod),
		Status:         string(s.Status),
	}
	if s.CheckOut != nil {
		dto.CheckOut = strPtr(s.CheckOut.In(loc).Format(time.RFC3339))
	}
	if s.WorkedHours != nil {
		dto.WorkedHours = strPtr(s.WorkedHours.String())
	}
	return dto
}

// =============================================================================
// SHIFTS
// =============================================================================

// AssignShiftRequest links an employee to a shift.
type AssignShiftRequest struct {
	ShiftID string `json:"shift_id"`
}

// ShiftPeriodDTO represents one weekday of a shift.
type ShiftPeriodDTO struct {
	Weekday      string `json:"weekday"`
	Start        string `json:"start"`
	End          string `json:"end"`
	GraceMinutes int    `json:"grace_minutes"`
	Overnight    bool   `json:"overnight,omitempty"`
}

// ShiftDTO represents a shift.
type ShiftDTO struct {
	ID      string           `json:"id"`
	Periods []ShiftPeriodDTO `json:"periods"`
}

func toShiftDTO(id string, periods []attendance.ShiftPeriod) ShiftDTO {
	dto := ShiftDTO{ID: id, Periods: make([]ShiftPeriodDTO, len(periods))}
	for i, p := range periods {
		dto.Periods[i] = ShiftPeriodDTO{
			Weekday:      p.Weekday.String(),
			Start:        p.Start.String(),
			End:          p.End.String(),
			GraceMinutes: p.GraceMinutes,
			Overnight:    p.Overnight(),
		}
	}
	return dto
}

// =============================================================================
// TARDINESS
// =============================================================================

// AccumulationDTO represents an employee's tardiness counters for a month.
type AccumulationDTO struct {
	EmployeeID         string         `json:"employee_id"`
	Period             string         `json:"period"` // YYYY-MM
	LateArrivals       int            `json:"late_arrivals"`
	DirectTardies      int            `json:"direct_tardies"`
	FormalTardies      int            `json:"formal_tardies"`
	AdministrativeActs int            `json:"administrative_acts"`
	RuleCounts         map[string]int `json:"rule_counts"`
}

func toAccumulationDTO(acc tardiness.Accumulation) AccumulationDTO {
	counts := acc.RuleCounts
	if counts == nil {
		counts = map[string]int{}
	}
	return AccumulationDTO{
		EmployeeID:         acc.EmployeeID,
		Period:             acc.Period.String(),
		LateArrivals:       acc.LateArrivals,
		DirectTardies:      acc.DirectTardies,
		FormalTardies:      acc.FormalTardies,
		AdministrativeActs: acc.AdministrativeActs,
		RuleCounts:         counts,
	}
}

// =============================================================================
// DISCIPLINE
// =============================================================================

// DecisionRequest is the body of approve and reject.
type DecisionRequest struct {
	Actor string `json:"actor"`
	Note  string `json:"note,omitempty"`
}

// RecordDTO represents a disciplinary record.
type RecordDTO struct {
	ID             string  `json:"id"`
	EmployeeID     string  `json:"employee_id"`
	RuleID         string  `json:"rule_id"`
	TriggerType    string  `json:"trigger_type"`
	TriggerCount   int     `json:"trigger_count"`
	CountedUnits   int     `json:"counted_units"`
	WindowStart    string  `json:"window_start"`
	WindowEnd      string  `json:"window_end"`
	ActionType     string  `json:"action_type"`
	AppliedDate    string  `json:"applied_date"`
	EffectiveDate  *string `json:"effective_date,omitempty"`
	ExpirationDate *string `json:"expiration_date,omitempty"`
	SuspensionDays *int    `json:"suspension_days,omitempty"`
	State          string  `json:"state"`
	DecidedBy      string  `json:"decided_by,omitempty"`
	DecidedAt      *string `json:"decided_at,omitempty"`
	Notes          string  `json:"notes,omitempty"`
}

func toRecordDTO(rec discipline.Record, loc *time.Location) RecordDTO {
	dto := RecordDTO{
		ID:             rec.ID,
		EmployeeID:     rec.EmployeeID,
		RuleID:         rec.RuleID,
		TriggerType:    string(rec.TriggerType),
		TriggerCount:   rec.TriggerCount,
		CountedUnits:   rec.CountedUnits,
		WindowStart:    rec.WindowStart.String(),
		WindowEnd:      rec.WindowEnd.In(loc).Format(time.RFC3339),
		ActionType:     string(rec.ActionType),
		AppliedDate:    rec.AppliedDate.String(),
		SuspensionDays: rec.SuspensionDays,
		State:          string(rec.State),
		DecidedBy:      rec.DecidedBy,
		Notes:          rec.Notes,
	}
	if rec.EffectiveDate != nil {
		dto.EffectiveDate = strPtr(rec.EffectiveDate.String())
	}
	if rec.ExpirationDate != nil {
		dto.ExpirationDate = strPtr(rec.ExpirationDate.String())
	}
	if rec.DecidedAt != nil {
		dto.DecidedAt = strPtr(rec.DecidedAt.In(loc).Format(time.RFC3339))
	}
	return dto
}

func toRecordDTOs(recs []discipline.Record, loc *time.Location) []RecordDTO {
	dtos := make([]RecordDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toRecordDTO(rec, loc)
	}
	return dtos
}

// EvaluateResponse is the result of an on-demand evaluation.
type EvaluateResponse struct {
	EmployeeID string      `json:"employee_id"`
	Created    []RecordDTO `json:"created"`
	Errors     []string    `json:"errors,omitempty"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
