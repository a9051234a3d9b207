/*
Package rules loads rule and shift definitions from JSON.

PURPOSE:
  Operators configure tardiness ranges, disciplinary thresholds and shift
  schedules in one JSON document instead of code. LoadFile parses and
  validates it; Seed upserts it into a store at startup.

JSON SCHEMA:
  {
    "tardiness": [
      {"id": "late-minor", "name": "Late 1-10", "type": "LATE_ARRIVAL",
       "start_minute": 1, "end_minute": 10,
       "accumulation_count": 5, "equivalent_formal_tardies": 1}
    ],
    "disciplinary": [
      {"id": "warn", "name": "Verbal warning", "trigger_type": "FORMAL_TARDY",
       "trigger_count": 3, "period_days": 30, "action_type": "WARNING",
       "requires_approval": true}
    ],
    "shifts": [
      {"id": "day", "periods": [
        {"weekday": "monday", "start": "08:00", "end": "17:00", "grace_minutes": 15}
      ]}
    ],
    "assignments": {"emp-1": "day"}
  }

DEFAULTS:
  - "active" defaults to true when omitted
  - "equivalent_formal_tardies" defaults to 1

VALIDATION:
  The whole document is rejected when any part is invalid: the tardiness
  rules must form a valid interval table, every disciplinary rule must pass
  discipline.ValidateRule, and assignments must name a defined shift.

SEE ALSO:
  - tardiness/table.go: interval table validation
  - discipline/record.go: ValidateRule
*/
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/discipline"
	"github.com/warp/attendance-engine/tardiness"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// FileJSON is the on-disk document.
type FileJSON struct {
	Tardiness    []TardinessRuleJSON    `json:"tardiness"`
	Disciplinary []DisciplinaryRuleJSON `json:"disciplinary"`
	Shifts       []ShiftJSON            `json:"shifts,omitempty"`
	Assignments  map[string]string      `json:"assignments,omitempty"`
}

// TardinessRuleJSON is the JSON form of tardiness.Rule.
type TardinessRuleJSON struct {
	ID                      string `json:"id"`
	Name                    string `json:"name"`
	Type                    string `json:"type"`
	StartMinute             int    `json:"start_minute"`
	EndMinute               *int   `json:"end_minute,omitempty"`
	EquivalentFormalTardies int    `json:"equivalent_formal_tardies,omitempty"`
	AccumulationCount       int    `json:"accumulation_count"`
	Active                  *bool  `json:"active,omitempty"`
}

// DisciplinaryRuleJSON is the JSON form of discipline.ActionRule.
type DisciplinaryRuleJSON struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	TriggerType      string `json:"trigger_type"`
	TriggerCount     int    `json:"trigger_count"`
	PeriodDays       int    `json:"period_days"`
	ActionType       string `json:"action_type"`
	SuspensionDays   *int   `json:"suspension_days,omitempty"`
	ValidityDays     *int   `json:"validity_days,omitempty"`
	RequiresApproval bool   `json:"requires_approval"`
	Active           *bool  `json:"active,omitempty"`
}

// ShiftJSON defines a shift by its weekday periods.
type ShiftJSON struct {
	ID      string       `json:"id"`
	Periods []PeriodJSON `json:"periods"`
}

// PeriodJSON is one weekday of a shift.
type PeriodJSON struct {
	Weekday      string `json:"weekday"` // "monday" .. "sunday"
	Start        string `json:"start"`   // HH:MM
	End          string `json:"end"`     // HH:MM, not after start = overnight
	GraceMinutes int    `json:"grace_minutes"`
}

// File is a parsed and validated document.
type File struct {
	Tardiness    []tardiness.Rule
	Disciplinary []discipline.ActionRule
	Shifts       []attendance.ShiftPeriod
	Assignments  map[string]string
}

// =============================================================================
// LOADING
// =============================================================================

// LoadFile reads and validates the document at path.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read rules file: %w", err)
	}
	return Parse(data)
}

// Parse validates a JSON document.
func Parse(data []byte) (File, error) {
	var fj FileJSON
	if err := json.Unmarshal(data, &fj); err != nil {
		return File{}, fmt.Errorf("failed to parse rules JSON: %w", err)
	}
	return FromJSON(fj)
}

// FromJSON converts and validates fj.
func FromJSON(fj FileJSON) (File, error) {
	f := File{Assignments: fj.Assignments}

	for _, rj := range fj.Tardiness {
		f.Tardiness = append(f.Tardiness, rj.Rule())
	}
	if _, err := tardiness.NewRuleTable(f.Tardiness); err != nil {
		return File{}, err
	}

	for _, rj := range fj.Disciplinary {
		r := rj.Rule()
		if err := discipline.ValidateRule(r); err != nil {
			return File{}, err
		}
		f.Disciplinary = append(f.Disciplinary, r)
	}

	shifts := make(map[string]bool)
	for _, sj := range fj.Shifts {
		periods, err := sj.ShiftPeriods()
		if err != nil {
			return File{}, err
		}
		f.Shifts = append(f.Shifts, periods...)
		shifts[sj.ID] = true
	}
	for emp, shift := range fj.Assignments {
		if !shifts[shift] {
			return File{}, fmt.Errorf("assignment of %s: unknown shift %q", emp, shift)
		}
	}

	return f, nil
}

// Rule converts to a tardiness.Rule, applying defaults.
func (rj TardinessRuleJSON) Rule() tardiness.Rule {
	r := tardiness.Rule{
		ID:                      rj.ID,
		Name:                    rj.Name,
		Type:                    tardiness.Type(rj.Type),
		StartMinute:             rj.StartMinute,
		EndMinute:               rj.EndMinute,
		EquivalentFormalTardies: rj.EquivalentFormalTardies,
		AccumulationCount:       rj.AccumulationCount,
		Active:                  rj.Active == nil || *rj.Active,
	}
	if r.EquivalentFormalTardies == 0 {
		r.EquivalentFormalTardies = 1
	}
	return r
}

// Rule converts to a discipline.ActionRule, applying defaults.
func (rj DisciplinaryRuleJSON) Rule() discipline.ActionRule {
	return discipline.ActionRule{
		ID:               rj.ID,
		Name:             rj.Name,
		TriggerType:      tardiness.TriggerKind(rj.TriggerType),
		TriggerCount:     rj.TriggerCount,
		PeriodDays:       rj.PeriodDays,
		ActionType:       discipline.ActionType(rj.ActionType),
		SuspensionDays:   rj.SuspensionDays,
		ValidityDays:     rj.ValidityDays,
		RequiresApproval: rj.RequiresApproval,
		Active:           rj.Active == nil || *rj.Active,
	}
}

// ShiftPeriods converts and validates the periods of a shift.
func (sj ShiftJSON) ShiftPeriods() ([]attendance.ShiftPeriod, error) {
	if sj.ID == "" {
		return nil, fmt.Errorf("shift id is required")
	}

	seen := make(map[time.Weekday]bool)
	var periods []attendance.ShiftPeriod
	for _, pj := range sj.Periods {
		wd, err := ParseWeekday(pj.Weekday)
		if err != nil {
			return nil, fmt.Errorf("shift %s: %w", sj.ID, err)
		}
		if seen[wd] {
			return nil, fmt.Errorf("shift %s: %s defined twice", sj.ID, wd)
		}
		seen[wd] = true

		start, err := calendar.ParseTimeOfDay(pj.Start)
		if err != nil {
			return nil, fmt.Errorf("shift %s %s: start: %w", sj.ID, wd, err)
		}
		end, err := calendar.ParseTimeOfDay(pj.End)
		if err != nil {
			return nil, fmt.Errorf("shift %s %s: end: %w", sj.ID, wd, err)
		}
		if pj.GraceMinutes < 0 {
			return nil, fmt.Errorf("shift %s %s: grace minutes is negative", sj.ID, wd)
		}

		periods = append(periods, attendance.ShiftPeriod{
			ShiftID:      sj.ID,
			Weekday:      wd,
			Start:        start,
			End:          end,
			GraceMinutes: pj.GraceMinutes,
		})
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Weekday < periods[j].Weekday })
	return periods, nil
}

// ParseWeekday accepts English weekday names and their three-letter forms,
// case-insensitively.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		full := strings.ToLower(wd.String())
		if name == full || name == full[:3] {
			return wd, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", s)
}

// =============================================================================
// SEEDING
// =============================================================================

// Seeder is the write surface Seed needs. store/sqlite implements it.
type Seeder interface {
	SaveTardinessRule(ctx context.Context, r tardiness.Rule) error
	SaveDisciplinaryRule(ctx context.Context, r discipline.ActionRule) error
	SaveShiftPeriod(ctx context.Context, p attendance.ShiftPeriod) error
	AssignShift(ctx context.Context, employeeID, shiftID string) error
}

// Seed upserts every definition of f.
func Seed(ctx context.Context, s Seeder, f File) error {
	for _, r := range f.Tardiness {
		if err := s.SaveTardinessRule(ctx, r); err != nil {
			return fmt.Errorf("seed tardiness rule %s: %w", r.ID, err)
		}
	}
	for _, r := range f.Disciplinary {
		if err := s.SaveDisciplinaryRule(ctx, r); err != nil {
			return fmt.Errorf("seed disciplinary rule %s: %w", r.ID, err)
		}
	}
	for _, p := range f.Shifts {
		if err := s.SaveShiftPeriod(ctx, p); err != nil {
			return fmt.Errorf("seed shift %s: %w", p.ShiftID, err)
		}
	}

	employees := make([]string, 0, len(f.Assignments))
	for emp := range f.Assignments {
		employees = append(employees, emp)
	}
	sort.Strings(employees)
	for _, emp := range employees {
		if err := s.AssignShift(ctx, emp, f.Assignments[emp]); err != nil {
			return fmt.Errorf("seed assignment of %s: %w", emp, err)
		}
	}
	return nil
}
