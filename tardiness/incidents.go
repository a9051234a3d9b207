package tardiness

import (
	"context"
	"fmt"
	"log"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
)

// IncidentOutcome is the per-session result of an incident run.
type IncidentOutcome struct {
	SessionID   string `json:"session_id"`
	EmployeeID  string `json:"employee_id"`
	Outcome     string `json:"outcome"` // accumulated, on_time, duplicate, not_first, skipped, config_error, failed
	LateMinutes int    `json:"late_minutes,omitempty"`
	RuleID      string `json:"rule_id,omitempty"`
	FormalUnits int    `json:"formal_units,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// IncidentResult summarises an incident run.
type IncidentResult struct {
	Day          string            `json:"day"`
	Processed    int               `json:"processed"`
	Errors       int               `json:"errors"`
	ConfigErrors int               `json:"config_errors"`
	Skipped      int               `json:"skipped"`
	FormalUnits  int               `json:"formal_units"`
	Results      []IncidentOutcome `json:"results"`
}

// IncidentCalculator classifies and accumulates the check-ins of one day.
type IncidentCalculator struct {
	Sessions    attendance.SessionStore
	Accumulator *Accumulator
	Clock       *calendar.Clock
	Logger      *log.Logger
}

func (c *IncidentCalculator) logf(format string, args ...any) {
	l := c.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf("[Tardiness] "+format, args...)
}

// Run classifies the first check-in of each employee on day. Later sessions
// of the same day (back from a break) are not arrivals and are skipped.
// Re-running a day is safe: sessions already accumulated come back as
// duplicates.
func (c *IncidentCalculator) Run(ctx context.Context, day calendar.Day) (IncidentResult, error) {
	result := IncidentResult{Day: day.String(), Results: []IncidentOutcome{}}

	sessions, err := c.Sessions.FindSessionsByDay(ctx, day)
	if err != nil {
		return result, fmt.Errorf("find sessions: %w", err)
	}

	// sessions are ordered by check-in
	arrived := make(map[string]bool)
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		var out IncidentOutcome
		if arrived[s.EmployeeID] {
			out = IncidentOutcome{SessionID: s.ID, EmployeeID: s.EmployeeID, Outcome: "not_first"}
		} else {
			arrived[s.EmployeeID] = true
			out = c.process(ctx, s)
		}
		switch out.Outcome {
		case "accumulated":
			result.Processed++
			result.FormalUnits += out.FormalUnits
		case "config_error":
			result.ConfigErrors++
			result.Errors++
			c.logf("Configuration error for %s on %s: %s", s.EmployeeID, day, out.Reason)
		case "failed":
			result.Errors++
			c.logf("Error processing session %s: %s", s.ID, out.Reason)
		default:
			result.Skipped++
		}
		result.Results = append(result.Results, out)
	}

	if len(sessions) > 0 {
		c.logf("Incidents for %s: %d accumulated, %d errors, %d skipped, %d formal units",
			day, result.Processed, result.Errors, result.Skipped, result.FormalUnits)
	}
	return result, nil
}

func (c *IncidentCalculator) process(ctx context.Context, s attendance.Session) IncidentOutcome {
	out := IncidentOutcome{SessionID: s.ID, EmployeeID: s.EmployeeID}

	period, err := c.Sessions.FindShiftPeriod(ctx, s.EmployeeID, s.Day.Weekday())
	if err != nil {
		out.Outcome, out.Reason = "failed", err.Error()
		return out
	}
	if period == nil {
		out.Outcome, out.Reason = "skipped", "no shift period"
		return out
	}

	ev, err := c.Accumulator.Classify(s.EmployeeID, s.CheckIn, period.StartOn(c.Clock, s.Day))
	if err != nil {
		out.Outcome, out.Reason = "failed", err.Error()
		if IsConfigError(err) {
			out.Outcome = "config_error"
		}
		return out
	}
	if ev == nil {
		out.Outcome = "on_time"
		return out
	}

	ev.SessionID = s.ID
	ev.Day = s.Day
	out.LateMinutes, out.RuleID = ev.LateMinutes, ev.Rule.ID

	upd, err := c.Accumulator.Accumulate(ctx, *ev)
	if err != nil {
		out.Outcome, out.Reason = "failed", err.Error()
		return out
	}
	if upd.Duplicate {
		out.Outcome = "duplicate"
		return out
	}
	out.Outcome, out.FormalUnits = "accumulated", upd.FormalUnits
	return out
}
