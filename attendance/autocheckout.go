package attendance

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/calendar"
)

// DefaultMaxPlausibleHours flags auto-closed sessions longer than this.
var DefaultMaxPlausibleHours = decimal.NewFromInt(16)

// Outcome is the per-session result of an auto-checkout pass.
type Outcome string

const (
	OutcomeClosed   Outcome = "closed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeConflict Outcome = "conflict" // closed by another writer between read and write
	OutcomeFailed   Outcome = "failed"
)

// SessionResult records what happened to one session.
type SessionResult struct {
	SessionID   string           `json:"session_id"`
	EmployeeID  string           `json:"employee_id"`
	Day         string           `json:"day"`
	Outcome     Outcome          `json:"outcome"`
	Reason      string           `json:"reason,omitempty"`
	CheckOut    *time.Time       `json:"check_out,omitempty"`
	WorkedHours *decimal.Decimal `json:"worked_hours,omitempty"`
	Status      Status           `json:"status,omitempty"`
	Err         error            `json:"-"`
}

// Result summarises a run. Processed counts sessions this run closed.
type Result struct {
	TargetDay string          `json:"target_day"`
	Processed int             `json:"processed"`
	Errors    int             `json:"errors"`
	Skipped   int             `json:"skipped"`
	Conflicts int             `json:"conflicts"`
	Results   []SessionResult `json:"results"`
}

func (r *Result) add(sr SessionResult) {
	switch sr.Outcome {
	case OutcomeClosed:
		r.Processed++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeConflict:
		r.Conflicts++
	case OutcomeFailed:
		r.Errors++
	}
	r.Results = append(r.Results, sr)
}

// AutoCheckout closes sessions employees forgot to end.
type AutoCheckout struct {
	Store Store
	Clock *calendar.Clock

	// UnpaidBreak is deducted from every auto-closed session.
	UnpaidBreak time.Duration

	// MaxPlausibleHours marks longer sessions ABNORMAL. Zero means
	// DefaultMaxPlausibleHours.
	MaxPlausibleHours decimal.Decimal

	Logger *log.Logger
}

// NewAutoCheckout creates an engine with default thresholds.
func NewAutoCheckout(store Store, clock *calendar.Clock, logger *log.Logger) *AutoCheckout {
	return &AutoCheckout{
		Store:             store,
		Clock:             clock,
		MaxPlausibleHours: DefaultMaxPlausibleHours,
		Logger:            logger,
	}
}

func (e *AutoCheckout) logf(format string, args ...any) {
	l := e.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf("[AutoCheckout] "+format, args...)
}

// Run closes every eligible open session dated on or before target
// (today when nil). A failure on one session is counted and the batch
// continues. Cancellation is honoured between sessions only.
func (e *AutoCheckout) Run(ctx context.Context, target *calendar.Day) (Result, error) {
	now := e.Clock.Now()
	today := e.Clock.DayOf(now)
	day := today
	if target != nil {
		day = *target
	}

	result := Result{TargetDay: day.String(), Results: []SessionResult{}}

	sessions, err := e.Store.FindOpenSessions(ctx, day)
	if err != nil {
		return result, fmt.Errorf("find open sessions: %w", err)
	}

	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			e.logf("Cancelled after %d of %d sessions", len(result.Results), len(sessions))
			return result, err
		}
		sr := e.process(ctx, s, now, today)
		if sr.Outcome == OutcomeFailed {
			e.logf("Error closing session %s for %s: %v", s.ID, s.EmployeeID, sr.Err)
		}
		result.add(sr)
	}

	if len(sessions) > 0 {
		e.logf("Completed for %s: %d processed, %d errors, %d skipped, %d conflicts",
			day, result.Processed, result.Errors, result.Skipped, result.Conflicts)
	}
	return result, nil
}

func (e *AutoCheckout) process(ctx context.Context, s Session, now time.Time, today calendar.Day) SessionResult {
	sr := SessionResult{SessionID: s.ID, EmployeeID: s.EmployeeID, Day: s.Day.String()}

	if !s.IsOpen() {
		sr.Outcome, sr.Reason = OutcomeSkipped, "already closed"
		return sr
	}
	if s.Day.After(today) {
		sr.Outcome, sr.Reason = OutcomeSkipped, "future day"
		return sr
	}

	period, err := e.Store.FindShiftPeriod(ctx, s.EmployeeID, s.Day.Weekday())
	if err != nil {
		sr.Outcome, sr.Err = OutcomeFailed, fmt.Errorf("find shift period: %w", err)
		return sr
	}
	if period == nil {
		sr.Outcome, sr.Reason = OutcomeSkipped, "no shift period for "+s.Day.Weekday().String()
		return sr
	}
	if now.Before(period.DueAt(e.Clock, s.Day)) {
		sr.Outcome, sr.Reason = OutcomeSkipped, "grace period not elapsed"
		return sr
	}

	req := e.closeRequest(s, period.EndOn(e.Clock, s.Day))

	ok, err := e.Store.CloseSessionIfOpen(ctx, s.ID, req)
	if err != nil {
		sr.Outcome, sr.Err = OutcomeFailed, fmt.Errorf("close session: %w", err)
		return sr
	}
	if !ok {
		sr.Outcome, sr.Reason = OutcomeConflict, ErrAlreadyClosed.Error()
		return sr
	}

	sr.Outcome = OutcomeClosed
	sr.CheckOut = &req.CheckOut
	sr.WorkedHours = &req.WorkedHours
	sr.Status = req.Status
	return sr
}

// closeRequest builds the write for closing s at shiftEnd.
func (e *AutoCheckout) closeRequest(s Session, shiftEnd time.Time) CloseRequest {
	status := StatusAutoClosed
	checkOut := shiftEnd
	if checkOut.Before(s.CheckIn) {
		// checked in after the shift had already ended
		checkOut = s.CheckIn
		status = StatusAbnormal
	}

	hours := WorkedHours(s.CheckIn, checkOut, e.UnpaidBreak)

	ceiling := e.MaxPlausibleHours
	if ceiling.IsZero() {
		ceiling = DefaultMaxPlausibleHours
	}
	if hours.IsZero() || hours.GreaterThan(ceiling) {
		status = StatusAbnormal
	}

	return CloseRequest{
		CheckOut:    checkOut,
		Method:      MethodAuto,
		WorkedHours: hours,
		Status:      status,
	}
}

// WorkedHours is (out - in - unpaidBreak) in hours, clamped at zero and
// rounded to two decimal places.
func WorkedHours(in, out time.Time, unpaidBreak time.Duration) decimal.Decimal {
	worked := out.Sub(in) - unpaidBreak
	if worked < 0 {
		worked = 0
	}
	seconds := decimal.NewFromInt(int64(worked / time.Second))
	return seconds.Div(decimal.NewFromInt(3600)).Round(2)
}
