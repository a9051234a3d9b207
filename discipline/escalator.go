package discipline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/warp/attendance-engine/calendar"
)

// Escalator evaluates disciplinary rules against rolling trigger windows.
type Escalator struct {
	Store  Store
	Rules  RuleSource
	Clock  *calendar.Clock
	Logger *log.Logger

	// Acts, when set, is told about every record created.
	Acts ActsRecorder
}

// NewEscalator creates an Escalator.
func NewEscalator(store Store, rules RuleSource, clock *calendar.Clock, logger *log.Logger) *Escalator {
	return &Escalator{Store: store, Rules: rules, Clock: clock, Logger: logger}
}

func (e *Escalator) logf(format string, args ...any) {
	l := e.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf("[Discipline] "+format, args...)
}

// SweepResult summarises a periodic sweep.
type SweepResult struct {
	Evaluated int      `json:"evaluated"`
	Created   []Record `json:"-"`
	Completed []string `json:"completed"`
	Errors    int      `json:"errors"`
}

// activeRules lists, validates and orders the active rules: per trigger
// type, highest threshold first, ties by rule id. Invalid rules are
// returned as errors and left out.
func (e *Escalator) activeRules(ctx context.Context) ([]ActionRule, error) {
	all, err := e.Rules.ListDisciplinaryRules(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list disciplinary rules: %w", err)
	}

	var rules []ActionRule
	var errs []error
	for _, r := range all {
		if !r.Active {
			continue
		}
		if err := ValidateRule(r); err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, r)
	}

	sort.Slice(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.TriggerType != b.TriggerType {
			return a.TriggerType < b.TriggerType
		}
		if a.TriggerCount != b.TriggerCount {
			return a.TriggerCount > b.TriggerCount
		}
		return a.ID < b.ID
	})
	return rules, errors.Join(errs...)
}

// Evaluate creates a record for every rule whose threshold the employee has
// crossed inside its window. Re-evaluating unchanged state creates nothing.
// Configuration errors are returned joined, after the valid rules ran.
func (e *Escalator) Evaluate(ctx context.Context, employeeID string) ([]Record, error) {
	rules, cfgErr := e.activeRules(ctx)
	if cfgErr != nil && rules == nil && !IsConfigError(cfgErr) {
		return nil, cfgErr
	}

	existing, err := e.Store.ListRecords(ctx, RecordFilter{EmployeeID: employeeID})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	now := e.Clock.Now()
	today := e.Clock.DayOf(now)

	var created []Record
	var errs []error
	if cfgErr != nil {
		errs = append(errs, cfgErr)
	}

	for _, rule := range rules {
		rec, err := e.evaluateRule(ctx, rule, employeeID, existing, now, today)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if rec == nil {
			continue
		}
		existing = append(existing, *rec)
		created = append(created, *rec)

		if e.Acts != nil {
			if err := e.Acts.RecordAdministrativeAct(ctx, employeeID, today.MonthKey()); err != nil {
				e.logf("Failed to count administrative act for %s: %v", employeeID, err)
			}
		}
	}

	return created, errors.Join(errs...)
}

func (e *Escalator) evaluateRule(ctx context.Context, rule ActionRule, employeeID string, existing []Record, now time.Time, today calendar.Day) (*Record, error) {
	from := now.AddDate(0, 0, -rule.PeriodDays)
	if consumed := consumedThrough(existing, rule); consumed.After(from) {
		from = consumed
	}

	triggers, err := e.Store.ListTriggers(ctx, employeeID, rule.TriggerType, from, now)
	if err != nil {
		return nil, fmt.Errorf("list triggers for rule %s: %w", rule.ID, err)
	}

	units, crossing := 0, -1
	for i, t := range triggers {
		units += t.Units
		if units >= rule.TriggerCount {
			crossing = i
			break
		}
	}
	if crossing < 0 {
		return nil, nil
	}

	rec := Record{
		ID:             uuid.NewString(),
		EmployeeID:     employeeID,
		RuleID:         rule.ID,
		TriggerType:    rule.TriggerType,
		TriggerCount:   rule.TriggerCount,
		CountedUnits:   units,
		WindowStart:    e.Clock.DayOf(triggers[0].OccurredAt),
		WindowEnd:      triggers[crossing].OccurredAt,
		FirstTriggerID: triggers[0].ID,
		ActionType:     rule.ActionType,
		State:          StateActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if rule.RequiresApproval {
		rec.State = StatePending
	}
	schedule(rule, &rec, today)
	if err := validateRecord(rec); err != nil {
		return nil, err
	}

	// A concurrent evaluation of the same crossing already stored it.
	if err := e.Store.CreateRecord(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			return nil, nil
		}
		return nil, fmt.Errorf("create record for rule %s: %w", rule.ID, err)
	}

	e.logf("Created %s %s for %s (rule %s, %d %s since %s)",
		rec.State, rec.ActionType, employeeID, rule.ID, units, rule.TriggerType, rec.WindowStart)
	return &rec, nil
}

// consumedThrough is the latest WindowEnd among records of the same trigger
// type whose threshold is at least rule's. Those triggers already produced
// an escalation at this level or above.
func consumedThrough(records []Record, rule ActionRule) time.Time {
	var latest time.Time
	for _, r := range records {
		if r.TriggerType != rule.TriggerType || r.TriggerCount < rule.TriggerCount {
			continue
		}
		if r.WindowEnd.After(latest) {
			latest = r.WindowEnd
		}
	}
	return latest
}

// CompleteExpired moves every ACTIVE record past its expiration to COMPLETED.
func (e *Escalator) CompleteExpired(ctx context.Context) ([]string, error) {
	active, err := e.Store.ListRecords(ctx, RecordFilter{State: StateActive})
	if err != nil {
		return nil, fmt.Errorf("list active records: %w", err)
	}

	now := e.Clock.Now()
	today := e.Clock.DayOf(now)

	var completed []string
	var errs []error
	for _, rec := range active {
		if !rec.Expired(today) {
			continue
		}
		if err := rec.Complete(today, now); err != nil {
			errs = append(errs, err)
			continue
		}
		ok, err := e.Store.TransitionRecord(ctx, rec.ID, StateActive, rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("complete record %s: %w", rec.ID, err))
			continue
		}
		if ok {
			completed = append(completed, rec.ID)
		}
	}
	return completed, errors.Join(errs...)
}

// Sweep evaluates every employee with triggers inside the widest rule
// window, then completes expired records.
func (e *Escalator) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	rules, err := e.activeRules(ctx)
	if err != nil {
		e.logf("Rule configuration: %v", err)
		if !IsConfigError(err) {
			return result, err
		}
	}

	maxDays := 0
	for _, r := range rules {
		if r.PeriodDays > maxDays {
			maxDays = r.PeriodDays
		}
	}

	if maxDays > 0 {
		since := e.Clock.Now().AddDate(0, 0, -maxDays)
		employees, err := e.Store.ListTriggeredEmployees(ctx, since)
		if err != nil {
			return result, fmt.Errorf("list triggered employees: %w", err)
		}

		for _, emp := range employees {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			created, err := e.Evaluate(ctx, emp)
			result.Evaluated++
			result.Created = append(result.Created, created...)
			if err != nil && !onlyConfigErrors(err) {
				result.Errors++
				e.logf("Error evaluating %s: %v", emp, err)
			}
		}
	}

	completed, err := e.CompleteExpired(ctx)
	result.Completed = completed
	if err != nil {
		result.Errors++
		e.logf("Error completing expired records: %v", err)
	}

	e.logf("Sweep: %d evaluated, %d created, %d completed, %d errors",
		result.Evaluated, len(result.Created), len(result.Completed), result.Errors)
	return result, nil
}

// onlyConfigErrors reports whether every error joined in err is a
// configuration error.
func onlyConfigErrors(err error) bool {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if !onlyConfigErrors(e) {
				return false
			}
		}
		return true
	}
	return IsConfigError(err)
}
