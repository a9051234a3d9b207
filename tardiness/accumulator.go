package tardiness

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/warp/attendance-engine/calendar"
)

// Update is the outcome of accumulating one event.
type Update struct {
	Accumulation Accumulation
	FormalUnits  int  // formal tardy units emitted by this event
	Duplicate    bool // the session had already been accumulated
}

// Accumulator classifies late check-ins and accumulates them.
type Accumulator struct {
	Store  Store
	Clock  *calendar.Clock
	Logger *log.Logger

	// OnAccumulated runs after every non-duplicate update, typically the
	// disciplinary escalator. Errors are the hook's to log.
	OnAccumulated func(ctx context.Context, employeeID string)

	table atomic.Pointer[RuleTable]
}

// NewAccumulator creates an Accumulator with no rules loaded.
func NewAccumulator(store Store, clock *calendar.Clock, logger *log.Logger) *Accumulator {
	return &Accumulator{Store: store, Clock: clock, Logger: logger}
}

func (a *Accumulator) logf(format string, args ...any) {
	l := a.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf("[Tardiness] "+format, args...)
}

// LoadRules builds a new table from src and swaps it in. On a configuration
// error the previous table stays in place.
func (a *Accumulator) LoadRules(ctx context.Context, src RuleSource) error {
	rules, err := src.ListTardinessRules(ctx, true)
	if err != nil {
		return fmt.Errorf("list tardiness rules: %w", err)
	}
	table, err := NewRuleTable(rules)
	if err != nil {
		return err
	}
	a.SetTable(table)
	a.logf("Loaded %d active rules", table.Len())
	return nil
}

// SetTable installs an already validated table.
func (a *Accumulator) SetTable(t *RuleTable) { a.table.Store(t) }

// Table returns the current table, or nil before the first load.
func (a *Accumulator) Table() *RuleTable { return a.table.Load() }

// LateMinutes is max(0, whole minutes between scheduledStart and checkIn).
func LateMinutes(checkIn, scheduledStart time.Time) int {
	late := checkIn.Sub(scheduledStart)
	if late <= 0 {
		return 0
	}
	return int(late / time.Minute)
}

// Classify maps a check-in to an event. Returns nil, nil for an on-time
// check-in and a *ConfigError when no rule covers the lateness.
func (a *Accumulator) Classify(employeeID string, checkIn, scheduledStart time.Time) (*Event, error) {
	minutes := LateMinutes(checkIn, scheduledStart)
	if minutes == 0 {
		return nil, nil
	}

	table := a.Table()
	if table == nil {
		return nil, ErrNoRules
	}
	rule, err := table.Lookup(minutes)
	if err != nil {
		return nil, err
	}

	return &Event{
		EmployeeID:     employeeID,
		Day:            a.Clock.DayOf(checkIn),
		CheckIn:        checkIn,
		ScheduledStart: scheduledStart,
		LateMinutes:    minutes,
		Rule:           rule,
	}, nil
}

// Accumulate adds ev to the employee's counters for the month of ev.Day.
func (a *Accumulator) Accumulate(ctx context.Context, ev Event) (Update, error) {
	if ev.SessionID == "" {
		return Update{}, errors.New("tardiness event without session id")
	}

	var units int
	acc, err := a.Store.ApplyEvent(ctx, ev, ev.Day.MonthKey(), func(acc *Accumulation) []Trigger {
		units = apply(acc, ev)
		return triggersFor(ev, units)
	})
	if errors.Is(err, ErrDuplicateEvent) {
		return Update{Duplicate: true}, nil
	}
	if err != nil {
		return Update{}, fmt.Errorf("apply tardiness event: %w", err)
	}

	if units > 0 {
		a.logf("%s reached %d formal tardies in %s (rule %s)", ev.EmployeeID, acc.FormalTardies, acc.Period, ev.Rule.ID)
	}
	if a.OnAccumulated != nil {
		a.OnAccumulated(ctx, ev.EmployeeID)
	}
	return Update{Accumulation: acc, FormalUnits: units}, nil
}

// apply increments the counters and returns the formal units emitted.
// Emission follows the counter of the event's type; RuleCounts is a
// breakdown only.
func apply(acc *Accumulation, ev Event) int {
	if acc.RuleCounts == nil {
		acc.RuleCounts = map[string]int{}
	}
	acc.RuleCounts[ev.Rule.ID]++

	var count int
	switch ev.Rule.Type {
	case LateArrival:
		acc.LateArrivals++
		count = acc.LateArrivals
	case DirectTardiness:
		acc.DirectTardies++
		count = acc.DirectTardies
	}
	if count%ev.Rule.AccumulationCount != 0 {
		return 0
	}
	acc.FormalTardies += ev.Rule.EquivalentFormalTardies
	return ev.Rule.EquivalentFormalTardies
}

func triggersFor(ev Event, formalUnits int) []Trigger {
	triggers := []Trigger{{
		ID:         uuid.NewString(),
		EmployeeID: ev.EmployeeID,
		Kind:       TriggerKind(ev.Rule.Type),
		Units:      1,
		OccurredAt: ev.CheckIn,
		SourceID:   ev.SessionID,
	}}
	if formalUnits > 0 {
		triggers = append(triggers, Trigger{
			ID:         uuid.NewString(),
			EmployeeID: ev.EmployeeID,
			Kind:       TriggerFormalTardy,
			Units:      formalUnits,
			OccurredAt: ev.CheckIn,
			SourceID:   ev.SessionID,
		})
	}
	return triggers
}

// RecordAdministrativeAct counts a disciplinary act against the month.
func (a *Accumulator) RecordAdministrativeAct(ctx context.Context, employeeID string, period calendar.MonthKey) error {
	return a.Store.IncrementAdministrativeActs(ctx, employeeID, period)
}
