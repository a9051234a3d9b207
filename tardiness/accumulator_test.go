/*
accumulator_test.go - Tests for tardiness classification and accumulation

Tests for:
- Late minute computation and classification
- Formal tardy emission every AccumulationCount events of a type
- Idempotency per session and monthly buckets
- Daily incident calculation on first check-ins
*/
package tardiness_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/store/memory"
	"github.com/warp/attendance-engine/tardiness"
)

func newAccumulator(t *testing.T) (*tardiness.Accumulator, *memory.Store) {
	t.Helper()
	store := memory.New()
	clock := calendar.NewClock(time.UTC, calendar.WithNow(func() time.Time {
		return time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	}))
	acc := tardiness.NewAccumulator(store, clock, nil)

	for _, r := range standardRules() {
		require.NoError(t, store.SaveTardinessRule(context.Background(), r))
	}
	require.NoError(t, acc.LoadRules(context.Background(), store))
	return acc, store
}

func at(day, hhmm string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", day+" "+hhmm)
	if err != nil {
		panic(err)
	}
	return t
}

func TestLateMinutes(t *testing.T) {
	start := at("2024-01-15", "09:00")

	assert.Equal(t, 0, tardiness.LateMinutes(start.Add(-5*time.Minute), start))
	assert.Equal(t, 0, tardiness.LateMinutes(start, start))
	assert.Equal(t, 0, tardiness.LateMinutes(start.Add(59*time.Second), start))
	assert.Equal(t, 12, tardiness.LateMinutes(start.Add(12*time.Minute+30*time.Second), start))
}

func TestClassify_OnTimeReturnsNil(t *testing.T) {
	acc, _ := newAccumulator(t)

	ev, err := acc.Classify("emp-1", at("2024-01-15", "08:58"), at("2024-01-15", "09:00"))
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestClassify_WithoutRulesFails(t *testing.T) {
	store := memory.New()
	acc := tardiness.NewAccumulator(store, calendar.NewClock(time.UTC), nil)

	_, err := acc.Classify("emp-1", at("2024-01-15", "09:12"), at("2024-01-15", "09:00"))
	assert.ErrorIs(t, err, tardiness.ErrNoRules)
}

func TestLoadRules_KeepsPreviousTableOnError(t *testing.T) {
	acc, store := newAccumulator(t)
	before := acc.Table()

	// overlapping rule added later
	require.NoError(t, store.SaveTardinessRule(context.Background(), tardiness.Rule{
		ID: "bad", Type: tardiness.LateArrival, StartMinute: 5, EndMinute: intp(15),
		AccumulationCount: 1, EquivalentFormalTardies: 1, Active: true,
	}))

	err := acc.LoadRules(context.Background(), store)
	assert.True(t, tardiness.IsConfigError(err))
	assert.Same(t, before, acc.Table())
}

func TestAccumulate_ThirdEventEmitsOneFormalTardy(t *testing.T) {
	// GIVEN: start 09:00, check-in 09:12, rule [10,20) counting 3 for 1
	acc, store := newAccumulator(t)
	ctx := context.Background()

	var last tardiness.Update
	for i, day := range []string{"2024-01-15", "2024-01-16", "2024-01-17"} {
		ev, err := acc.Classify("emp-1", at(day, "09:12"), at(day, "09:00"))
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, 12, ev.LateMinutes)
		assert.Equal(t, "late-major", ev.Rule.ID)

		ev.SessionID = fmt.Sprintf("s-%d", i)
		last, err = acc.Accumulate(ctx, *ev)
		require.NoError(t, err)

		// THEN: nothing formal before the third
		if i < 2 {
			assert.Equal(t, 0, last.FormalUnits)
			assert.Equal(t, 0, last.Accumulation.FormalTardies)
		}
	}

	// THEN: the third event adds exactly one formal tardy
	assert.Equal(t, 1, last.FormalUnits)
	assert.Equal(t, 1, last.Accumulation.FormalTardies)
	assert.Equal(t, 3, last.Accumulation.LateArrivals)
	assert.Equal(t, 3, last.Accumulation.RuleCounts["late-major"])

	stored, err := store.GetAccumulation(ctx, "emp-1", calendar.MonthKey{Year: 2024, Month: time.January})
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FormalTardies)

	// and the escalator's inputs were recorded
	from := at("2024-01-01", "00:00")
	to := at("2024-02-01", "00:00")
	raw, _ := store.ListTriggers(ctx, "emp-1", tardiness.TriggerLateArrival, from, to)
	formal, _ := store.ListTriggers(ctx, "emp-1", tardiness.TriggerFormalTardy, from, to)
	assert.Len(t, raw, 3)
	require.Len(t, formal, 1)
	assert.Equal(t, 1, formal[0].Units)
	assert.Equal(t, "s-2", formal[0].SourceID)
}

func TestAccumulate_CountsPerTypeAcrossRanges(t *testing.T) {
	// GIVEN: two LATE_ARRIVAL ranges, each counting 3 for 1
	acc, store := newAccumulator(t)
	table, err := tardiness.NewRuleTable([]tardiness.Rule{
		{ID: "a", Type: tardiness.LateArrival, StartMinute: 1, EndMinute: intp(10), EquivalentFormalTardies: 1, AccumulationCount: 3, Active: true},
		{ID: "b", Type: tardiness.LateArrival, StartMinute: 10, EndMinute: intp(20), EquivalentFormalTardies: 1, AccumulationCount: 3, Active: true},
	})
	require.NoError(t, err)
	acc.SetTable(table)
	ctx := context.Background()

	// WHEN: late arrivals alternate between the ranges
	var last tardiness.Update
	for i, hhmm := range []string{"09:05", "09:12", "09:05"} {
		day := fmt.Sprintf("2024-01-%02d", 15+i)
		ev, err := acc.Classify("emp-1", at(day, hhmm), at(day, "09:00"))
		require.NoError(t, err)
		ev.SessionID = fmt.Sprintf("s-%d", i)
		last, err = acc.Accumulate(ctx, *ev)
		require.NoError(t, err)
	}

	// THEN: the third late arrival of the type emits a formal tardy
	assert.Equal(t, 1, last.FormalUnits)
	assert.Equal(t, 3, last.Accumulation.LateArrivals)
	assert.Equal(t, 1, last.Accumulation.FormalTardies)
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, last.Accumulation.RuleCounts)

	stored, err := store.GetAccumulation(ctx, "emp-1", calendar.MonthKey{Year: 2024, Month: time.January})
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FormalTardies)
}

func TestAccumulate_SameSessionCountsOnce(t *testing.T) {
	acc, _ := newAccumulator(t)
	ctx := context.Background()

	ev, err := acc.Classify("emp-1", at("2024-01-15", "09:25"), at("2024-01-15", "09:00"))
	require.NoError(t, err)
	ev.SessionID = "s-1"

	first, err := acc.Accumulate(ctx, *ev)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, 1, first.Accumulation.DirectTardies)
	assert.Equal(t, 1, first.FormalUnits) // direct counts 1 for 1

	second, err := acc.Accumulate(ctx, *ev)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
}

func TestAccumulate_NewMonthStartsNewRow(t *testing.T) {
	acc, store := newAccumulator(t)
	ctx := context.Background()

	for i, day := range []string{"2024-01-30", "2024-01-31", "2024-02-01"} {
		ev, err := acc.Classify("emp-1", at(day, "09:12"), at(day, "09:00"))
		require.NoError(t, err)
		ev.SessionID = fmt.Sprintf("s-%d", i)
		_, err = acc.Accumulate(ctx, *ev)
		require.NoError(t, err)
	}

	jan, _ := store.GetAccumulation(ctx, "emp-1", calendar.MonthKey{Year: 2024, Month: time.January})
	feb, _ := store.GetAccumulation(ctx, "emp-1", calendar.MonthKey{Year: 2024, Month: time.February})
	assert.Equal(t, 2, jan.LateArrivals)
	assert.Equal(t, 0, jan.FormalTardies)
	assert.Equal(t, 1, feb.LateArrivals)
	assert.Equal(t, 0, feb.FormalTardies)
}

func TestAccumulate_CallsHookForNewEventsOnly(t *testing.T) {
	acc, _ := newAccumulator(t)
	ctx := context.Background()
	var calls []string
	acc.OnAccumulated = func(_ context.Context, emp string) { calls = append(calls, emp) }

	ev, err := acc.Classify("emp-1", at("2024-01-15", "09:05"), at("2024-01-15", "09:00"))
	require.NoError(t, err)
	ev.SessionID = "s-1"
	_, _ = acc.Accumulate(ctx, *ev)
	_, _ = acc.Accumulate(ctx, *ev)

	assert.Equal(t, []string{"emp-1"}, calls)
}

func TestAccumulate_RequiresSessionID(t *testing.T) {
	acc, _ := newAccumulator(t)

	ev, err := acc.Classify("emp-1", at("2024-01-15", "09:05"), at("2024-01-15", "09:00"))
	require.NoError(t, err)

	_, err = acc.Accumulate(context.Background(), *ev)
	assert.Error(t, err)
}

func TestIncidentCalculator_RunIsIdempotent(t *testing.T) {
	// GIVEN: a Monday shift starting 09:00 and three check-ins
	acc, store := newAccumulator(t)
	ctx := context.Background()
	monday := calendar.MustParseDay("2024-01-15")

	require.NoError(t, store.SaveShiftPeriod(ctx, attendance.ShiftPeriod{
		ShiftID: "day", Weekday: time.Monday,
		Start: calendar.MustParseTimeOfDay("09:00"), End: calendar.MustParseTimeOfDay("18:00"),
	}))
	for _, emp := range []string{"emp-1", "emp-2", "emp-3"} {
		require.NoError(t, store.AssignShift(ctx, emp, "day"))
	}
	checkIns := map[string]string{"emp-1": "09:12", "emp-2": "08:55", "emp-3": "09:40"}
	for emp, hhmm := range checkIns {
		require.NoError(t, store.CreateSession(ctx, attendance.Session{
			ID: "s-" + emp, EmployeeID: emp, Day: monday, CheckIn: at("2024-01-15", hhmm),
			CheckInMethod: attendance.MethodBiometric, Status: attendance.StatusOpen,
		}))
	}
	calc := &tardiness.IncidentCalculator{Sessions: store, Accumulator: acc, Clock: acc.Clock}

	// WHEN: the incident calculation runs twice
	first, err := calc.Run(ctx, monday)
	require.NoError(t, err)
	second, err := calc.Run(ctx, monday)
	require.NoError(t, err)

	// THEN: two late sessions counted once, the on-time one skipped
	assert.Equal(t, 2, first.Processed)
	assert.Equal(t, 1, first.Skipped)
	assert.Equal(t, 1, first.FormalUnits) // emp-3 direct tardiness
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 3, second.Skipped)

	a1, _ := store.GetAccumulation(ctx, "emp-1", monday.MonthKey())
	assert.Equal(t, 1, a1.LateArrivals)
	a3, _ := store.GetAccumulation(ctx, "emp-3", monday.MonthKey())
	assert.Equal(t, 1, a3.DirectTardies)
}

func TestIncidentCalculator_ConfigErrorIsReported(t *testing.T) {
	// GIVEN: a table without direct tardiness
	acc, store := newAccumulator(t)
	table, err := tardiness.NewRuleTable(standardRules()[:2])
	require.NoError(t, err)
	acc.SetTable(table)

	ctx := context.Background()
	monday := calendar.MustParseDay("2024-01-15")
	require.NoError(t, store.SaveShiftPeriod(ctx, attendance.ShiftPeriod{
		ShiftID: "day", Weekday: time.Monday,
		Start: calendar.MustParseTimeOfDay("09:00"), End: calendar.MustParseTimeOfDay("18:00"),
	}))
	require.NoError(t, store.AssignShift(ctx, "emp-1", "day"))
	require.NoError(t, store.CreateSession(ctx, attendance.Session{
		ID: "s-1", EmployeeID: "emp-1", Day: monday, CheckIn: at("2024-01-15", "10:00"),
		CheckInMethod: attendance.MethodManual, Status: attendance.StatusOpen,
	}))

	calc := &tardiness.IncidentCalculator{Sessions: store, Accumulator: acc, Clock: acc.Clock}
	res, err := calc.Run(ctx, monday)
	require.NoError(t, err)

	// THEN: surfaced, not silently dropped
	assert.Equal(t, 1, res.ConfigErrors)
	assert.Equal(t, "config_error", res.Results[0].Outcome)
}

func TestIncidentCalculator_OnlyFirstCheckInOfDayCounts(t *testing.T) {
	// GIVEN: on time at 08:55, out for lunch at 12:00, back at 13:00
	acc, store := newAccumulator(t)
	ctx := context.Background()
	monday := calendar.MustParseDay("2024-01-15")
	require.NoError(t, store.SaveShiftPeriod(ctx, attendance.ShiftPeriod{
		ShiftID: "day", Weekday: time.Monday,
		Start: calendar.MustParseTimeOfDay("09:00"), End: calendar.MustParseTimeOfDay("18:00"),
	}))
	require.NoError(t, store.AssignShift(ctx, "emp-1", "day"))

	lunch := at("2024-01-15", "12:00")
	require.NoError(t, store.CreateSession(ctx, attendance.Session{
		ID: "s-morning", EmployeeID: "emp-1", Day: monday, CheckIn: at("2024-01-15", "08:55"),
		CheckOut: &lunch, CheckInMethod: attendance.MethodManual, CheckOutMethod: attendance.MethodManual,
		Status: attendance.StatusComplete,
	}))
	require.NoError(t, store.CreateSession(ctx, attendance.Session{
		ID: "s-afternoon", EmployeeID: "emp-1", Day: monday, CheckIn: at("2024-01-15", "13:00"),
		CheckInMethod: attendance.MethodManual, Status: attendance.StatusOpen,
	}))

	calc := &tardiness.IncidentCalculator{Sessions: store, Accumulator: acc, Clock: acc.Clock}

	// WHEN: the incident calculation runs
	res, err := calc.Run(ctx, monday)
	require.NoError(t, err)

	// THEN: the morning arrival is on time, the return from lunch is not an arrival
	require.Len(t, res.Results, 2)
	assert.Equal(t, "on_time", res.Results[0].Outcome)
	assert.Equal(t, "not_first", res.Results[1].Outcome)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 0, res.FormalUnits)

	stored, err := store.GetAccumulation(ctx, "emp-1", monday.MonthKey())
	require.NoError(t, err)
	assert.Nil(t, stored)
}
