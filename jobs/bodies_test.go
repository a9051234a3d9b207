/*
bodies_test.go - Tests for the daily, monthly and alert job bodies

Tests for:
- Daily run closing yesterday's sessions before accumulating them
- Subtype selection
- Monthly summary of the previous month
*/
package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/discipline"
	"github.com/warp/attendance-engine/jobs"
	"github.com/warp/attendance-engine/store/memory"
	"github.com/warp/attendance-engine/tardiness"
)

type env struct {
	ctx    context.Context
	now    *time.Time
	store  *memory.Store
	svc    *attendance.Service
	bodies *jobs.Bodies
}

// newEnv wires the engines on a memory store with a Monday 08:00-17:00
// shift (no grace) and one unbounded late-arrival rule (3 events = 1 formal).
func newEnv(t *testing.T, now time.Time) *env {
	t.Helper()
	e := &env{ctx: context.Background(), now: &now, store: memory.New()}
	clock := calendar.NewClock(time.UTC, calendar.WithNow(func() time.Time { return *e.now }))

	require.NoError(t, e.store.SaveShiftPeriod(e.ctx, attendance.ShiftPeriod{
		ShiftID: "day", Weekday: time.Monday,
		Start: calendar.MustParseTimeOfDay("08:00"), End: calendar.MustParseTimeOfDay("17:00"),
	}))
	require.NoError(t, e.store.AssignShift(e.ctx, "emp-1", "day"))
	require.NoError(t, e.store.SaveTardinessRule(e.ctx, tardiness.Rule{
		ID: "late", Name: "Late", Type: tardiness.LateArrival, StartMinute: 1,
		EquivalentFormalTardies: 1, AccumulationCount: 3, Active: true,
	}))

	acc := tardiness.NewAccumulator(e.store, clock, nil)
	require.NoError(t, acc.LoadRules(e.ctx, e.store))
	esc := discipline.NewEscalator(e.store, e.store, clock, nil)
	esc.Acts = acc

	e.svc = attendance.NewService(e.store, clock, 0)
	e.bodies = &jobs.Bodies{
		AutoCheckout:  attendance.NewAutoCheckout(e.store, clock, nil),
		Incidents:     &tardiness.IncidentCalculator{Sessions: e.store, Accumulator: acc, Clock: clock},
		Escalator:     esc,
		Accumulations: e.store,
		Clock:         clock,
	}
	return e
}

func TestDaily_ClosesThenAccumulatesYesterday(t *testing.T) {
	// GIVEN: emp-1 checked in 15 minutes late on Monday and never left
	e := newEnv(t, time.Date(2024, 1, 16, 1, 0, 0, 0, time.UTC))
	s, err := e.svc.CheckIn(e.ctx, "emp-1", time.Date(2024, 1, 15, 8, 15, 0, 0, time.UTC), attendance.MethodBiometric)
	require.NoError(t, err)

	// WHEN: the daily job runs on Tuesday
	sum, err := e.bodies.Daily(e.ctx, "")
	require.NoError(t, err)

	// THEN: the session is auto-closed and its lateness accumulated
	assert.Equal(t, 1, sum.Details["checkout.closed"])
	assert.Equal(t, 1, sum.Details["incidents.accumulated"])
	assert.Equal(t, 0, sum.Details["discipline.created"])
	assert.Contains(t, sum.Created, s.ID)
	assert.Zero(t, sum.Errors)

	closed, err := e.store.GetSession(e.ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.MethodAuto, closed.CheckOutMethod)

	acc, err := e.store.GetAccumulation(e.ctx, "emp-1", calendar.MonthKey{Year: 2024, Month: time.January})
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, 1, acc.LateArrivals)

	// AND: a re-run changes nothing
	sum, err = e.bodies.Daily(e.ctx, "")
	require.NoError(t, err)
	assert.Zero(t, sum.Details["checkout.closed"])
	assert.Zero(t, sum.Details["incidents.accumulated"])
}

func TestDaily_SubtypeRunsOnlyThatPart(t *testing.T) {
	e := newEnv(t, time.Date(2024, 1, 16, 1, 0, 0, 0, time.UTC))
	_, err := e.svc.CheckIn(e.ctx, "emp-1", time.Date(2024, 1, 15, 8, 15, 0, 0, time.UTC), attendance.MethodBiometric)
	require.NoError(t, err)

	sum, err := e.bodies.Daily(e.ctx, jobs.SubtypeIncidents)
	require.NoError(t, err)

	_, ran := sum.Details["checkout.closed"]
	assert.False(t, ran)
	assert.Equal(t, 1, sum.Details["incidents.accumulated"])
}

func TestMonthly_SummarisesPreviousMonth(t *testing.T) {
	// GIVEN: January activity
	e := newEnv(t, time.Date(2024, 1, 16, 1, 0, 0, 0, time.UTC))
	_, err := e.svc.CheckIn(e.ctx, "emp-1", time.Date(2024, 1, 15, 8, 15, 0, 0, time.UTC), attendance.MethodBiometric)
	require.NoError(t, err)
	_, err = e.bodies.Daily(e.ctx, "")
	require.NoError(t, err)

	// WHEN: the monthly job runs in February
	*e.now = time.Date(2024, 2, 1, 1, 0, 0, 0, time.UTC)
	sum, err := e.bodies.Monthly(e.ctx, jobs.SubtypeSummary)
	require.NoError(t, err)

	// THEN: January is summarised
	assert.Equal(t, 1, sum.Details["summary.employees"])
	assert.Equal(t, 1, sum.Details["summary.late_arrivals"])
}

func TestJobs_RunThroughOrchestrator(t *testing.T) {
	e := newEnv(t, time.Date(2024, 1, 16, 1, 0, 0, 0, time.UTC))
	sched := jobs.Schedule{DailyAt: calendar.MustParseTimeOfDay("01:00"), MonthlyDay: 1, AlertEvery: 5 * time.Minute}

	orch, err := jobs.NewOrchestrator(e.bodies.Clock, nil, e.bodies.Jobs(sched)...)
	require.NoError(t, err)
	defer orch.Shutdown(context.Background())

	assert.Equal(t, []jobs.Kind{jobs.Alert, jobs.Daily, jobs.Monthly}, orch.Kinds())

	sum, err := orch.RunNow(e.ctx, jobs.Alert, "")
	require.NoError(t, err)
	assert.Equal(t, jobs.Alert, sum.Kind)

	_, err = orch.RunNow(e.ctx, jobs.Monthly, jobs.SubtypeCheckout)
	assert.ErrorIs(t, err, jobs.ErrUnknownSubtype)
}
