/*
autocheckout_test.go - Tests for the auto-checkout engine

Tests for:
- Closing at the scheduled shift end and idempotent re-runs
- Grace period, future days and missing shift periods
- Races against a manual check-out
- Per-session failure isolation
- Overnight shifts and abnormal sessions
*/
package attendance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/store/memory"
)

// fixture wires a memory store, a UTC clock frozen at *now and a
// Monday 08:00-17:00 shift (30 min grace) assigned to emp-1 and emp-2.
type fixture struct {
	ctx   context.Context
	now   *time.Time
	store *memory.Store
	clock *calendar.Clock
	svc   *attendance.Service
	auto  *attendance.AutoCheckout
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), now: &now, store: memory.New()}
	f.clock = calendar.NewClock(time.UTC, calendar.WithNow(func() time.Time { return *f.now }))
	f.svc = attendance.NewService(f.store, f.clock, 0)
	f.auto = attendance.NewAutoCheckout(f.store, f.clock, nil)

	require.NoError(t, f.store.SaveShiftPeriod(f.ctx, attendance.ShiftPeriod{
		ShiftID:      "day",
		Weekday:      time.Monday,
		Start:        calendar.MustParseTimeOfDay("08:00"),
		End:          calendar.MustParseTimeOfDay("17:00"),
		GraceMinutes: 30,
	}))
	require.NoError(t, f.store.AssignShift(f.ctx, "emp-1", "day"))
	require.NoError(t, f.store.AssignShift(f.ctx, "emp-2", "day"))
	return f
}

func (f *fixture) checkIn(t *testing.T, emp string, at time.Time) *attendance.Session {
	t.Helper()
	s, err := f.svc.CheckIn(f.ctx, emp, at, attendance.MethodBiometric)
	require.NoError(t, err)
	return s
}

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

var monday = calendar.MustParseDay("2024-01-15")

func TestAutoCheckout_ClosesAtShiftEnd(t *testing.T) {
	// GIVEN: emp-1 checked in Monday 08:00 and never checked out
	f := newFixture(t, utc(2024, 1, 16, 1, 0))
	s := f.checkIn(t, "emp-1", utc(2024, 1, 15, 8, 0))

	// WHEN: the job runs for Monday
	res, err := f.auto.Run(f.ctx, &monday)
	require.NoError(t, err)

	// THEN: the session is closed at 17:00 with 9 worked hours
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.Errors)
	require.Len(t, res.Results, 1)
	assert.Equal(t, attendance.OutcomeClosed, res.Results[0].Outcome)

	stored, err := f.store.GetSession(f.ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CheckOut)
	assert.True(t, stored.CheckOut.Equal(utc(2024, 1, 15, 17, 0)))
	assert.Equal(t, attendance.MethodAuto, stored.CheckOutMethod)
	assert.Equal(t, attendance.StatusAutoClosed, stored.Status)
	assert.Equal(t, "9.00", stored.WorkedHours.StringFixed(2))
}

func TestAutoCheckout_SecondRunIsNoop(t *testing.T) {
	// GIVEN: a day that was already processed
	f := newFixture(t, utc(2024, 1, 16, 1, 0))
	s := f.checkIn(t, "emp-1", utc(2024, 1, 15, 8, 0))
	_, err := f.auto.Run(f.ctx, &monday)
	require.NoError(t, err)
	first, _ := f.store.GetSession(f.ctx, s.ID)

	// WHEN: it runs again
	res, err := f.auto.Run(f.ctx, &monday)
	require.NoError(t, err)

	// THEN: nothing is processed and the session is unchanged
	assert.Equal(t, 0, res.Processed)
	assert.Empty(t, res.Results)
	second, _ := f.store.GetSession(f.ctx, s.ID)
	assert.True(t, first.CheckOut.Equal(*second.CheckOut))
	assert.Equal(t, first.Status, second.Status)
}

func TestAutoCheckout_GracePeriodNotElapsed(t *testing.T) {
	// GIVEN: it is 17:10 on Monday, grace runs until 17:30
	f := newFixture(t, utc(2024, 1, 15, 17, 10))
	s := f.checkIn(t, "emp-1", utc(2024, 1, 15, 8, 0))

	// WHEN: the alert job runs for today
	res, err := f.auto.Run(f.ctx, nil)
	require.NoError(t, err)

	// THEN: the session is skipped and still open
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "grace period not elapsed", res.Results[0].Reason)
	stored, _ := f.store.GetSession(f.ctx, s.ID)
	assert.True(t, stored.IsOpen())

	// WHEN: time passes beyond the grace period
	*f.now = utc(2024, 1, 15, 17, 31)
	res, err = f.auto.Run(f.ctx, nil)
	require.NoError(t, err)

	// THEN: it is closed
	assert.Equal(t, 1, res.Processed)
}

func TestAutoCheckout_FutureDaySkipped(t *testing.T) {
	// GIVEN: a session dated after today (clock skew on a device)
	f := newFixture(t, utc(2024, 1, 14, 12, 0))
	s := f.checkIn(t, "emp-1", utc(2024, 1, 15, 8, 0))

	// WHEN: the job targets that future day
	res, err := f.auto.Run(f.ctx, &monday)
	require.NoError(t, err)

	// THEN: it is not closed
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "future day", res.Results[0].Reason)
	stored, _ := f.store.GetSession(f.ctx, s.ID)
	assert.True(t, stored.IsOpen())
}

func TestAutoCheckout_NoShiftPeriodSkipped(t *testing.T) {
	// GIVEN: a Tuesday session while the shift only defines Monday
	f := newFixture(t, utc(2024, 1, 17, 1, 0))
	f.checkIn(t, "emp-1", utc(2024, 1, 16, 8, 0))

	tuesday := calendar.MustParseDay("2024-01-16")
	res, err := f.auto.Run(f.ctx, &tuesday)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 1, res.Skipped)
	assert.Contains(t, res.Results[0].Reason, "no shift period")
}

func TestAutoCheckout_ManualCheckoutWinsRace(t *testing.T) {
	// GIVEN: the employee checks out manually between the engine's read
	// and its conditional write
	f := newFixture(t, utc(2024, 1, 16, 1, 0))
	s := f.checkIn(t, "emp-1", utc(2024, 1, 15, 8, 0))

	f.store.BeforeClose = func(id string) {
		f.store.BeforeClose = nil
		_, err := f.svc.CheckOut(f.ctx, "emp-1", utc(2024, 1, 15, 18, 0), attendance.MethodManual)
		require.NoError(t, err)
	}

	// WHEN: the engine runs
	res, err := f.auto.Run(f.ctx, &monday)
	require.NoError(t, err)

	// THEN: the manual check-out is kept and the engine records a conflict
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, 0, res.Errors)

	stored, _ := f.store.GetSession(f.ctx, s.ID)
	assert.Equal(t, attendance.MethodManual, stored.CheckOutMethod)
	assert.Equal(t, attendance.StatusComplete, stored.Status)
	assert.True(t, stored.CheckOut.Equal(utc(2024, 1, 15, 18, 0)))
}

func TestAutoCheckout_FailureDoesNotAbortBatch(t *testing.T) {
	// GIVEN: two open sessions, the write of one fails
	f := newFixture(t, utc(2024, 1, 16, 1, 0))
	bad := f.checkIn(t, "emp-1", utc(2024, 1, 15, 8, 0))
	good := f.checkIn(t, "emp-2", utc(2024, 1, 15, 8, 5))
	f.store.FailClose[bad.ID] = errors.New("disk full")

	// WHEN: the job runs
	res, err := f.auto.Run(f.ctx, &monday)
	require.NoError(t, err)

	// THEN: the failure is counted and the other session still closes
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Errors)

	stored, _ := f.store.GetSession(f.ctx, good.ID)
	assert.False(t, stored.IsOpen())
	stored, _ = f.store.GetSession(f.ctx, bad.ID)
	assert.True(t, stored.IsOpen())
}

func TestAutoCheckout_UnpaidBreakDeducted(t *testing.T) {
	f := newFixture(t, utc(2024, 1, 16, 1, 0))
	f.auto.UnpaidBreak = time.Hour
	s := f.checkIn(t, "emp-1", utc(2024, 1, 15, 8, 0))

	_, err := f.auto.Run(f.ctx, &monday)
	require.NoError(t, err)

	stored, _ := f.store.GetSession(f.ctx, s.ID)
	assert.Equal(t, "8.00", stored.WorkedHours.StringFixed(2))
	assert.Equal(t, attendance.StatusAutoClosed, stored.Status)
}

func TestAutoCheckout_CheckInAfterShiftEndIsAbnormal(t *testing.T) {
	// GIVEN: a check-in at 20:00 for a shift ending at 17:00
	f := newFixture(t, utc(2024, 1, 16, 1, 0))
	s := f.checkIn(t, "emp-1", utc(2024, 1, 15, 20, 0))

	_, err := f.auto.Run(f.ctx, &monday)
	require.NoError(t, err)

	// THEN: check-out never precedes check-in and the session is flagged
	stored, _ := f.store.GetSession(f.ctx, s.ID)
	assert.True(t, stored.CheckOut.Equal(stored.CheckIn))
	assert.True(t, stored.WorkedHours.IsZero())
	assert.Equal(t, attendance.StatusAbnormal, stored.Status)
}

func TestAutoCheckout_ImplausibleDurationIsAbnormal(t *testing.T) {
	f := newFixture(t, utc(2024, 1, 16, 1, 0))
	f.auto.MaxPlausibleHours = decimal.NewFromInt(8)
	s := f.checkIn(t, "emp-1", utc(2024, 1, 15, 8, 0))

	_, err := f.auto.Run(f.ctx, &monday)
	require.NoError(t, err)

	stored, _ := f.store.GetSession(f.ctx, s.ID)
	assert.Equal(t, attendance.StatusAbnormal, stored.Status)
	assert.Equal(t, "9.00", stored.WorkedHours.StringFixed(2))
}

func TestAutoCheckout_OvernightShift(t *testing.T) {
	// GIVEN: a Monday 22:00-06:00 shift
	f := newFixture(t, utc(2024, 1, 16, 7, 0))
	require.NoError(t, f.store.SaveShiftPeriod(f.ctx, attendance.ShiftPeriod{
		ShiftID: "night",
		Weekday: time.Monday,
		Start:   calendar.MustParseTimeOfDay("22:00"),
		End:     calendar.MustParseTimeOfDay("06:00"),
	}))
	require.NoError(t, f.store.AssignShift(f.ctx, "emp-3", "night"))
	s := f.checkIn(t, "emp-3", utc(2024, 1, 15, 22, 0))

	// WHEN: the alert job runs Tuesday morning for today
	res, err := f.auto.Run(f.ctx, nil)
	require.NoError(t, err)

	// THEN: Monday's session closes at Tuesday 06:00
	assert.Equal(t, 1, res.Processed)
	stored, _ := f.store.GetSession(f.ctx, s.ID)
	assert.True(t, stored.CheckOut.Equal(utc(2024, 1, 16, 6, 0)))
	assert.Equal(t, "8.00", stored.WorkedHours.StringFixed(2))
}

func TestAutoCheckout_CancelledContext(t *testing.T) {
	f := newFixture(t, utc(2024, 1, 16, 1, 0))
	f.checkIn(t, "emp-1", utc(2024, 1, 15, 8, 0))

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()

	_, err := f.auto.Run(ctx, &monday)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkedHours_ClampsAndRounds(t *testing.T) {
	in := utc(2024, 1, 15, 8, 0)

	assert.Equal(t, "0.00", attendance.WorkedHours(in, in.Add(30*time.Minute), time.Hour).StringFixed(2))
	assert.Equal(t, "1.33", attendance.WorkedHours(in, in.Add(80*time.Minute), 0).StringFixed(2))
	assert.Equal(t, "7.50", attendance.WorkedHours(in, in.Add(8*time.Hour), 30*time.Minute).StringFixed(2))
}

func TestAutoCheckout_SameDayAfterGraceUsesShiftEnd(t *testing.T) {
	// GIVEN: a 15 minute grace and the engine running Monday 17:20
	f := newFixture(t, utc(2024, 1, 15, 17, 20))
	require.NoError(t, f.store.SaveShiftPeriod(f.ctx, attendance.ShiftPeriod{
		ShiftID:      "day",
		Weekday:      time.Monday,
		Start:        calendar.MustParseTimeOfDay("08:00"),
		End:          calendar.MustParseTimeOfDay("17:00"),
		GraceMinutes: 15,
	}))
	s := f.checkIn(t, "emp-1", utc(2024, 1, 15, 8, 0))

	res, err := f.auto.Run(f.ctx, nil)
	require.NoError(t, err)

	// THEN: check-out is the shift end, not the time of the run
	assert.Equal(t, 1, res.Processed)
	stored, _ := f.store.GetSession(f.ctx, s.ID)
	assert.True(t, stored.CheckOut.Equal(utc(2024, 1, 15, 17, 0)))
	assert.Equal(t, "9.00", stored.WorkedHours.StringFixed(2))
}
