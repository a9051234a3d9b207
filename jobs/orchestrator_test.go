/*
orchestrator_test.go - Tests for the job orchestrator

Tests for:
- On-demand runs and status bookkeeping
- Overlap rejection and skipped cron firings
- Start/Stop idempotency
- Graceful shutdown
*/
package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/calendar"
)

func testClock() *calendar.Clock {
	return calendar.NewClock(time.UTC, calendar.WithNow(func() time.Time {
		return time.Date(2024, 1, 16, 2, 0, 0, 0, time.UTC)
	}))
}

// gate is a job body that blocks until released.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gate) run(ctx context.Context, _ string) (Summary, error) {
	g.entered <- struct{}{}
	select {
	case <-g.release:
		return Summary{Processed: 1}, nil
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
}

func newTestOrchestrator(t *testing.T, run RunFunc) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(testClock(), nil,
		Job{Kind: Daily, Spec: "0 1 * * *", Subtypes: []string{"checkout"}, Run: run},
	)
	require.NoError(t, err)
	return o
}

func TestRunNow_RecordsSummary(t *testing.T) {
	// GIVEN: a job that processes 3 items
	o := newTestOrchestrator(t, func(ctx context.Context, subtype string) (Summary, error) {
		return Summary{Processed: 3, Details: map[string]int{"x": 1}}, nil
	})

	// WHEN: it is run on demand
	sum, err := o.RunNow(context.Background(), Daily, "checkout")
	require.NoError(t, err)

	// THEN: the summary is stamped and the status reflects the run
	assert.Equal(t, Daily, sum.Kind)
	assert.Equal(t, "checkout", sum.Subtype)
	assert.Equal(t, 3, sum.Processed)
	assert.False(t, sum.StartedAt.IsZero())

	st, err := o.Status(Daily)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, st.State)
	assert.Equal(t, 1, st.Runs)
	require.NotNil(t, st.LastRunAt)
	require.NotNil(t, st.LastSummary)
	assert.Equal(t, 3, st.LastSummary.Processed)
}

func TestRunNow_ErrorIsRecorded(t *testing.T) {
	o := newTestOrchestrator(t, func(ctx context.Context, subtype string) (Summary, error) {
		return Summary{Errors: 1}, errors.New("store down")
	})

	sum, err := o.RunNow(context.Background(), Daily, "")
	require.Error(t, err)
	assert.Equal(t, "store down", sum.Error)

	st, _ := o.Status(Daily)
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, "store down", st.LastSummary.Error)
}

func TestRunNow_RejectsOverlapAndCountsSkippedFirings(t *testing.T) {
	// GIVEN: a run in flight
	g := newGate()
	o := newTestOrchestrator(t, g.run)

	done := make(chan error, 1)
	go func() {
		_, err := o.RunNow(context.Background(), Daily, "")
		done <- err
	}()
	<-g.entered

	st, err := o.Status(Daily)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)

	// WHEN: a second on-demand run and a cron firing arrive
	_, err = o.RunNow(context.Background(), Daily, "")
	o.fire(o.jobs[Daily])

	// THEN: the run is rejected and the firing is skipped
	assert.ErrorIs(t, err, ErrJobRunning)

	close(g.release)
	require.NoError(t, <-done)

	st, _ = o.Status(Daily)
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, 1, st.Skipped)
	assert.False(t, st.Running)
}

func TestRunNow_CallerCancellationDoesNotAbortRun(t *testing.T) {
	g := newGate()
	o := newTestOrchestrator(t, g.run)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.RunNow(ctx, Daily, "")
		done <- err
	}()
	<-g.entered

	cancel()
	close(g.release)
	assert.NoError(t, <-done)
}

func TestRunNow_UnknownJobAndSubtype(t *testing.T) {
	o := newTestOrchestrator(t, func(ctx context.Context, subtype string) (Summary, error) {
		t.Fatal("body must not run")
		return Summary{}, nil
	})

	_, err := o.RunNow(context.Background(), "weekly", "")
	assert.ErrorIs(t, err, ErrUnknownJob)
	assert.True(t, IsClientError(err))

	_, err = o.RunNow(context.Background(), Daily, "payroll")
	assert.ErrorIs(t, err, ErrUnknownSubtype)
	assert.True(t, IsClientError(err))

	_, err = o.Status("weekly")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestStartStop_Idempotent(t *testing.T) {
	o := newTestOrchestrator(t, func(ctx context.Context, subtype string) (Summary, error) {
		return Summary{}, nil
	})

	// WHEN: started twice
	require.NoError(t, o.Start(Daily))
	require.NoError(t, o.Start(Daily))

	// THEN: scheduled once with a next run
	st, err := o.Status(Daily)
	require.NoError(t, err)
	assert.Equal(t, StateScheduled, st.State)
	require.NotNil(t, st.NextRunAt)
	assert.Len(t, o.cron.Entries(), 1)

	// WHEN: stopped twice
	require.NoError(t, o.Stop(Daily))
	require.NoError(t, o.Stop(Daily))

	st, _ = o.Status(Daily)
	assert.Equal(t, StateStopped, st.State)
	assert.Nil(t, st.NextRunAt)
	assert.Empty(t, o.cron.Entries())

	assert.ErrorIs(t, o.Start("weekly"), ErrUnknownJob)
}

func TestShutdown_WaitsForInFlightRun(t *testing.T) {
	// GIVEN: a scheduled job with a run in flight
	g := newGate()
	o := newTestOrchestrator(t, g.run)
	require.NoError(t, o.Start(Daily))

	done := make(chan error, 1)
	go func() {
		_, err := o.RunNow(context.Background(), Daily, "")
		done <- err
	}()
	<-g.entered

	// WHEN: shutdown begins
	shut := make(chan error, 1)
	go func() { shut <- o.Shutdown(context.Background()) }()

	// THEN: it waits for the run
	select {
	case <-shut:
		t.Fatal("shutdown returned before the run finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(g.release)
	require.NoError(t, <-done)
	require.NoError(t, <-shut)

	st, _ := o.Status(Daily)
	assert.Equal(t, StateStopped, st.State)

	_, err := o.RunNow(context.Background(), Daily, "")
	assert.ErrorIs(t, err, ErrShutdown)
	assert.ErrorIs(t, o.Start(Daily), ErrShutdown)
}

func TestShutdown_DeadlineCancelsRun(t *testing.T) {
	g := newGate()
	o := newTestOrchestrator(t, g.run)

	done := make(chan error, 1)
	go func() {
		_, err := o.RunNow(context.Background(), Daily, "")
		done <- err
	}()
	<-g.entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, o.Shutdown(ctx), context.DeadlineExceeded)
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNewOrchestrator_RejectsBadJobs(t *testing.T) {
	noop := func(ctx context.Context, subtype string) (Summary, error) { return Summary{}, nil }

	_, err := NewOrchestrator(testClock(), nil, Job{Kind: Daily, Spec: "not a spec", Run: noop})
	assert.Error(t, err)

	_, err = NewOrchestrator(testClock(), nil,
		Job{Kind: Daily, Spec: "@daily", Run: noop},
		Job{Kind: Daily, Spec: "@daily", Run: noop},
	)
	assert.Error(t, err)

	_, err = NewOrchestrator(testClock(), nil, Job{Kind: Alert, Spec: "@every 5m"})
	assert.Error(t, err)
}

func TestSchedule_Specs(t *testing.T) {
	s := Schedule{DailyAt: calendar.MustParseTimeOfDay("01:30"), MonthlyDay: 1, AlertEvery: 5 * time.Minute}

	require.NoError(t, s.Validate())
	assert.Equal(t, "30 1 * * *", s.DailySpec())
	assert.Equal(t, "30 1 1 * *", s.MonthlySpec())
	assert.Equal(t, "@every 5m0s", s.AlertSpec())

	s.MonthlyDay = 31
	assert.Error(t, s.Validate())

	s.MonthlyDay, s.AlertEvery = 1, 10*time.Second
	assert.Error(t, s.Validate())
}
