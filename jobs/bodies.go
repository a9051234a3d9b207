package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/discipline"
	"github.com/warp/attendance-engine/tardiness"
)

// Subtypes of the daily and monthly jobs.
const (
	SubtypeCheckout   = "checkout"
	SubtypeIncidents  = "incidents"
	SubtypeDiscipline = "discipline"
	SubtypeSummary    = "summary"
)

// Schedule holds the cadences of the three jobs, in the clock's location.
type Schedule struct {
	DailyAt    calendar.TimeOfDay
	MonthlyDay int // 1..28
	AlertEvery time.Duration
}

// Validate checks the schedule bounds.
func (s Schedule) Validate() error {
	if s.MonthlyDay < 1 || s.MonthlyDay > 28 {
		return fmt.Errorf("monthly job day must be in 1..28, got %d", s.MonthlyDay)
	}
	if s.AlertEvery < time.Minute {
		return fmt.Errorf("alert interval must be at least 1m, got %s", s.AlertEvery)
	}
	return nil
}

// DailySpec is the cron spec of the daily job.
func (s Schedule) DailySpec() string {
	return fmt.Sprintf("%d %d * * *", s.DailyAt.Minute, s.DailyAt.Hour)
}

// MonthlySpec is the cron spec of the monthly job, run at the daily time.
func (s Schedule) MonthlySpec() string {
	return fmt.Sprintf("%d %d %d * *", s.DailyAt.Minute, s.DailyAt.Hour, s.MonthlyDay)
}

// AlertSpec is the cron spec of the alert job.
func (s Schedule) AlertSpec() string {
	return "@every " + s.AlertEvery.String()
}

// Bodies wires the engines into job bodies.
type Bodies struct {
	AutoCheckout  *attendance.AutoCheckout
	Incidents     *tardiness.IncidentCalculator
	Escalator     *discipline.Escalator
	Accumulations tardiness.Store
	Clock         *calendar.Clock
	Logger        *log.Logger
}

func (b *Bodies) logf(format string, args ...any) {
	l := b.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf("[Jobs] "+format, args...)
}

// Jobs returns the daily, monthly and alert jobs for s.
func (b *Bodies) Jobs(s Schedule) []Job {
	return []Job{
		{
			Kind:     Daily,
			Spec:     s.DailySpec(),
			Subtypes: []string{SubtypeCheckout, SubtypeIncidents, SubtypeDiscipline},
			Run:      b.Daily,
		},
		{
			Kind:     Monthly,
			Spec:     s.MonthlySpec(),
			Subtypes: []string{SubtypeDiscipline, SubtypeSummary},
			Run:      b.Monthly,
		},
		{
			Kind: Alert,
			Spec: s.AlertSpec(),
			Run:  b.Alert,
		},
	}
}

// Alert closes today's sessions whose shift end plus grace has passed.
func (b *Bodies) Alert(ctx context.Context, _ string) (Summary, error) {
	sum := newSummary()
	err := b.checkout(ctx, &sum, nil)
	return sum, err
}

// Daily runs, in order, the auto-checkout and incident calculation for
// yesterday and the disciplinary sweep. One failing part does not stop the
// others.
func (b *Bodies) Daily(ctx context.Context, subtype string) (Summary, error) {
	sum := newSummary()
	yesterday := b.Clock.Today().AddDays(-1)

	var errs []error
	if subtype == "" || subtype == SubtypeCheckout {
		errs = append(errs, b.checkout(ctx, &sum, &yesterday))
	}
	if subtype == "" || subtype == SubtypeIncidents {
		errs = append(errs, b.incidents(ctx, &sum, yesterday))
	}
	if subtype == "" || subtype == SubtypeDiscipline {
		errs = append(errs, b.discipline(ctx, &sum))
	}
	return sum, errors.Join(errs...)
}

// Monthly runs the disciplinary sweep and summarises the previous month.
func (b *Bodies) Monthly(ctx context.Context, subtype string) (Summary, error) {
	sum := newSummary()

	var errs []error
	if subtype == "" || subtype == SubtypeDiscipline {
		errs = append(errs, b.discipline(ctx, &sum))
	}
	if subtype == "" || subtype == SubtypeSummary {
		errs = append(errs, b.monthSummary(ctx, &sum, b.Clock.Today().MonthKey().Prev()))
	}
	return sum, errors.Join(errs...)
}

func newSummary() Summary {
	return Summary{Details: map[string]int{}}
}

func (b *Bodies) checkout(ctx context.Context, sum *Summary, day *calendar.Day) error {
	res, err := b.AutoCheckout.Run(ctx, day)
	sum.Processed += res.Processed
	sum.Errors += res.Errors
	sum.Skipped += res.Skipped
	sum.Details["checkout.closed"] += res.Processed
	sum.Details["checkout.conflicts"] += res.Conflicts
	sum.Details["checkout.errors"] += res.Errors
	for _, r := range res.Results {
		if r.Outcome == attendance.OutcomeClosed {
			sum.Created = append(sum.Created, r.SessionID)
		}
	}
	if err != nil {
		sum.Errors++
		return fmt.Errorf("auto-checkout: %w", err)
	}
	return nil
}

func (b *Bodies) incidents(ctx context.Context, sum *Summary, day calendar.Day) error {
	res, err := b.Incidents.Run(ctx, day)
	sum.Processed += res.Processed
	sum.Errors += res.Errors + res.ConfigErrors
	sum.Skipped += res.Skipped
	sum.Details["incidents.accumulated"] += res.Processed
	sum.Details["incidents.formal_units"] += res.FormalUnits
	sum.Details["incidents.config_errors"] += res.ConfigErrors
	if err != nil {
		sum.Errors++
		return fmt.Errorf("incidents: %w", err)
	}
	return nil
}

func (b *Bodies) discipline(ctx context.Context, sum *Summary) error {
	res, err := b.Escalator.Sweep(ctx)
	sum.Processed += res.Evaluated
	sum.Errors += res.Errors
	sum.Details["discipline.evaluated"] += res.Evaluated
	sum.Details["discipline.created"] += len(res.Created)
	sum.Details["discipline.completed"] += len(res.Completed)
	for _, rec := range res.Created {
		sum.Created = append(sum.Created, rec.ID)
	}
	if err != nil {
		sum.Errors++
		return fmt.Errorf("discipline sweep: %w", err)
	}
	return nil
}

// monthSummary logs one line per employee with activity in period.
func (b *Bodies) monthSummary(ctx context.Context, sum *Summary, period calendar.MonthKey) error {
	accs, err := b.Accumulations.ListAccumulations(ctx, period)
	if err != nil {
		sum.Errors++
		return fmt.Errorf("monthly summary: %w", err)
	}

	for _, acc := range accs {
		sum.Processed++
		sum.Details["summary.employees"]++
		sum.Details["summary.late_arrivals"] += acc.LateArrivals
		sum.Details["summary.direct_tardies"] += acc.DirectTardies
		sum.Details["summary.formal_tardies"] += acc.FormalTardies
		sum.Details["summary.administrative_acts"] += acc.AdministrativeActs
		b.logf("%s %s: %d late arrivals, %d direct, %d formal, %d acts",
			period, acc.EmployeeID, acc.LateArrivals, acc.DirectTardies, acc.FormalTardies, acc.AdministrativeActs)
	}
	return nil
}
