/*
Package jobs schedules and runs the engine's periodic batches.

PURPOSE:
  The Orchestrator owns one cron scheduler and a fixed set of jobs (daily,
  monthly, alert) registered once at startup. Each job can be started,
  stopped, inspected and run on demand. Job bodies live in bodies.go.

DESIGN:
  - Cadences are cron specs evaluated in the clock's location, the same
    frame the engines use to derive days.
  - A job never overlaps itself: a cron firing while the previous run of
    the same kind is still RUNNING is skipped, counted and logged; an
    on-demand run gets ErrJobRunning.
  - On-demand runs keep the caller's context values but not its
    cancellation, so a dropped HTTP request does not abort a batch halfway.
    Shutdown cancels them if they outlive its deadline.

STATES:
  STOPPED    not scheduled
  SCHEDULED  registered with cron, idle
  RUNNING    a run is in flight (scheduled or on demand)

USAGE:
  orch, err := jobs.NewOrchestrator(clock, logger, bodies.Jobs(schedule)...)
  orch.Start(jobs.Daily)
  sum, err := orch.RunNow(ctx, jobs.Daily, "incidents")
  orch.Shutdown(ctx)

SEE ALSO:
  - bodies.go: what each kind runs
  - api/jobs.go: HTTP controls
*/
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/warp/attendance-engine/calendar"
)

// Kind names a job.
type Kind string

const (
	Daily   Kind = "daily"
	Monthly Kind = "monthly"
	Alert   Kind = "alert"
)

// State is the scheduling state of a job.
type State string

const (
	StateStopped   State = "STOPPED"
	StateScheduled State = "SCHEDULED"
	StateRunning   State = "RUNNING"
)

var (
	ErrUnknownJob     = errors.New("unknown job")
	ErrJobRunning     = errors.New("job already running")
	ErrUnknownSubtype = errors.New("unknown job subtype")
	ErrShutdown       = errors.New("orchestrator shut down")
)

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownJob) || errors.Is(err, ErrUnknownSubtype)
}

// RunFunc is a job body. An empty subtype runs every part of the job.
type RunFunc func(ctx context.Context, subtype string) (Summary, error)

// Job is a schedulable unit of work.
type Job struct {
	Kind     Kind
	Spec     string   // cron spec, e.g. "0 1 * * *" or "@every 5m"
	Subtypes []string // accepted subtypes; empty accepts only ""
	Run      RunFunc
}

// Summary is the outcome of one run.
type Summary struct {
	Kind       Kind           `json:"kind"`
	Subtype    string         `json:"subtype,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Processed  int            `json:"processed"`
	Errors     int            `json:"errors"`
	Skipped    int            `json:"skipped"`
	Created    []string       `json:"created,omitempty"`
	Details    map[string]int `json:"details,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Status describes a job.
type Status struct {
	Kind        Kind       `json:"kind"`
	State       State      `json:"state"`
	Spec        string     `json:"spec"`
	Running     bool       `json:"running"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	LastSummary *Summary   `json:"last_summary,omitempty"`
	Runs        int        `json:"runs"`
	Skipped     int        `json:"skipped"`
}

type entry struct {
	job     Job
	id      cron.EntryID // zero while stopped
	running atomic.Bool

	lastRunAt   time.Time
	lastSummary *Summary
	runs        int
	skipped     int
}

// Orchestrator runs jobs on their cadence and on demand.
type Orchestrator struct {
	cron   *cron.Cron
	clock  *calendar.Clock
	logger *log.Logger

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	jobs   map[Kind]*entry
	closed bool
	wg     sync.WaitGroup
}

// NewOrchestrator registers jobs. Nothing is scheduled until Start.
func NewOrchestrator(clock *calendar.Clock, logger *log.Logger, jobs ...Job) (*Orchestrator, error) {
	if logger == nil {
		logger = log.Default()
	}

	o := &Orchestrator{
		clock:  clock,
		logger: logger,
		jobs:   make(map[Kind]*entry),
		cron: cron.New(
			cron.WithLocation(clock.Location()),
			cron.WithLogger(cron.PrintfLogger(logger)),
		),
	}
	o.base, o.cancel = context.WithCancel(context.Background())

	for _, j := range jobs {
		if _, dup := o.jobs[j.Kind]; dup {
			return nil, fmt.Errorf("job %s registered twice", j.Kind)
		}
		if _, err := cron.ParseStandard(j.Spec); err != nil {
			return nil, fmt.Errorf("job %s: invalid schedule %q: %w", j.Kind, j.Spec, err)
		}
		if j.Run == nil {
			return nil, fmt.Errorf("job %s: no body", j.Kind)
		}
		o.jobs[j.Kind] = &entry{job: j}
	}

	o.cron.Start()
	return o, nil
}

func (o *Orchestrator) logf(format string, args ...any) {
	o.logger.Printf("[Jobs] "+format, args...)
}

func (o *Orchestrator) lookup(kind Kind) (*entry, error) {
	e, ok := o.jobs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, kind)
	}
	return e, nil
}

// Kinds returns the registered kinds in name order.
func (o *Orchestrator) Kinds() []Kind {
	kinds := make([]Kind, 0, len(o.jobs))
	for k := range o.jobs {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Start schedules kind. Starting a scheduled job is a no-op.
func (o *Orchestrator) Start(kind Kind) error {
	e, err := o.lookup(kind)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrShutdown
	}
	if e.id != 0 {
		return nil
	}

	id, err := o.cron.AddFunc(e.job.Spec, func() { o.fire(e) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", kind, err)
	}
	e.id = id
	o.logf("Started %s (%s, %s)", kind, e.job.Spec, o.clock.Location())
	return nil
}

// Stop unschedules kind. A run in flight completes. Stopping a stopped job
// is a no-op.
func (o *Orchestrator) Stop(kind Kind) error {
	e, err := o.lookup(kind)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if e.id == 0 {
		return nil
	}
	o.cron.Remove(e.id)
	e.id = 0
	o.logf("Stopped %s", kind)
	return nil
}

// Status reports the state of kind.
func (o *Orchestrator) Status(kind Kind) (Status, error) {
	e, err := o.lookup(kind)
	if err != nil {
		return Status{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		Kind:    kind,
		State:   StateStopped,
		Spec:    e.job.Spec,
		Running: e.running.Load(),
		Runs:    e.runs,
		Skipped: e.skipped,
	}
	if e.id != 0 {
		st.State = StateScheduled
		if next := o.cron.Entry(e.id).Next; !next.IsZero() {
			next = next.In(o.clock.Location())
			st.NextRunAt = &next
		}
	}
	if st.Running {
		st.State = StateRunning
	}
	if !e.lastRunAt.IsZero() {
		last := e.lastRunAt
		st.LastRunAt = &last
	}
	if e.lastSummary != nil {
		sum := *e.lastSummary
		st.LastSummary = &sum
	}
	return st, nil
}

// RunNow runs kind immediately and waits for the summary. Returns
// ErrJobRunning when a run of the same kind is in flight.
func (o *Orchestrator) RunNow(ctx context.Context, kind Kind, subtype string) (Summary, error) {
	e, err := o.lookup(kind)
	if err != nil {
		return Summary{}, err
	}
	if !e.accepts(subtype) {
		return Summary{}, fmt.Errorf("%w: %q for %s", ErrUnknownSubtype, subtype, kind)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(o.base, cancel)
	defer stop()

	return o.run(runCtx, e, subtype)
}

// fire is the cron callback.
func (o *Orchestrator) fire(e *entry) {
	_, err := o.run(o.base, e, "")
	if errors.Is(err, ErrJobRunning) {
		o.mu.Lock()
		e.skipped++
		o.mu.Unlock()
		o.logf("Skipped %s firing: previous run still in progress", e.job.Kind)
	}
}

func (o *Orchestrator) run(ctx context.Context, e *entry, subtype string) (Summary, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Summary{}, ErrShutdown
	}
	if !e.running.CompareAndSwap(false, true) {
		o.mu.Unlock()
		return Summary{}, ErrJobRunning
	}
	o.wg.Add(1)
	o.mu.Unlock()

	defer o.wg.Done()
	defer e.running.Store(false)

	started := o.clock.Now()
	o.logf("Running %s %s", e.job.Kind, subtype)

	sum, err := e.job.Run(ctx, subtype)
	sum.Kind = e.job.Kind
	sum.Subtype = subtype
	sum.StartedAt = started
	sum.FinishedAt = o.clock.Now()
	if err != nil {
		sum.Error = err.Error()
	}

	o.mu.Lock()
	e.runs++
	e.lastRunAt = started
	e.lastSummary = &sum
	o.mu.Unlock()

	if err != nil {
		o.logf("%s finished with error after %s: %v", e.job.Kind, sum.FinishedAt.Sub(started), err)
	} else {
		o.logf("%s completed in %s: %d processed, %d errors, %d skipped",
			e.job.Kind, sum.FinishedAt.Sub(started), sum.Processed, sum.Errors, sum.Skipped)
	}
	return sum, err
}

func (e *entry) accepts(subtype string) bool {
	if subtype == "" {
		return true
	}
	for _, s := range e.job.Subtypes {
		if s == subtype {
			return true
		}
	}
	return false
}

// Shutdown unschedules every job and waits for in-flight runs. When ctx
// expires first, the runs are cancelled and ctx.Err() is returned.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for _, e := range o.jobs {
		if e.id != 0 {
			o.cron.Remove(e.id)
			e.id = 0
		}
	}
	o.mu.Unlock()

	o.cron.Stop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		o.logf("Shut down")
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}
