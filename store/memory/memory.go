// Package memory provides an in-memory implementation of every store
// interface in the engine, for tests and local experiments.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/discipline"
	"github.com/warp/attendance-engine/tardiness"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store keeps everything in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	sessions       map[string]attendance.Session
	shiftPeriods   map[string]map[time.Weekday]attendance.ShiftPeriod // shift -> weekday
	employeeShifts map[string]string                                  // employee -> shift

	tardinessRules map[string]tardiness.Rule
	events         map[string]tardiness.Event // session id -> event
	accumulations  map[accKey]tardiness.Accumulation
	triggers       []tardiness.Trigger

	disciplinaryRules map[string]discipline.ActionRule
	records           map[string]discipline.Record
	recordKeys        map[recordKey]string

	// BeforeClose, when set, runs before the conditional close of a session
	// with the lock released. Tests use it to race a concurrent writer.
	BeforeClose func(id string)

	// FailClose makes CloseSessionIfOpen fail for the listed session ids.
	FailClose map[string]error
}

type accKey struct {
	EmployeeID string
	Period     calendar.MonthKey
}

type recordKey struct {
	EmployeeID     string
	RuleID         string
	FirstTriggerID string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		sessions:          make(map[string]attendance.Session),
		shiftPeriods:      make(map[string]map[time.Weekday]attendance.ShiftPeriod),
		employeeShifts:    make(map[string]string),
		tardinessRules:    make(map[string]tardiness.Rule),
		events:            make(map[string]tardiness.Event),
		accumulations:     make(map[accKey]tardiness.Accumulation),
		disciplinaryRules: make(map[string]discipline.ActionRule),
		records:           make(map[string]discipline.Record),
		recordKeys:        make(map[recordKey]string),
		FailClose:         make(map[string]error),
	}
}

// =============================================================================
// SHIFTS
// =============================================================================

// SaveShiftPeriod upserts a period of a shift.
func (m *Store) SaveShiftPeriod(_ context.Context, p attendance.ShiftPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shiftPeriods[p.ShiftID] == nil {
		m.shiftPeriods[p.ShiftID] = make(map[time.Weekday]attendance.ShiftPeriod)
	}
	m.shiftPeriods[p.ShiftID][p.Weekday] = p
	return nil
}

// AssignShift links an employee to a shift.
func (m *Store) AssignShift(_ context.Context, employeeID, shiftID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employeeShifts[employeeID] = shiftID
	return nil
}

func (m *Store) FindShiftPeriod(_ context.Context, employeeID string, weekday time.Weekday) (*attendance.ShiftPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	shiftID, ok := m.employeeShifts[employeeID]
	if !ok {
		return nil, nil
	}
	p, ok := m.shiftPeriods[shiftID][weekday]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// =============================================================================
// SESSIONS (attendance.SessionStore)
// =============================================================================

func (m *Store) CreateSession(_ context.Context, s attendance.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.EmployeeID == s.EmployeeID && existing.Day.Equal(s.Day) && existing.IsOpen() {
			return attendance.ErrSessionOpen
		}
	}
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *Store) GetSession(_ context.Context, id string) (*attendance.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	c := cloneSession(s)
	return &c, nil
}

func (m *Store) FindSession(_ context.Context, employeeID string, day calendar.Day) (*attendance.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *attendance.Session
	for _, s := range m.sessions {
		if s.EmployeeID != employeeID || !s.Day.Equal(day) {
			continue
		}
		if found == nil || s.CheckIn.After(found.CheckIn) {
			c := cloneSession(s)
			found = &c
		}
	}
	return found, nil
}

func (m *Store) FindSessionsByDay(_ context.Context, day calendar.Day) ([]attendance.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.Session
	for _, s := range m.sessions {
		if s.Day.Equal(day) {
			out = append(out, cloneSession(s))
		}
	}
	sortSessions(out)
	return out, nil
}

func (m *Store) FindOpenSessions(_ context.Context, day calendar.Day) ([]attendance.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.Session
	for _, s := range m.sessions {
		if s.IsOpen() && !s.Day.After(day) {
			out = append(out, cloneSession(s))
		}
	}
	sortSessions(out)
	return out, nil
}

func (m *Store) CloseSessionIfOpen(_ context.Context, id string, req attendance.CloseRequest) (bool, error) {
	if m.BeforeClose != nil {
		m.BeforeClose(id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailClose[id]; err != nil {
		return false, err
	}
	s, ok := m.sessions[id]
	if !ok || !s.IsOpen() {
		return false, nil
	}
	out := req.CheckOut
	hours := req.WorkedHours
	s.CheckOut = &out
	s.CheckOutMethod = req.Method
	s.WorkedHours = &hours
	s.Status = req.Status
	s.UpdatedAt = time.Now()
	m.sessions[id] = s
	return true, nil
}

func cloneSession(s attendance.Session) attendance.Session {
	if s.CheckOut != nil {
		t := *s.CheckOut
		s.CheckOut = &t
	}
	if s.WorkedHours != nil {
		h := *s.WorkedHours
		s.WorkedHours = &h
	}
	return s
}

func sortSessions(ss []attendance.Session) {
	sort.Slice(ss, func(i, j int) bool {
		if !ss[i].CheckIn.Equal(ss[j].CheckIn) {
			return ss[i].CheckIn.Before(ss[j].CheckIn)
		}
		return ss[i].ID < ss[j].ID
	})
}

// =============================================================================
// TARDINESS (tardiness.Store, tardiness.RuleSource)
// =============================================================================

// SaveTardinessRule upserts a rule.
func (m *Store) SaveTardinessRule(_ context.Context, r tardiness.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tardinessRules[r.ID] = r
	return nil
}

func (m *Store) ListTardinessRules(_ context.Context, activeOnly bool) ([]tardiness.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []tardiness.Rule
	for _, r := range m.tardinessRules {
		if activeOnly && !r.Active {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) ApplyEvent(_ context.Context, ev tardiness.Event, period calendar.MonthKey, apply tardiness.ApplyFunc) (tardiness.Accumulation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.events[ev.SessionID]; dup {
		return tardiness.Accumulation{}, tardiness.ErrDuplicateEvent
	}

	k := accKey{EmployeeID: ev.EmployeeID, Period: period}
	acc, ok := m.accumulations[k]
	if !ok {
		acc = tardiness.NewAccumulation(ev.EmployeeID, period)
	}
	acc = cloneAccumulation(acc)

	triggers := apply(&acc)
	acc.UpdatedAt = time.Now()

	m.events[ev.SessionID] = ev
	m.accumulations[k] = acc
	m.triggers = append(m.triggers, triggers...)
	return cloneAccumulation(acc), nil
}

func (m *Store) GetAccumulation(_ context.Context, employeeID string, period calendar.MonthKey) (*tardiness.Accumulation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accumulations[accKey{EmployeeID: employeeID, Period: period}]
	if !ok {
		return nil, nil
	}
	c := cloneAccumulation(acc)
	return &c, nil
}

func (m *Store) ListAccumulations(_ context.Context, period calendar.MonthKey) ([]tardiness.Accumulation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []tardiness.Accumulation
	for k, acc := range m.accumulations {
		if k.Period == period {
			out = append(out, cloneAccumulation(acc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

func (m *Store) IncrementAdministrativeActs(_ context.Context, employeeID string, period calendar.MonthKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := accKey{EmployeeID: employeeID, Period: period}
	acc, ok := m.accumulations[k]
	if !ok {
		acc = tardiness.NewAccumulation(employeeID, period)
	}
	acc = cloneAccumulation(acc)
	acc.AdministrativeActs++
	acc.UpdatedAt = time.Now()
	m.accumulations[k] = acc
	return nil
}

// AppendTriggers records triggers directly, bypassing accumulation.
func (m *Store) AppendTriggers(_ context.Context, triggers ...tardiness.Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers = append(m.triggers, triggers...)
	return nil
}

func cloneAccumulation(acc tardiness.Accumulation) tardiness.Accumulation {
	counts := make(map[string]int, len(acc.RuleCounts))
	for k, v := range acc.RuleCounts {
		counts[k] = v
	}
	acc.RuleCounts = counts
	return acc
}

// =============================================================================
// DISCIPLINE (discipline.Store, discipline.RuleSource)
// =============================================================================

// SaveDisciplinaryRule upserts a rule.
func (m *Store) SaveDisciplinaryRule(_ context.Context, r discipline.ActionRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disciplinaryRules[r.ID] = r
	return nil
}

func (m *Store) ListDisciplinaryRules(_ context.Context, activeOnly bool) ([]discipline.ActionRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []discipline.ActionRule
	for _, r := range m.disciplinaryRules {
		if activeOnly && !r.Active {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) ListTriggers(_ context.Context, employeeID string, kind tardiness.TriggerKind, from, to time.Time) ([]tardiness.Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []tardiness.Trigger
	for _, t := range m.triggers {
		if t.EmployeeID == employeeID && t.Kind == kind && t.OccurredAt.After(from) && !t.OccurredAt.After(to) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (m *Store) ListTriggeredEmployees(_ context.Context, since time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, t := range m.triggers {
		if t.OccurredAt.After(since) && !seen[t.EmployeeID] {
			seen[t.EmployeeID] = true
			out = append(out, t.EmployeeID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Store) CreateRecord(_ context.Context, rec discipline.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recordKey{EmployeeID: rec.EmployeeID, RuleID: rec.RuleID, FirstTriggerID: rec.FirstTriggerID}
	if _, dup := m.recordKeys[k]; dup {
		return discipline.ErrDuplicateRecord
	}
	if _, dup := m.records[rec.ID]; dup {
		return errors.New("record id already exists")
	}
	m.recordKeys[k] = rec.ID
	m.records[rec.ID] = rec
	return nil
}

func (m *Store) GetRecord(_ context.Context, id string) (*discipline.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Store) ListRecords(_ context.Context, filter discipline.RecordFilter) ([]discipline.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []discipline.Record
	for _, rec := range m.records {
		if filter.EmployeeID != "" && rec.EmployeeID != filter.EmployeeID {
			continue
		}
		if filter.State != "" && rec.State != filter.State {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Store) TransitionRecord(_ context.Context, id string, from discipline.State, rec discipline.Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[id]
	if !ok || cur.State != from {
		return false, nil
	}
	m.records[id] = rec
	return true, nil
}
