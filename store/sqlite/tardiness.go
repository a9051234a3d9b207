package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/tardiness"
)

// =============================================================================
// TARDINESS RULES (tardiness.RuleSource interface)
// =============================================================================

// SaveTardinessRule upserts a rule.
func (s *Store) SaveTardinessRule(ctx context.Context, r tardiness.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO tardiness_rules
		(id, name, type, start_minute, end_minute, equivalent_formal_tardies,
		 accumulation_count, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			start_minute = excluded.start_minute,
			end_minute = excluded.end_minute,
			equivalent_formal_tardies = excluded.equivalent_formal_tardies,
			accumulation_count = excluded.accumulation_count,
			active = excluded.active,
			updated_at = excluded.updated_at
	`
	now := nowString()
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Name, string(r.Type), r.StartMinute, nullInt(r.EndMinute),
		r.EquivalentFormalTardies, r.AccumulationCount, r.Active, now, now)
	return err
}

// ListTardinessRules returns rules ordered by type and start minute.
func (s *Store) ListTardinessRules(ctx context.Context, activeOnly bool) ([]tardiness.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, name, type, start_minute, end_minute, equivalent_formal_tardies,
		       accumulation_count, active
		FROM tardiness_rules`
	if activeOnly {
		query += " WHERE active"
	}
	query += " ORDER BY type, start_minute, id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tardiness rules: %w", err)
	}
	defer rows.Close()

	var rules []tardiness.Rule
	for rows.Next() {
		var (
			r   tardiness.Rule
			typ string
			end sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Name, &typ, &r.StartMinute, &end,
			&r.EquivalentFormalTardies, &r.AccumulationCount, &r.Active); err != nil {
			return nil, err
		}
		r.Type = tardiness.Type(typ)
		r.EndMinute = intPtr(end)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// =============================================================================
// ACCUMULATION (tardiness.Store interface)
// =============================================================================

// ApplyEvent records the event, updates the month row and appends the
// triggers in one transaction.
func (s *Store) ApplyEvent(ctx context.Context, ev tardiness.Event, period calendar.MonthKey, apply tardiness.ApplyFunc) (tardiness.Accumulation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tardiness.Accumulation{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO tardiness_events
		(session_id, employee_id, day, check_in, scheduled_start, late_minutes, rule_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.EmployeeID, ev.Day.String(), formatTime(ev.CheckIn),
		formatTime(ev.ScheduledStart), ev.LateMinutes, ev.Rule.ID, nowString())
	if err != nil {
		if isUniqueConstraintError(err) {
			return tardiness.Accumulation{}, tardiness.ErrDuplicateEvent
		}
		return tardiness.Accumulation{}, fmt.Errorf("failed to record tardiness event: %w", err)
	}

	acc, err := getAccumulation(ctx, sqlTx, ev.EmployeeID, period)
	if err != nil {
		return tardiness.Accumulation{}, err
	}
	if acc == nil {
		fresh := tardiness.NewAccumulation(ev.EmployeeID, period)
		acc = &fresh
	}

	triggers := apply(acc)
	if err := saveAccumulation(ctx, sqlTx, *acc); err != nil {
		return tardiness.Accumulation{}, err
	}
	for _, t := range triggers {
		if err := appendTrigger(ctx, sqlTx, t); err != nil {
			return tardiness.Accumulation{}, err
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return tardiness.Accumulation{}, err
	}
	return *acc, nil
}

// GetAccumulation returns nil, nil when the employee has no row for period.
func (s *Store) GetAccumulation(ctx context.Context, employeeID string, period calendar.MonthKey) (*tardiness.Accumulation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getAccumulation(ctx, s.db, employeeID, period)
}

// ListAccumulations returns every row of period ordered by employee.
func (s *Store) ListAccumulations(ctx context.Context, period calendar.MonthKey) ([]tardiness.Accumulation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accumulationColumns+` FROM tardiness_accumulations
		WHERE year = ? AND month = ? ORDER BY employee_id`,
		period.Year, int(period.Month))
	if err != nil {
		return nil, fmt.Errorf("failed to query accumulations: %w", err)
	}
	defer rows.Close()

	var out []tardiness.Accumulation
	for rows.Next() {
		acc, err := scanAccumulation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

// IncrementAdministrativeActs bumps the counter, creating the row if needed.
func (s *Store) IncrementAdministrativeActs(ctx context.Context, employeeID string, period calendar.MonthKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tardiness_accumulations (employee_id, year, month, administrative_acts, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(employee_id, year, month) DO UPDATE SET
			administrative_acts = tardiness_accumulations.administrative_acts + 1,
			updated_at = excluded.updated_at`,
		employeeID, period.Year, int(period.Month), nowString())
	return err
}

// AppendTriggers records triggers directly, outside an accumulation.
func (s *Store) AppendTriggers(ctx context.Context, triggers ...tardiness.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, t := range triggers {
		if err := appendTrigger(ctx, sqlTx, t); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

const accumulationColumns = `employee_id, year, month, late_arrivals, direct_tardies,
	formal_tardies, administrative_acts, rule_counts_json, updated_at`

func getAccumulation(ctx context.Context, db queryer, employeeID string, period calendar.MonthKey) (*tardiness.Accumulation, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+accumulationColumns+` FROM tardiness_accumulations
		WHERE employee_id = ? AND year = ? AND month = ?`,
		employeeID, period.Year, int(period.Month))
	acc, err := scanAccumulation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load accumulation: %w", err)
	}
	return &acc, nil
}

func saveAccumulation(ctx context.Context, db execer, acc tardiness.Accumulation) error {
	counts, err := json.Marshal(acc.RuleCounts)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO tardiness_accumulations (`+accumulationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, year, month) DO UPDATE SET
			late_arrivals = excluded.late_arrivals,
			direct_tardies = excluded.direct_tardies,
			formal_tardies = excluded.formal_tardies,
			administrative_acts = excluded.administrative_acts,
			rule_counts_json = excluded.rule_counts_json,
			updated_at = excluded.updated_at`,
		acc.EmployeeID, acc.Period.Year, int(acc.Period.Month),
		acc.LateArrivals, acc.DirectTardies, acc.FormalTardies, acc.AdministrativeActs,
		string(counts), nowString())
	if err != nil {
		return fmt.Errorf("failed to save accumulation: %w", err)
	}
	return nil
}

func scanAccumulation(row scanner) (tardiness.Accumulation, error) {
	var (
		acc         tardiness.Accumulation
		year, month int
		counts      string
		updatedAt   string
	)
	err := row.Scan(&acc.EmployeeID, &year, &month, &acc.LateArrivals, &acc.DirectTardies,
		&acc.FormalTardies, &acc.AdministrativeActs, &counts, &updatedAt)
	if err != nil {
		return acc, err
	}
	acc.Period = calendar.MonthKey{Year: year, Month: time.Month(month)}
	acc.RuleCounts = map[string]int{}
	if counts != "" {
		if err := json.Unmarshal([]byte(counts), &acc.RuleCounts); err != nil {
			return acc, fmt.Errorf("accumulation %s %s: rule counts: %w", acc.EmployeeID, acc.Period, err)
		}
	}
	acc.UpdatedAt = parseTime(updatedAt)
	return acc, nil
}

func appendTrigger(ctx context.Context, db execer, t tardiness.Trigger) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO triggers (id, employee_id, kind, units, occurred_at, source_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.EmployeeID, string(t.Kind), t.Units, formatTime(t.OccurredAt),
		nullString(t.SourceID), nowString())
	if err != nil {
		return fmt.Errorf("failed to append trigger: %w", err)
	}
	return nil
}
