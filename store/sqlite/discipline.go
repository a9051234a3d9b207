package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/discipline"
	"github.com/warp/attendance-engine/tardiness"
)

// =============================================================================
// DISCIPLINARY RULES (discipline.RuleSource interface)
// =============================================================================

// SaveDisciplinaryRule upserts a rule.
func (s *Store) SaveDisciplinaryRule(ctx context.Context, r discipline.ActionRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO disciplinary_rules
		(id, name, trigger_type, trigger_count, period_days, action_type,
		 suspension_days, validity_days, requires_approval, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			trigger_type = excluded.trigger_type,
			trigger_count = excluded.trigger_count,
			period_days = excluded.period_days,
			action_type = excluded.action_type,
			suspension_days = excluded.suspension_days,
			validity_days = excluded.validity_days,
			requires_approval = excluded.requires_approval,
			active = excluded.active,
			updated_at = excluded.updated_at
	`
	now := nowString()
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Name, string(r.TriggerType), r.TriggerCount, r.PeriodDays, string(r.ActionType),
		nullInt(r.SuspensionDays), nullInt(r.ValidityDays), r.RequiresApproval, r.Active, now, now)
	return err
}

// ListDisciplinaryRules returns rules ordered by trigger type and threshold.
func (s *Store) ListDisciplinaryRules(ctx context.Context, activeOnly bool) ([]discipline.ActionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, name, trigger_type, trigger_count, period_days, action_type,
		       suspension_days, validity_days, requires_approval, active
		FROM disciplinary_rules`
	if activeOnly {
		query += " WHERE active"
	}
	query += " ORDER BY trigger_type, trigger_count, id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query disciplinary rules: %w", err)
	}
	defer rows.Close()

	var rules []discipline.ActionRule
	for rows.Next() {
		var (
			r                    discipline.ActionRule
			triggerType, action  string
			suspension, validity sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Name, &triggerType, &r.TriggerCount, &r.PeriodDays, &action,
			&suspension, &validity, &r.RequiresApproval, &r.Active); err != nil {
			return nil, err
		}
		r.TriggerType = tardiness.TriggerKind(triggerType)
		r.ActionType = discipline.ActionType(action)
		r.SuspensionDays = intPtr(suspension)
		r.ValidityDays = intPtr(validity)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// =============================================================================
// TRIGGERS + RECORDS (discipline.Store interface)
// =============================================================================

// ListTriggers returns triggers with from < occurred_at <= to.
func (s *Store) ListTriggers(ctx context.Context, employeeID string, kind tardiness.TriggerKind, from, to time.Time) ([]tardiness.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, kind, units, occurred_at, source_id
		FROM triggers
		WHERE employee_id = ? AND kind = ? AND occurred_at > ? AND occurred_at <= ?
		ORDER BY occurred_at, created_at, id`,
		employeeID, string(kind), formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	defer rows.Close()

	var triggers []tardiness.Trigger
	for rows.Next() {
		var (
			t        tardiness.Trigger
			k, at    string
			sourceID sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.EmployeeID, &k, &t.Units, &at, &sourceID); err != nil {
			return nil, err
		}
		t.Kind = tardiness.TriggerKind(k)
		t.OccurredAt = parseTime(at)
		t.SourceID = sourceID.String
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

// ListTriggeredEmployees returns employees with any trigger after since.
func (s *Store) ListTriggeredEmployees(ctx context.Context, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT employee_id FROM triggers
		WHERE occurred_at > ? ORDER BY employee_id`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query triggered employees: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const recordColumns = `id, employee_id, rule_id, trigger_type, trigger_count, counted_units,
	window_start, window_end, first_trigger_id, action_type, applied_date, effective_date, expiration_date,
	suspension_days, state, decided_by, decided_at, notes, created_at, updated_at`

// CreateRecord inserts a record. The unique window index turns a repeated
// crossing (same employee, rule and first trigger) into ErrDuplicateRecord.
func (s *Store) CreateRecord(ctx context.Context, rec discipline.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO disciplinary_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		recordArgs(rec)...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return discipline.ErrDuplicateRecord
		}
		return fmt.Errorf("failed to create record: %w", err)
	}
	return sqlTx.Commit()
}

// GetRecord returns nil, nil when the id is unknown.
func (s *Store) GetRecord(ctx context.Context, id string) (*discipline.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM disciplinary_records WHERE id = ?", id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecords returns records matching filter, oldest first.
func (s *Store) ListRecords(ctx context.Context, filter discipline.RecordFilter) ([]discipline.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + recordColumns + " FROM disciplinary_records WHERE 1 = 1"
	var args []any
	if filter.EmployeeID != "" {
		query += " AND employee_id = ?"
		args = append(args, filter.EmployeeID)
	}
	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, string(filter.State))
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []discipline.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// TransitionRecord writes the mutable fields of rec only if the stored
// state is still from.
func (s *Store) TransitionRecord(ctx context.Context, id string, from discipline.State, rec discipline.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var decidedAt sql.NullString
	if rec.DecidedAt != nil {
		decidedAt = nullString(formatTime(*rec.DecidedAt))
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE disciplinary_records
		SET state = ?, decided_by = ?, decided_at = ?, notes = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		string(rec.State), nullString(rec.DecidedBy), decidedAt, nullString(rec.Notes),
		formatTime(rec.UpdatedAt), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func recordArgs(rec discipline.Record) []any {
	var effective, expiration, decidedAt sql.NullString
	if rec.EffectiveDate != nil {
		effective = nullString(rec.EffectiveDate.String())
	}
	if rec.ExpirationDate != nil {
		expiration = nullString(rec.ExpirationDate.String())
	}
	if rec.DecidedAt != nil {
		decidedAt = nullString(formatTime(*rec.DecidedAt))
	}
	return []any{
		rec.ID, rec.EmployeeID, rec.RuleID, string(rec.TriggerType), rec.TriggerCount, rec.CountedUnits,
		rec.WindowStart.String(), formatTime(rec.WindowEnd), rec.FirstTriggerID, string(rec.ActionType),
		rec.AppliedDate.String(), effective, expiration,
		nullInt(rec.SuspensionDays), string(rec.State), nullString(rec.DecidedBy), decidedAt,
		nullString(rec.Notes), formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	}
}

func scanRecord(row scanner) (discipline.Record, error) {
	var (
		rec                         discipline.Record
		triggerType, action, state  string
		windowStart, windowEnd      string
		applied                     string
		effective, expiration       sql.NullString
		suspension                  sql.NullInt64
		decidedBy, decidedAt, notes sql.NullString
		createdAt, updatedAt        string
	)
	err := row.Scan(
		&rec.ID, &rec.EmployeeID, &rec.RuleID, &triggerType, &rec.TriggerCount, &rec.CountedUnits,
		&windowStart, &windowEnd, &rec.FirstTriggerID, &action, &applied, &effective, &expiration,
		&suspension, &state, &decidedBy, &decidedAt, &notes, &createdAt, &updatedAt,
	)
	if err != nil {
		return rec, err
	}

	rec.TriggerType = tardiness.TriggerKind(triggerType)
	rec.ActionType = discipline.ActionType(action)
	rec.State = discipline.State(state)
	if rec.WindowStart, err = calendar.ParseDay(windowStart); err != nil {
		return rec, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	rec.WindowEnd = parseTime(windowEnd)
	if rec.AppliedDate, err = calendar.ParseDay(applied); err != nil {
		return rec, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	if rec.EffectiveDate, err = parseOptionalDay(effective); err != nil {
		return rec, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	if rec.ExpirationDate, err = parseOptionalDay(expiration); err != nil {
		return rec, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	rec.SuspensionDays = intPtr(suspension)
	rec.DecidedBy = decidedBy.String
	if decidedAt.Valid {
		t := parseTime(decidedAt.String)
		rec.DecidedAt = &t
	}
	rec.Notes = notes.String
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return rec, nil
}

func parseOptionalDay(v sql.NullString) (*calendar.Day, error) {
	if !v.Valid {
		return nil, nil
	}
	d, err := calendar.ParseDay(v.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
