package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
)

// =============================================================================
// SHIFTS
// =============================================================================

// SaveShiftPeriod upserts the period of a shift for one weekday.
func (s *Store) SaveShiftPeriod(ctx context.Context, p attendance.ShiftPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO shift_periods (shift_id, weekday, start_time, end_time, grace_minutes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(shift_id, weekday) DO UPDATE SET
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			grace_minutes = excluded.grace_minutes
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ShiftID, int(p.Weekday), p.Start.String(), p.End.String(), p.GraceMinutes)
	return err
}

// ListShiftPeriods returns every period of a shift ordered by weekday.
func (s *Store) ListShiftPeriods(ctx context.Context, shiftID string) ([]attendance.ShiftPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT shift_id, weekday, start_time, end_time, grace_minutes
		FROM shift_periods WHERE shift_id = ? ORDER BY weekday`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []attendance.ShiftPeriod
	for rows.Next() {
		p, err := scanShiftPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// AssignShift links an employee to a shift, replacing any previous link.
func (s *Store) AssignShift(ctx context.Context, employeeID, shiftID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employee_shifts (employee_id, shift_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(employee_id) DO UPDATE SET
			shift_id = excluded.shift_id,
			updated_at = excluded.updated_at`,
		employeeID, shiftID, nowString())
	return err
}

// FindShiftPeriod returns nil, nil when the employee has no shift or the
// shift does not define weekday.
func (s *Store) FindShiftPeriod(ctx context.Context, employeeID string, weekday time.Weekday) (*attendance.ShiftPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT p.shift_id, p.weekday, p.start_time, p.end_time, p.grace_minutes
		FROM employee_shifts e
		JOIN shift_periods p ON p.shift_id = e.shift_id
		WHERE e.employee_id = ? AND p.weekday = ?`,
		employeeID, int(weekday))

	p, err := scanShiftPeriod(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanShiftPeriod(row scanner) (attendance.ShiftPeriod, error) {
	var (
		p          attendance.ShiftPeriod
		weekday    int
		start, end string
	)
	if err := row.Scan(&p.ShiftID, &weekday, &start, &end, &p.GraceMinutes); err != nil {
		return p, err
	}
	p.Weekday = time.Weekday(weekday)

	var err error
	if p.Start, err = calendar.ParseTimeOfDay(start); err != nil {
		return p, fmt.Errorf("shift %s: %w", p.ShiftID, err)
	}
	if p.End, err = calendar.ParseTimeOfDay(end); err != nil {
		return p, fmt.Errorf("shift %s: %w", p.ShiftID, err)
	}
	return p, nil
}

// =============================================================================
// SESSIONS (attendance.SessionStore interface)
// =============================================================================

const sessionColumns = `id, employee_id, shift_id, day, check_in, check_out,
	check_in_method, check_out_method, worked_hours, status, created_at, updated_at`

// CreateSession inserts an open session.
func (s *Store) CreateSession(ctx context.Context, sess attendance.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var checkOut, outMethod, hours sql.NullString
	if sess.CheckOut != nil {
		checkOut = nullString(formatTime(*sess.CheckOut))
		outMethod = nullString(string(sess.CheckOutMethod))
	}
	if sess.WorkedHours != nil {
		hours = nullString(sess.WorkedHours.String())
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.EmployeeID, sess.ShiftID, sess.Day.String(),
		formatTime(sess.CheckIn), checkOut,
		string(sess.CheckInMethod), outMethod, hours, string(sess.Status),
		formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return attendance.ErrSessionOpen
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession returns nil, nil when the id is unknown.
func (s *Store) GetSession(ctx context.Context, id string) (*attendance.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM attendance_sessions WHERE id = ?", id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// FindSession returns the latest session of the employee on day.
func (s *Store) FindSession(ctx context.Context, employeeID string, day calendar.Day) (*attendance.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM attendance_sessions
		WHERE employee_id = ? AND day = ?
		ORDER BY check_in DESC LIMIT 1`,
		employeeID, day.String())
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// FindSessionsByDay returns every session of day ordered by check-in.
func (s *Store) FindSessionsByDay(ctx context.Context, day calendar.Day) ([]attendance.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM attendance_sessions
		WHERE day = ? ORDER BY check_in, id`, day.String())
}

// FindOpenSessions returns open sessions dated on or before day.
func (s *Store) FindOpenSessions(ctx context.Context, day calendar.Day) ([]attendance.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM attendance_sessions
		WHERE check_out IS NULL AND day <= ?
		ORDER BY check_in, id`, day.String())
}

// CloseSessionIfOpen writes the close only if the session is still open.
func (s *Store) CloseSessionIfOpen(ctx context.Context, id string, req attendance.CloseRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE attendance_sessions
		SET check_out = ?, check_out_method = ?, worked_hours = ?, status = ?, updated_at = ?
		WHERE id = ? AND check_out IS NULL`,
		formatTime(req.CheckOut), string(req.Method), req.WorkedHours.String(),
		string(req.Status), nowString(), id)
	if err != nil {
		return false, fmt.Errorf("failed to close session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]attendance.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []attendance.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func scanSession(row scanner) (attendance.Session, error) {
	var (
		sess                       attendance.Session
		day, checkIn               string
		checkOut, outMethod, hours sql.NullString
		inMethod, status           string
		createdAt, updatedAt       string
	)
	err := row.Scan(
		&sess.ID, &sess.EmployeeID, &sess.ShiftID, &day, &checkIn, &checkOut,
		&inMethod, &outMethod, &hours, &status, &createdAt, &updatedAt,
	)
	if err != nil {
		return sess, err
	}

	if sess.Day, err = calendar.ParseDay(day); err != nil {
		return sess, fmt.Errorf("session %s: %w", sess.ID, err)
	}
	sess.CheckIn = parseTime(checkIn)
	if checkOut.Valid {
		t := parseTime(checkOut.String)
		sess.CheckOut = &t
	}
	sess.CheckInMethod = attendance.Method(inMethod)
	sess.CheckOutMethod = attendance.Method(outMethod.String)
	if hours.Valid {
		h, err := decimal.NewFromString(hours.String)
		if err != nil {
			return sess, fmt.Errorf("session %s: worked hours: %w", sess.ID, err)
		}
		sess.WorkedHours = &h
	}
	sess.Status = attendance.Status(status)
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	return sess, nil
}
