/*
Package sqlite provides a SQLite-backed implementation of the engine's storage interfaces.

PURPOSE:
  Implements every persistence interface of the attendance, tardiness and
  discipline packages using SQLite. In production the same patterns apply to
  PostgreSQL with minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  attendance.SessionStore:  Sessions, conditional close, shift lookup
  tardiness.Store:          Events, monthly accumulations, triggers
  tardiness.RuleSource:     Tardiness rule table
  discipline.Store:         Trigger windows, disciplinary records
  discipline.RuleSource:    Disciplinary rules

KEY TABLES:
  attendance_sessions:      One row per check-in; check_out NULL while open
  shift_periods:            Recurring schedule per (shift, weekday)
  employee_shifts:          Employee-to-shift links
  tardiness_rules:          Minutes-late interval table
  tardiness_events:         One row per accumulated session (idempotency)
  tardiness_accumulations:  Per-(employee, month) counters
  triggers:                 Timestamped escalation signals
  disciplinary_rules:       Threshold rules
  disciplinary_records:     Escalation instances

INDEXES:
  - idx_sessions_open_day:   At most one open session per (employee, day)
  - idx_sessions_open:       Auto-checkout scan (hot path)
  - idx_triggers_window:     Rolling window counts (hot path)
  - idx_records_window:      Enforces one record per (employee, rule, first counted trigger)

TIME STORAGE:
  Instants are stored as fixed-width RFC3339 UTC strings so that string
  comparison is chronological. Day columns hold YYYY-MM-DD written from
  calendar.Day, i.e. in the clock's frame, never re-derived here.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, SQLite
  allowing one writer anyway. Conditional writes (close, transition) are
  single UPDATE statements checked through RowsAffected, so they stay
  correct with several processes on one database file.

USAGE:
  store, err := sqlite.New("./data/attendance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// every connection to ":memory:" is a separate database
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Attendance sessions
	CREATE TABLE IF NOT EXISTS attendance_sessions (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		shift_id TEXT NOT NULL DEFAULT '',
		day TEXT NOT NULL,
		check_in TEXT NOT NULL,
		check_out TEXT,
		check_in_method TEXT NOT NULL,
		check_out_method TEXT,
		worked_hours TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- An employee cannot have two open sessions on the same day
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open_day
		ON attendance_sessions(employee_id, day)
		WHERE check_out IS NULL;

	CREATE INDEX IF NOT EXISTS idx_sessions_open
		ON attendance_sessions(day)
		WHERE check_out IS NULL;

	CREATE INDEX IF NOT EXISTS idx_sessions_employee_day
		ON attendance_sessions(employee_id, day);

	-- Shifts
	CREATE TABLE IF NOT EXISTS shift_periods (
		shift_id TEXT NOT NULL,
		weekday INTEGER NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		grace_minutes INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (shift_id, weekday)
	);

	CREATE TABLE IF NOT EXISTS employee_shifts (
		employee_id TEXT PRIMARY KEY,
		shift_id TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Tardiness
	CREATE TABLE IF NOT EXISTS tardiness_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		start_minute INTEGER NOT NULL,
		end_minute INTEGER,
		equivalent_formal_tardies INTEGER NOT NULL,
		accumulation_count INTEGER NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tardiness_events (
		session_id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		day TEXT NOT NULL,
		check_in TEXT NOT NULL,
		scheduled_start TEXT NOT NULL,
		late_minutes INTEGER NOT NULL,
		rule_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tardiness_accumulations (
		employee_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		late_arrivals INTEGER NOT NULL DEFAULT 0,
		direct_tardies INTEGER NOT NULL DEFAULT 0,
		formal_tardies INTEGER NOT NULL DEFAULT 0,
		administrative_acts INTEGER NOT NULL DEFAULT 0,
		rule_counts_json TEXT NOT NULL DEFAULT '{}',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, year, month)
	);

	CREATE TABLE IF NOT EXISTS triggers (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		units INTEGER NOT NULL,
		occurred_at TEXT NOT NULL,
		source_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_triggers_window
		ON triggers(employee_id, kind, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_triggers_occurred_at
		ON triggers(occurred_at);

	-- Discipline
	CREATE TABLE IF NOT EXISTS disciplinary_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		trigger_count INTEGER NOT NULL,
		period_days INTEGER NOT NULL,
		action_type TEXT NOT NULL,
		suspension_days INTEGER,
		validity_days INTEGER,
		requires_approval BOOLEAN NOT NULL DEFAULT FALSE,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS disciplinary_records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		trigger_count INTEGER NOT NULL,
		counted_units INTEGER NOT NULL,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		first_trigger_id TEXT NOT NULL,
		action_type TEXT NOT NULL,
		applied_date TEXT NOT NULL,
		effective_date TEXT,
		expiration_date TEXT,
		suspension_days INTEGER,
		state TEXT NOT NULL,
		decided_by TEXT,
		decided_at TEXT,
		notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: one escalation per (employee, rule, window opening trigger)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_window
		ON disciplinary_records(employee_id, rule_id, first_trigger_id);

	CREATE INDEX IF NOT EXISTS idx_records_state
		ON disciplinary_records(state);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// timeLayout is RFC3339 with fixed nanoseconds so stored values sort.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nowString() string {
	return formatTime(time.Now())
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
