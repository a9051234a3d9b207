/*
Package config loads server configuration.

SOURCES (later wins):
  1. .env in the working directory, if present
  2. environment variables
  3. command-line flags

KEYS:
  PORT                  -port           HTTP port (8080)
  DB_PATH               -db             SQLite path, ":memory:" allowed (attendance.db)
  TIMEZONE              -tz             IANA zone of the calendar frame (UTC)
  DAILY_JOB_TIME        -daily-at       HH:MM of the daily and monthly jobs (01:00)
  MONTHLY_JOB_DAY       -monthly-day    day of month 1..28 (1)
  ALERT_INTERVAL        -alert-every    auto-checkout alert cadence (5m)
  UNPAID_BREAK_MINUTES  -unpaid-break   minutes deducted per session (0)
  MAX_PLAUSIBLE_HOURS   -max-hours      longer sessions are ABNORMAL (16)
  RULES_FILE            -rules          JSON rules to seed at startup (none)
  JOBS_AUTOSTART        -jobs-autostart schedule every job at startup (true)
  CORS_ORIGINS          -cors           comma-separated allowed origins (*)

Invalid values are returned as errors; the caller decides whether to exit.
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/jobs"
)

// Config is the resolved server configuration.
type Config struct {
	Port              int
	DBPath            string
	Timezone          string
	DailyJobTime      calendar.TimeOfDay
	MonthlyJobDay     int
	AlertInterval     time.Duration
	UnpaidBreak       time.Duration
	MaxPlausibleHours decimal.Decimal
	RulesFile         string
	JobsAutostart     bool
	CORSOrigins       []string
}

// raw holds the string form of every key before validation.
type raw struct {
	port, dbPath, timezone, dailyAt, monthlyDay, alertEvery string
	unpaidBreak, maxHours, rulesFile, autostart, cors       string
}

func defaults() raw {
	return raw{
		port:        "8080",
		dbPath:      "attendance.db",
		timezone:    "UTC",
		dailyAt:     "01:00",
		monthlyDay:  "1",
		alertEvery:  "5m",
		unpaidBreak: "0",
		maxHours:    "16",
		autostart:   "true",
		cors:        "*",
	}
}

// Load reads .env, the environment, then args (usually os.Args[1:]).
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return LoadFrom(os.LookupEnv, args)
}

// LoadFrom resolves configuration from lookup and args without touching .env.
func LoadFrom(lookup func(string) (string, bool), args []string) (*Config, error) {
	r := defaults()
	env := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	env("PORT", &r.port)
	env("DB_PATH", &r.dbPath)
	env("TIMEZONE", &r.timezone)
	env("DAILY_JOB_TIME", &r.dailyAt)
	env("MONTHLY_JOB_DAY", &r.monthlyDay)
	env("ALERT_INTERVAL", &r.alertEvery)
	env("UNPAID_BREAK_MINUTES", &r.unpaidBreak)
	env("MAX_PLAUSIBLE_HOURS", &r.maxHours)
	env("RULES_FILE", &r.rulesFile)
	env("JOBS_AUTOSTART", &r.autostart)
	env("CORS_ORIGINS", &r.cors)

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&r.port, "port", r.port, "HTTP server port")
	fs.StringVar(&r.dbPath, "db", r.dbPath, "SQLite database path")
	fs.StringVar(&r.timezone, "tz", r.timezone, "IANA time zone of the calendar frame")
	fs.StringVar(&r.dailyAt, "daily-at", r.dailyAt, "HH:MM of the daily and monthly jobs")
	fs.StringVar(&r.monthlyDay, "monthly-day", r.monthlyDay, "day of month of the monthly job")
	fs.StringVar(&r.alertEvery, "alert-every", r.alertEvery, "auto-checkout alert interval")
	fs.StringVar(&r.unpaidBreak, "unpaid-break", r.unpaidBreak, "unpaid break minutes per session")
	fs.StringVar(&r.maxHours, "max-hours", r.maxHours, "maximum plausible session hours")
	fs.StringVar(&r.rulesFile, "rules", r.rulesFile, "JSON rules file to seed")
	fs.StringVar(&r.autostart, "jobs-autostart", r.autostart, "schedule jobs at startup")
	fs.StringVar(&r.cors, "cors", r.cors, "comma-separated CORS origins")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return r.resolve()
}

func (r raw) resolve() (*Config, error) {
	c := &Config{DBPath: r.dbPath, Timezone: r.timezone, RulesFile: r.rulesFile}
	var errs []error

	var err error
	if c.Port, err = strconv.Atoi(r.port); err != nil || c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT: invalid port %q", r.port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH: must not be empty"))
	}
	if _, err := time.LoadLocation(r.timezone); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}
	if c.DailyJobTime, err = calendar.ParseTimeOfDay(r.dailyAt); err != nil {
		errs = append(errs, fmt.Errorf("DAILY_JOB_TIME: %w", err))
	}
	if c.MonthlyJobDay, err = strconv.Atoi(r.monthlyDay); err != nil {
		errs = append(errs, fmt.Errorf("MONTHLY_JOB_DAY: invalid day %q", r.monthlyDay))
	}
	if c.AlertInterval, err = time.ParseDuration(r.alertEvery); err != nil {
		errs = append(errs, fmt.Errorf("ALERT_INTERVAL: %w", err))
	}
	if minutes, err := strconv.Atoi(r.unpaidBreak); err != nil || minutes < 0 {
		errs = append(errs, fmt.Errorf("UNPAID_BREAK_MINUTES: invalid minutes %q", r.unpaidBreak))
	} else {
		c.UnpaidBreak = time.Duration(minutes) * time.Minute
	}
	if c.MaxPlausibleHours, err = decimal.NewFromString(r.maxHours); err != nil || !c.MaxPlausibleHours.IsPositive() {
		errs = append(errs, fmt.Errorf("MAX_PLAUSIBLE_HOURS: invalid hours %q", r.maxHours))
	}
	if c.JobsAutostart, err = strconv.ParseBool(r.autostart); err != nil {
		errs = append(errs, fmt.Errorf("JOBS_AUTOSTART: invalid bool %q", r.autostart))
	}
	for _, o := range strings.Split(r.cors, ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.CORSOrigins = append(c.CORSOrigins, o)
		}
	}

	if len(errs) == 0 {
		if err := c.Schedule().Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// Clock returns the calendar clock of the configured zone.
func (c *Config) Clock() (*calendar.Clock, error) {
	return calendar.LoadClock(c.Timezone)
}

// Schedule returns the job cadences.
func (c *Config) Schedule() jobs.Schedule {
	return jobs.Schedule{
		DailyAt:    c.DailyJobTime,
		MonthlyDay: c.MonthlyJobDay,
		AlertEvery: c.AlertInterval,
	}
}

// Log prints the resolved configuration.
func (c *Config) Log(logger *log.Logger) {
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("[Config] port=%d db=%s tz=%s daily=%s monthly-day=%d alert=%s unpaid-break=%s max-hours=%s rules=%q autostart=%t cors=%v",
		c.Port, c.DBPath, c.Timezone, c.DailyJobTime, c.MonthlyJobDay, c.AlertInterval,
		c.UnpaidBreak, c.MaxPlausibleHours, c.RulesFile, c.JobsAutostart, c.CORSOrigins)
}
