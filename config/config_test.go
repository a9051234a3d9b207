package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/config"
)

func envOf(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	c, err := config.LoadFrom(envOf(nil), nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Port)
	assert.Equal(t, "attendance.db", c.DBPath)
	assert.Equal(t, "UTC", c.Timezone)
	assert.Equal(t, "01:00", c.DailyJobTime.String())
	assert.Equal(t, 1, c.MonthlyJobDay)
	assert.Equal(t, 5*time.Minute, c.AlertInterval)
	assert.Zero(t, c.UnpaidBreak)
	assert.Equal(t, "16", c.MaxPlausibleHours.String())
	assert.True(t, c.JobsAutostart)
	assert.Equal(t, []string{"*"}, c.CORSOrigins)
}

func TestLoadFrom_EnvThenFlags(t *testing.T) {
	// GIVEN: environment values for several keys
	env := envOf(map[string]string{
		"PORT":                 "9000",
		"TIMEZONE":             "America/Mexico_City",
		"UNPAID_BREAK_MINUTES": "30",
		"MAX_PLAUSIBLE_HOURS":  "14.5",
		"CORS_ORIGINS":         "https://a.example, https://b.example",
		"JOBS_AUTOSTART":       "false",
	})

	// WHEN: a flag overrides one of them
	c, err := config.LoadFrom(env, []string{"-port", "3000", "-daily-at", "02:30"})
	require.NoError(t, err)

	// THEN: flags win over env, env wins over defaults
	assert.Equal(t, 3000, c.Port)
	assert.Equal(t, "02:30", c.DailyJobTime.String())
	assert.Equal(t, "America/Mexico_City", c.Timezone)
	assert.Equal(t, 30*time.Minute, c.UnpaidBreak)
	assert.Equal(t, "14.5", c.MaxPlausibleHours.String())
	assert.False(t, c.JobsAutostart)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.CORSOrigins)

	clock, err := c.Clock()
	require.NoError(t, err)
	assert.Equal(t, "America/Mexico_City", clock.Location().String())

	sched := c.Schedule()
	assert.Equal(t, "30 2 * * *", sched.DailySpec())
}

func TestLoadFrom_RejectsInvalidValues(t *testing.T) {
	tests := map[string]map[string]string{
		"port":        {"PORT": "http"},
		"timezone":    {"TIMEZONE": "Mars/Olympus"},
		"daily time":  {"DAILY_JOB_TIME": "25:00"},
		"monthly day": {"MONTHLY_JOB_DAY": "31"},
		"alert":       {"ALERT_INTERVAL": "often"},
		"short alert": {"ALERT_INTERVAL": "10s"},
		"break":       {"UNPAID_BREAK_MINUTES": "-5"},
		"max hours":   {"MAX_PLAUSIBLE_HOURS": "0"},
		"autostart":   {"JOBS_AUTOSTART": "maybe"},
	}

	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := config.LoadFrom(envOf(env), nil)
			assert.Error(t, err)
		})
	}
}

func TestLoadFrom_UnknownFlag(t *testing.T) {
	_, err := config.LoadFrom(envOf(nil), []string{"-verbose"})
	assert.Error(t, err)
}
