package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TIMEZONE", "UTC")
	cfg := Load()
	require.NoError(t, cfg.Validate())

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, p.LockBuffer)
	assert.Equal(t, 75, p.Thresholds.Satisfactory)
	assert.Equal(t, 65, p.Thresholds.Warning)
	assert.Equal(t, 28*24*time.Hour, p.RollingWindow)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("LOCK_BUFFER", "5m")
	t.Setenv("THRESHOLD_SATISFACTORY", "80")
	t.Setenv("ROLLING_WINDOW_WEEKS", "2")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("MIGRATE_ON_START", "false")
	t.Setenv("CORS_ORIGINS", "https://app.campverse.edu, https://admin.campverse.edu")
	t.Setenv("RETRY_BASE_DELAY", "not-a-duration")

	cfg := Load()
	assert.False(t, cfg.MigrateOnStart)
	assert.Equal(t, []string{"https://app.campverse.edu", "https://admin.campverse.edu"}, cfg.CORSOrigins)
	assert.Equal(t, 200*time.Millisecond, cfg.RetryBaseDelay)

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, p.LockBuffer)
	assert.Equal(t, 80, p.Thresholds.Satisfactory)
	assert.Equal(t, 14*24*time.Hour, p.RollingWindow)
	assert.Equal(t, "UTC", p.Location.String())
}

func TestValidate(t *testing.T) {
	t.Setenv("TIMEZONE", "UTC")
	cfg := Load()
	cfg.Warning, cfg.Satisfactory = 80, 70
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.Timezone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.RollingWindowWeeks = 0
	assert.Error(t, cfg.Validate())
}
