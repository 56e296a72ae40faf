package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
version: 1
global:
  platform_name: wiki.example.org
  database:
    connection_string: file:marginalia.db
`

func TestLoadMinimalConfig(t *testing.T) {
	cfg, err := loadConfig([]byte(minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "wiki.example.org", cfg.Global.PlatformName)
	assert.Equal(t, ":8229", cfg.Global.ListenAddress)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 14*24*time.Hour, cfg.ModerationAPI.RejectedGrace())
	assert.False(t, cfg.ModerationAPI.Notifications.Enabled)
	assert.NotNil(t, cfg.ModerationAPI.Global, "component sections must be wired to global")
	assert.True(t, cfg.Global.DatabaseOptions.ConnectionString.IsSQLite())
}

func TestLoadRejectsWrongVersion(t *testing.T) {
	_, err := loadConfig([]byte(`
version: 99
global:
  platform_name: wiki.example.org
  database:
    connection_string: file:marginalia.db
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestLoadRequiresDatabase(t *testing.T) {
	_, err := loadConfig([]byte(`
version: 1
global:
  platform_name: wiki.example.org
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection_string")
}

func TestLoadRejectedGraceOverride(t *testing.T) {
	cfg, err := loadConfig([]byte(minimalConfig + `
moderation_api:
  rejected_grace_hours: 48
`))
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, cfg.ModerationAPI.RejectedGrace())
}

func TestNotificationsValidation(t *testing.T) {
	_, err := loadConfig([]byte(minimalConfig + `
moderation_api:
  notifications:
    enabled: true
`))
	require.Error(t, err, "enabled notifications without sender details must not load")
	assert.Contains(t, err.Error(), "notifications")
}

func TestNotificationsComplete(t *testing.T) {
	cfg, err := loadConfig([]byte(minimalConfig + `
moderation_api:
  notifications:
    enabled: true
    from: moderation@wiki.example.org
    to: [reviewers@wiki.example.org]
    smtp:
      host: mail.example.org
`))
	require.NoError(t, err)
	n := &cfg.ModerationAPI.Notifications
	assert.Equal(t, "New changes are awaiting moderation", n.Subject)
	assert.Equal(t, 587, n.SMTP.Port)
	assert.True(t, n.SMTP.RequireTLS)
}

func TestRateLimitingValidation(t *testing.T) {
	_, err := loadConfig([]byte(minimalConfig + `
moderation_api:
  rate_limiting:
    enabled: true
    threshold: 0
    cooloff_ms: 0
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_limiting")
}

func TestSentryRequiresDSN(t *testing.T) {
	_, err := loadConfig([]byte(`
version: 1
global:
  platform_name: wiki.example.org
  database:
    connection_string: file:marginalia.db
  sentry:
    enabled: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sentry")
}
