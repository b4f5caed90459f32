package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func loadFrom(t *testing.T, path string, extra ...string) (*Config, error) {
	t.Helper()
	fs := Flags()
	require.NoError(t, fs.Parse(append([]string{"--config", path}, extra...)))
	return LoadConfig(fs)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadFrom(t, writeConfig(t, "logger:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 2*time.Second, cfg.PDP.Timeout)
	assert.False(t, cfg.PDP.CBEnabled, "breaker is opt-in")
	assert.Equal(t, "session_token", cfg.Auth.CookieName)
	assert.Equal(t, map[string]string{
		"administrator": "admin",
		"practitioner":  "doctor",
		"subject":       "patient",
	}, cfg.PDP.Roles)
}

func TestLoadConfigProductionRequiresSecret(t *testing.T) {
	_, err := loadFrom(t, writeConfig(t, "environment: production\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_secret")

	cfg, err := loadFrom(t, writeConfig(t, "environment: production\nauth:\n  token_secret: s3cr3t\n"))
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "s3cr3t", cfg.Auth.TokenSecret)
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	cfg, err := loadFrom(t, writeConfig(t, "seed: false\n"), "--seed")
	require.NoError(t, err)
	assert.True(t, cfg.Seed)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("PDP_TIMEOUT", "750ms")
	cfg, err := loadFrom(t, writeConfig(t, "pdp:\n  timeout: 3s\n"))
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.PDP.Timeout)
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger(LoggerConfig{Level: "warn", Format: "console"})
	require.NoError(t, err)

	_, err = NewLogger(LoggerConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)

	_, err = NewLogger(LoggerConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
