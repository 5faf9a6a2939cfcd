package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("BOTHOST_DATA_ROOT", "/srv/bothost")
	t.Setenv("PORT", "9100")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("SUPABASE_JWT_SECRET", "legacy")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	defer Load()

	os.Unsetenv("JWT_SECRET")
	Load()

	assert.Equal(t, "9100", HTTPPort)
	assert.Equal(t, "legacy", JWTSecret, "falls back to SUPABASE_JWT_SECRET")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, AllowedOrigins)
	assert.Equal(t, filepath.Join("/srv/bothost", "bots"), BotsDir)
	assert.Equal(t, filepath.Join("/srv/bothost", "bothost.db"), DBFile)
}

func TestValidateRequireAuth(t *testing.T) {
	t.Setenv("BOTHOST_REQUIRE_AUTH", "true")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("SUPABASE_JWT_SECRET", "")
	defer Load()

	Load()
	assert.Error(t, Validate())

	t.Setenv("JWT_SECRET", "s3cret")
	Load()
	assert.NoError(t, Validate())
}

func TestLoadLimitsDefaults(t *testing.T) {
	limits, err := LoadLimits(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultLimits(), limits)
	assert.Equal(t, 5, limits.RateLimits["deploy"].Max)
	assert.Equal(t, int64(256), limits.MemoryLimitMB)
}

func TestLoadLimitsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.yaml")
	yml := `
rate_limits:
  exec:
    max: 3
    window: 30s
memory_limit_mb: 512
stop_timeout: 2s
exec_allowed: [ls, cat]
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	limits, err := LoadLimits(path)
	require.NoError(t, err)
	assert.Equal(t, RateRule{Max: 3, Window: 30 * time.Second}, limits.RateLimits["exec"])
	assert.Equal(t, 100, limits.RateLimits["global"].Max, "untouched categories keep defaults")
	assert.Equal(t, int64(512), limits.MemoryLimitMB)
	assert.Equal(t, 2*time.Second, limits.StopTimeout)
	assert.Equal(t, []string{"ls", "cat"}, limits.ExecAllowed)
	assert.Equal(t, 1000, limits.LogBufferSize)
}

func TestLoadLimitsRejectsBadRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rate_limits:\n  deploy:\n    max: 0\n    window: 1m\n"), 0644))

	_, err := LoadLimits(path)
	assert.Error(t, err)
}
