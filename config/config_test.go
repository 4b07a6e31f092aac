package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "gemini-2.5-flash", cfg.AI.Model)
	assert.InDelta(t, 0.2, cfg.AI.Temperature, 1e-6)
	assert.Equal(t, RealtimeLocal, cfg.Realtime.Backend)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL())
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partsconnect.yaml")
	body := []byte(`
http:
  addr: ":9090"
database:
  url: postgres://file/db
auth:
  jwt_secret: from-file
  token_ttl: 2h
realtime:
  backend: postgres
notify:
  poll_interval: 500ms
`)
	require.NoError(t, os.WriteFile(path, body, 0o644))

	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL, "env wins over file")
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL())
	assert.Equal(t, 500*time.Millisecond, cfg.NotifyPollInterval())
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "missing secret")

	cfg.Auth.JWTSecret = "s3cret"
	assert.NoError(t, cfg.Validate())

	cfg.Realtime.Backend = RealtimeRedis
	assert.Error(t, cfg.Validate(), "redis without url")

	cfg.Realtime.RedisURL = "redis://localhost:6379/0"
	assert.NoError(t, cfg.Validate())

	cfg.Realtime.Backend = "carrier-pigeon"
	assert.Error(t, cfg.Validate())
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTP.ReadTimeout = "soon"
	cfg.AI.Timeout = "-3s"

	assert.Equal(t, 15*time.Second, cfg.ReadTimeout())
	assert.Equal(t, 60*time.Second, cfg.AITimeout())
}

func TestBulkTextWriteTimeoutCoversExtraction(t *testing.T) {
	cfg := DefaultConfig()
	assert.Greater(t, cfg.BulkTextWriteTimeout(), cfg.AITimeout())
	assert.Greater(t, cfg.BulkTextWriteTimeout(), cfg.WriteTimeout())

	cfg.HTTP.WriteTimeout = "10m"
	assert.Equal(t, 10*time.Minute, cfg.BulkTextWriteTimeout())
}
