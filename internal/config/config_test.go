package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_ENV", "test")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "test", cfg.Server.Env)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 120*time.Second, cfg.Server.UpstreamIdleTimeout)
	assert.Equal(t, CursorStoreMemory, cfg.Routing.CursorStore)
	assert.Equal(t, 10000, cfg.Usage.BufferSize)
	assert.Equal(t, 5*time.Second, cfg.Usage.FlushInterval)
}

func TestLoadConfig_FileAndSecretResolution(t *testing.T) {
	t.Setenv("TEST_ADMIN_KEY", "admin-12345")
	t.Setenv("TEST_REDIS_PASSWORD", "hunter2")

	configContent := `
server:
  port: "7000"
  admin_keys:
    - "ENV:TEST_ADMIN_KEY"
    - "static-key"
  upstream_idle_timeout: 30s
redis:
  password: "ENV:TEST_REDIS_PASSWORD"
routing:
  cursor_store: redis
complexity:
  thresholds:
    expert: 95
  capability_scores:
    gpt-4o: 88
vendors:
  - id: local
    base_url: http://localhost:11434/v1
    api_type: openai
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configContent), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, []string{"admin-12345", "static-key"}, cfg.Server.AdminKeys)
	assert.Equal(t, 30*time.Second, cfg.Server.UpstreamIdleTimeout)
	assert.Equal(t, "hunter2", cfg.Redis.Password)
	assert.Equal(t, CursorStoreRedis, cfg.Routing.CursorStore)
	assert.Equal(t, 95, cfg.Complexity.Thresholds["expert"])
	assert.Equal(t, 88, cfg.Complexity.CapabilityScores["gpt-4o"])
	require.Len(t, cfg.Vendors, 1)
	assert.Equal(t, "http://localhost:11434/v1", cfg.Vendors[0].BaseURL)
}
