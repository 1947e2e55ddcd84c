package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantris/erpagent/checkpoint"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 8, cfg.Engine.MaxIterations)
	assert.Equal(t, 4, cfg.Engine.MaxConcurrent)
	assert.Equal(t, 2, cfg.Engine.MaxCorrectionAttempts)
	assert.Equal(t, "memory", cfg.Checkpoint.Type)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Auth.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
server:
  http_port: 9000
  rate_limit_rps: 5
engine:
  max_iterations: 12
llm:
  model: gpt-4o
  api_key: sk-test
erp:
  base_url: https://erp.example.com
  api_key: key
  api_secret: secret
checkpoint:
  type: redis
redis:
  addr: redis:6379
specialists:
  - name: inventory
    capability: stock levels and warehouse queries
    tools: [get_stock_level, list_warehouses]
    tool_budget: 3
  - name: sales
    capability: sales orders and quotations
    tools: [create_sales_order]
    timeout: 90s
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, float64(5), cfg.Server.RateLimitRPS)
	assert.Equal(t, 12, cfg.Engine.MaxIterations)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "https://erp.example.com", cfg.ERP.BaseURL)
	assert.Equal(t, "redis", cfg.Checkpoint.Type)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)

	// Untouched sections keep their defaults.
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
	assert.Equal(t, 2*time.Minute, cfg.Engine.SpecialistTimeout)

	require.Len(t, cfg.Specialists, 2)
	assert.Equal(t, "inventory", cfg.Specialists[0].Name)
	assert.Equal(t, 3, cfg.Specialists[0].ToolBudget)
	assert.Equal(t, 90*time.Second, cfg.Specialists[1].Timeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ERPAGENT_SERVER_HTTP_PORT", "7070")
	t.Setenv("ERPAGENT_ENGINE_MAX_ITERATIONS", "3")
	t.Setenv("ERPAGENT_ENGINE_SPECIALIST_TIMEOUT", "45s")
	t.Setenv("ERPAGENT_ERP_BASE_URL", "https://env.example.com")
	t.Setenv("ERPAGENT_AUTH_ENABLED", "true")
	t.Setenv("ERPAGENT_AUTH_JWT_SECRET", "topsecret")
	t.Setenv("ERPAGENT_LOG_OUTPUT_PATHS", "stdout, /var/log/erpagent.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, 3, cfg.Engine.MaxIterations)
	assert.Equal(t, 45*time.Second, cfg.Engine.SpecialistTimeout)
	assert.Equal(t, "https://env.example.com", cfg.ERP.BaseURL)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "topsecret", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"stdout", "/var/log/erpagent.log"}, cfg.Log.OutputPaths)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9000\n"), 0o644))
	t.Setenv("ERPAGENT_SERVER_HTTP_PORT", "7070")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.HTTPPort)
}

func TestCustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6060")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.HTTPPort)
}

func TestValidatorHook(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			return assert.AnError
		}).
		Load()
	assert.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.Engine.MaxIterations = -1
	cfg.Checkpoint.Type = "cassette"
	cfg.Auth.Enabled = true
	cfg.Specialists = []SpecialistConfig{
		{Name: "sales"},
		{Name: "sales"},
		{Name: ""},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
	assert.Contains(t, err.Error(), "max_iterations")
	assert.Contains(t, err.Error(), "cassette")
	assert.Contains(t, err.Error(), "jwt_secret")
	assert.Contains(t, err.Error(), `duplicate specialist "sales"`)
	assert.Contains(t, err.Error(), "empty name")
}

func TestCheckpointStoreConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Checkpoint.Type = "database"
	cfg.Checkpoint.Driver = "postgres"
	cfg.Checkpoint.DSN = "host=localhost user=app dbname=erpagent"
	cfg.Redis.Addr = "redis:6379"
	cfg.Redis.KeyPrefix = "app:"

	sc := cfg.CheckpointStoreConfig()
	assert.Equal(t, checkpoint.StoreTypeDatabase, sc.Type)
	assert.Equal(t, "postgres", sc.Database.Driver)
	assert.Equal(t, "redis:6379", sc.Redis.Addr)
	assert.Equal(t, "app:", sc.Redis.KeyPrefix)
}

func TestMustLoadPanicsOnBadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: [broken"), 0o644))

	assert.Panics(t, func() { MustLoad(path) })
}
