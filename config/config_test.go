package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadFrom runs LoadConfig in a directory holding the given config.yaml
func loadFrom(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	if yaml != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	}
	t.Chdir(dir)
	return LoadConfig()
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadFrom(t, "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 5*time.Minute, cfg.Correlation.Interval)
	assert.Equal(t, 24*time.Hour, cfg.Correlation.AttachWindow)
	assert.True(t, cfg.Correlation.OnIngest)
	assert.Equal(t, 4, cfg.Correlation.Workers)
	assert.Equal(t, 2*time.Minute, cfg.Correlation.LockTTL)
	assert.Equal(t, 20*time.Second, cfg.Narrative.Timeout)
	assert.Equal(t, uint32(5), cfg.Narrative.CircuitBreaker.MaxFailures)
	assert.Equal(t, time.Minute, cfg.Narrative.CircuitBreaker.Cooldown)
	assert.Empty(t, cfg.Narrative.Providers)
	assert.Equal(t, filepath.Join("data", "vigil.db"), cfg.DataPaths.SQLitePath)
	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddr())
}

func TestLoadConfig_File(t *testing.T) {
	cfg, err := loadFrom(t, `
api:
  port: 9090
correlation:
  interval: 30s
  attach_window: 0s
narrative:
  timeout: 5s
  providers:
    - name: primary
      endpoint: https://llm.example.com/v1/chat/completions
      model_id: gpt-4o-mini
      credential: env:OPENAI_API_KEY
      requests_per_minute: 60
    - name: local
      endpoint: http://localhost:11434/v1/chat/completions
      model_id: llama3
`)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, 30*time.Second, cfg.Correlation.Interval)
	assert.Zero(t, cfg.Correlation.AttachWindow)
	require.Len(t, cfg.Narrative.Providers, 2)
	assert.Equal(t, "primary", cfg.Narrative.Providers[0].Name)
	assert.Equal(t, "gpt-4o-mini", cfg.Narrative.Providers[0].ModelID)
	assert.Equal(t, "env:OPENAI_API_KEY", cfg.Narrative.Providers[0].Credential, "references are resolved by LoadSecrets")
	assert.Equal(t, 60.0, cfg.Narrative.Providers[0].RequestsPerMinute)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("VIGIL_API_PORT", "7070")
	t.Setenv("VIGIL_CORRELATION_WORKERS", "8")
	t.Setenv("VIGIL_SQLITE_PATH", "custom/alerts.db")

	cfg, err := loadFrom(t, "")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.API.Port)
	assert.Equal(t, 8, cfg.Correlation.Workers)
	assert.Equal(t, filepath.Join("custom", "alerts.db"), cfg.DataPaths.SQLitePath)
}

func TestLoadConfig_LockTTLCoversNarration(t *testing.T) {
	cfg, err := loadFrom(t, `
correlation:
  lock_ttl: 41s
narrative:
  timeout: 20s
  providers:
    - {name: a, model_id: m, endpoint: 'https://a.example.com'}
    - {name: b, model_id: m, endpoint: 'https://b.example.com'}
`)
	require.NoError(t, err)
	assert.Equal(t, 41*time.Second, cfg.Correlation.LockTTL)

	_, err = loadFrom(t, `
correlation:
  lock_ttl: 40s
narrative:
  timeout: 20s
  providers:
    - {name: a, model_id: m, endpoint: 'https://a.example.com'}
    - {name: b, model_id: m, endpoint: 'https://b.example.com'}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "correlation.lock_ttl")
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad port", "api:\n  port: 70000\n"},
		{"bad log level", "logging:\n  level: verbose\n"},
		{"zero workers", "correlation:\n  workers: 0\n"},
		{"negative window", "correlation:\n  attach_window: -1h\n"},
		{"provider without model", "narrative:\n  providers:\n    - name: p\n      endpoint: https://x.example.com\n"},
		{"provider bad endpoint", "narrative:\n  providers:\n    - name: p\n      model_id: m\n      endpoint: ftp://x\n"},
		{"duplicate provider", "narrative:\n  providers:\n    - {name: p, model_id: m, endpoint: 'https://a.example.com'}\n    - {name: p, model_id: m, endpoint: 'https://b.example.com'}\n"},
		{"zero lock ttl", "correlation:\n  lock_ttl: 0s\n"},
		{"lock ttl shorter than narration", "correlation:\n  lock_ttl: 30s\nnarrative:\n  timeout: 20s\n  providers:\n    - {name: a, model_id: m, endpoint: 'https://a.example.com'}\n    - {name: b, model_id: m, endpoint: 'https://b.example.com'}\n"},
		{"breaker zero failures", "narrative:\n  circuit_breaker:\n    max_failures: 0\n"},
		{"vault without address", "secrets:\n  provider: vault\n"},
		{"unknown secrets provider", "secrets:\n  provider: gcp\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadFrom(t, tt.yaml)
			assert.Error(t, err)
		})
	}
}
