package bootstrap

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vigil/config"
	"vigil/core"
	"vigil/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// loadTestConfig loads configuration from a temp directory holding yaml
func loadTestConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	yaml = fmt.Sprintf("data_paths:\n  data_dir: %s\n", filepath.Join(dir, "data")) + yaml
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Chdir(dir)

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestNewAppWithConfig_InProcess(t *testing.T) {
	cfg := loadTestConfig(t, "")

	app, err := NewAppWithConfig(t.Context(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Shutdown()

	assert.Nil(t, app.Storage.Redis)
	assert.IsType(t, &core.MemoryClaimLocker{}, app.Storage.Locker)
	_, err = os.Stat(cfg.DataPaths.SQLitePath)
	require.NoError(t, err)

	ctx := t.Context()
	for i := 0; i < 3; i++ {
		_, err := app.Alerts.Ingest(ctx, &core.Alert{
			Source:   "vpn",
			Type:     "Brute Force Login",
			Severity: core.SeverityHigh,
			RawLog:   map[string]interface{}{"source_ip": "203.0.113.5", "user": "jdoe"},
		})
		require.NoError(t, err)
	}

	result, err := app.Engine.RunBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.IncidentsCreated)

	incidents, err := app.Incidents.List(ctx, storage.IncidentFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.NotEmpty(t, incidents[0].Narrative)
}

func TestNewAppWithConfig_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadTestConfig(t, fmt.Sprintf("redis:\n  enabled: true\n  addr: %s\n", mr.Addr()))

	app, err := NewAppWithConfig(t.Context(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Shutdown()

	require.NotNil(t, app.Storage.Redis)
	assert.IsType(t, &core.RedisClaimLocker{}, app.Storage.Locker)
}

func TestInitRedis_CanceledContext(t *testing.T) {
	cfg := loadTestConfig(t, "redis:\n  enabled: true\n  addr: 127.0.0.1:1\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := InitRedis(ctx, cfg, zap.NewNop().Sugar())
	assert.Error(t, err)
}

func TestAppStartAndShutdown(t *testing.T) {
	cfg := loadTestConfig(t, "api:\n  host: 127.0.0.1\n")
	cfg.API.Port = freePort(t)

	app, err := NewAppWithConfig(t.Context(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, app.Start(t.Context()))

	url := fmt.Sprintf("http://%s/health", cfg.ListenAddr())
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	app.Shutdown()

	_, err = http.Get(url)
	assert.Error(t, err, "server must be closed after shutdown")
}

func TestInitTracing(t *testing.T) {
	cfg := loadTestConfig(t, "tracing:\n  enabled: true\n  sample_ratio: 1\n")

	obs, logs := observer.New(zapcore.DebugLevel)
	tp, shutdown := InitTracing(cfg, zap.New(obs).Sugar())

	_, span := tp.Tracer("test").Start(context.Background(), "correlate.batch")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	entries := logs.FilterMessage("Span finished").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "correlate.batch", entries[0].ContextMap()["span"])
}

func TestInitTracing_Disabled(t *testing.T) {
	cfg := loadTestConfig(t, "")
	tp, shutdown := InitTracing(cfg, zap.NewNop().Sugar())
	assert.NotNil(t, tp)
	assert.NoError(t, shutdown(context.Background()))
}
