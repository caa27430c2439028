package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/ethstat/kpi-dashboard/config"
	"github.com/ethstat/kpi-dashboard/kpi"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	conf, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", conf.Server.Address)
	assert.Equal(t, 30*time.Second, conf.Server.ShutdownTimeout)
	assert.Equal(t, "kpi.db", conf.Database.Path)
	assert.Equal(t, "info", conf.Logging.Level)
	assert.Equal(t, kpi.DefaultMinDailySamples, conf.Rollup.MinDailySamples)

	scope, err := conf.Rollup.ParseScope()
	require.NoError(t, err)
	assert.Equal(t, kpi.RollupScopeWeek, scope)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	// GIVEN: A file that sets the rollup section
	path := writeConfig(t, `
database:
  path: /tmp/kpi-test.db
logging:
  format: console
rollup:
  scope: full
  min_daily_samples: 3
  reconcile_enabled: true
  reconcile_interval: 15m
`)
	// AND: An environment override for the database path
	t.Setenv("KPI_DATABASE_PATH", ":memory:")

	// WHEN: Loading
	conf, err := config.Load(path)
	require.NoError(t, err)

	// THEN: The environment wins over the file, the file over defaults
	assert.Equal(t, ":memory:", conf.Database.Path)
	assert.Equal(t, "console", conf.Logging.Format)
	assert.Equal(t, "full", conf.Rollup.Scope)
	assert.Equal(t, 3, conf.Rollup.MinDailySamples)
	assert.True(t, conf.Rollup.ReconcileEnabled)
	assert.Equal(t, 15*time.Minute, conf.Rollup.ReconcileInterval)
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, `
rollup:
  scope: monthly
  min_daily_samples: 0
`)
	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown rollup scope")
	assert.Contains(t, err.Error(), "min_daily_samples")

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := config.NewLogger(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = config.NewLogger(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}
