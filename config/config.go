/*
Package config loads server settings from a YAML file and the environment.

PURPOSE:
  One place for every tunable: HTTP listener, SQLite path, logging and the
  weekly rollup. Values come from, in increasing priority:
    1. Defaults below
    2. The YAML file passed to Load (optional)
    3. KPI_* environment variables (KPI_DATABASE_PATH, KPI_ROLLUP_SCOPE, ...)

EXAMPLE FILE:
  server:
    address: ":8080"
    allowed_origins: ["https://dashboard.example.et"]
  database:
    path: ./data/kpi.db
  logging:
    level: info
    format: json
  rollup:
    scope: week
    min_daily_samples: 5
    reconcile_enabled: true
    reconcile_interval: 1h

SEE ALSO:
  - config/logger.go: zap logger built from LoggingConfig
  - cmd/server/main.go: flag overrides
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ethstat/kpi-dashboard/kpi"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "KPI"

// Configuration holds all configuration for the KPI server.
type Configuration struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Rollup   RollupConfig   `mapstructure:"rollup"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	// Path is a SQLite file, or ":memory:".
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputFile string `mapstructure:"output_file"` // optional file output
}

type RollupConfig struct {
	Scope             string        `mapstructure:"scope"` // week, full
	MinDailySamples   int           `mapstructure:"min_daily_samples"`
	ReconcileEnabled  bool          `mapstructure:"reconcile_enabled"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.path", "kpi.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_file", "")

	v.SetDefault("rollup.scope", string(kpi.RollupScopeWeek))
	v.SetDefault("rollup.min_daily_samples", kpi.DefaultMinDailySamples)
	v.SetDefault("rollup.reconcile_enabled", false)
	v.SetDefault("rollup.reconcile_interval", time.Hour)
}

// Load reads the configuration at path. An empty path uses defaults and the
// environment only.
func Load(path string) (*Configuration, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file, %w", err)
		}
	}

	var conf Configuration
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Validate checks values viper can't type-check.
func (c *Configuration) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if _, err := c.Rollup.ParseScope(); err != nil {
		errs = append(errs, err)
	}
	if c.Rollup.MinDailySamples < 1 {
		errs = append(errs, fmt.Errorf("rollup.min_daily_samples must be positive, got %d", c.Rollup.MinDailySamples))
	}
	if c.Rollup.ReconcileEnabled && c.Rollup.ReconcileInterval <= 0 {
		errs = append(errs, errors.New("rollup.reconcile_interval must be positive when reconciliation is enabled"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

func (r RollupConfig) ParseScope() (kpi.RollupScope, error) {
	return kpi.ParseRollupScope(r.Scope)
}
