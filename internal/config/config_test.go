package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Cluster.K)
	assert.Equal(t, uint64(42), cfg.Cluster.Seed)
	assert.Equal(t, 300, cfg.Cluster.MaxIterations)
	assert.InDelta(t, 1e-4, cfg.Cluster.Tolerance, 1e-9)
	assert.Equal(t, "nominatim", cfg.Geocode.Provider)
	assert.Equal(t, 3, cfg.Geocode.MaxRetries)
	assert.Equal(t, time.Second, cfg.Geocode.RetryDelay)
	assert.Equal(t, 10*time.Second, cfg.Geocode.Timeout)
	assert.Equal(t, 1, cfg.Geocode.Concurrency)
	assert.Empty(t, cfg.Geocode.CachePath)
	assert.Equal(t, "EPSG:4326", cfg.Enrich.DefaultCRS)
	assert.Equal(t, "all", cfg.Enrich.MatchPolicy)
	assert.Equal(t, 10, cfg.Density.Medium)
	assert.Equal(t, 30, cfg.Density.High)
	assert.Equal(t, 50, cfg.Density.Critical)
	assert.Equal(t, "facility_clusters", cfg.PostGIS.Table)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
log:
  level: debug
  format: console
cluster:
  k: 4
  seed: 7
geocode:
  provider: census
  retry_delay: 250ms
density:
  medium: 2
  high: 4
  critical: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 4, cfg.Cluster.K)
	assert.Equal(t, uint64(7), cfg.Cluster.Seed)
	assert.Equal(t, "census", cfg.Geocode.Provider)
	assert.Equal(t, 250*time.Millisecond, cfg.Geocode.RetryDelay)
	assert.Equal(t, 8, cfg.Density.Critical)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Geocode.MaxRetries)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
cluster:
  k: 4
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("GEOCLUSTER_CLUSTER_K", "12")
	t.Setenv("GEOCLUSTER_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, 12, cfg.Cluster.K)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("GEOCLUSTER_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Cluster.K = 10
	cfg.Cluster.MaxIterations = 300
	cfg.Geocode.MaxRetries = 3
	cfg.Geocode.RetryDelay = time.Second
	cfg.Density = DensityConfig{Medium: 10, High: 30, Critical: 50}
	cfg.Enrich.MatchPolicy = "all"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(_ *Config) {}},
		{name: "zero retry delay", mutate: func(c *Config) { c.Geocode.RetryDelay = 0 }},
		{name: "k zero", mutate: func(c *Config) { c.Cluster.K = 0 }, wantErr: "cluster.k"},
		{name: "no iterations", mutate: func(c *Config) { c.Cluster.MaxIterations = 0 }, wantErr: "max_iterations"},
		{name: "retries zero", mutate: func(c *Config) { c.Geocode.MaxRetries = 0 }, wantErr: "max_retries"},
		{name: "negative delay", mutate: func(c *Config) { c.Geocode.RetryDelay = -time.Second }, wantErr: "retry_delay"},
		{name: "thresholds equal", mutate: func(c *Config) { c.Density.High = 10 }, wantErr: "density"},
		{name: "thresholds descending", mutate: func(c *Config) { c.Density.Critical = 20 }, wantErr: "density"},
		{name: "negative threshold", mutate: func(c *Config) { c.Density.Medium = -1 }, wantErr: "density"},
		{name: "unknown policy", mutate: func(c *Config) { c.Enrich.MatchPolicy = "largest" }, wantErr: "match_policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
