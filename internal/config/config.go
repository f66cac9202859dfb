package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Input   InputConfig   `yaml:"input" mapstructure:"input"`
	Geocode GeocodeConfig `yaml:"geocode" mapstructure:"geocode"`
	Enrich  EnrichConfig  `yaml:"enrich" mapstructure:"enrich"`
	Cluster ClusterConfig `yaml:"cluster" mapstructure:"cluster"`
	Density DensityConfig `yaml:"density" mapstructure:"density"`
	Fetch   FetchConfig   `yaml:"fetch" mapstructure:"fetch"`
	PostGIS PostGISConfig `yaml:"postgis" mapstructure:"postgis"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// InputConfig configures how the facility list is read.
type InputConfig struct {
	Encoding string `yaml:"encoding" mapstructure:"encoding"` // charset of CSV input, empty = utf-8
	Sheet    string `yaml:"sheet" mapstructure:"sheet"`       // XLSX sheet name, empty = first sheet
}

// GeocodeConfig configures the geocoding resolver and its provider.
type GeocodeConfig struct {
	Provider    string        `yaml:"provider" mapstructure:"provider"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	UserAgent   string        `yaml:"user_agent" mapstructure:"user_agent"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RateLimit   float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxRetries  int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency"`
	CachePath   string        `yaml:"cache_path" mapstructure:"cache_path"`
	CacheTTL    time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// EnrichConfig configures the spatial enrichment joins.
type EnrichConfig struct {
	DefaultCRS     string `yaml:"default_crs" mapstructure:"default_crs"`
	MatchPolicy    string `yaml:"match_policy" mapstructure:"match_policy"`
	LayersManifest string `yaml:"layers_manifest" mapstructure:"layers_manifest"`
}

// ClusterConfig configures the k-means cluster engine.
type ClusterConfig struct {
	K             int     `yaml:"k" mapstructure:"k"`
	Seed          uint64  `yaml:"seed" mapstructure:"seed"`
	MaxIterations int     `yaml:"max_iterations" mapstructure:"max_iterations"`
	Tolerance     float64 `yaml:"tolerance" mapstructure:"tolerance"`
}

// DensityConfig holds the member-count thresholds for density bands.
type DensityConfig struct {
	Medium   int `yaml:"medium" mapstructure:"medium"`
	High     int `yaml:"high" mapstructure:"high"`
	Critical int `yaml:"critical" mapstructure:"critical"`
}

// FetchConfig configures remote source downloads.
type FetchConfig struct {
	TempDir     string        `yaml:"temp_dir" mapstructure:"temp_dir"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// PostGISConfig configures the optional PostGIS export.
type PostGISConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Schema      string `yaml:"schema" mapstructure:"schema"`
	Table       string `yaml:"table" mapstructure:"table"`
}

// ServerConfig configures the dataset server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Match policies accepted by enrich.match_policy.
var validMatchPolicies = map[string]bool{
	"all":       true,
	"first":     true,
	"innermost": true,
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOCLUSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("geocode.provider", "nominatim")
	v.SetDefault("geocode.user_agent", "geocluster/1.0")
	v.SetDefault("geocode.timeout", 10*time.Second)
	v.SetDefault("geocode.rate_limit", 1.0)
	v.SetDefault("geocode.max_retries", 3)
	v.SetDefault("geocode.retry_delay", time.Second)
	v.SetDefault("geocode.concurrency", 1)
	v.SetDefault("geocode.cache_ttl", 720*time.Hour)
	v.SetDefault("enrich.default_crs", "EPSG:4326")
	v.SetDefault("enrich.match_policy", "all")
	v.SetDefault("cluster.k", 10)
	v.SetDefault("cluster.seed", 42)
	v.SetDefault("cluster.max_iterations", 300)
	v.SetDefault("cluster.tolerance", 1e-4)
	v.SetDefault("density.medium", 10)
	v.SetDefault("density.high", 30)
	v.SetDefault("density.critical", 50)
	v.SetDefault("fetch.temp_dir", "/tmp/geocluster")
	v.SetDefault("fetch.timeout", 60*time.Second)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("postgis.schema", "public")
	v.SetDefault("postgis.table", "facility_clusters")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the values the pipeline stages depend on.
func (c *Config) Validate() error {
	if c.Cluster.K < 1 {
		return eris.Errorf("config: cluster.k must be >= 1, got %d", c.Cluster.K)
	}
	if c.Cluster.MaxIterations < 1 {
		return eris.Errorf("config: cluster.max_iterations must be >= 1, got %d", c.Cluster.MaxIterations)
	}
	if c.Geocode.MaxRetries < 1 {
		return eris.Errorf("config: geocode.max_retries must be >= 1, got %d", c.Geocode.MaxRetries)
	}
	if c.Geocode.RetryDelay < 0 {
		return eris.Errorf("config: geocode.retry_delay must not be negative, got %s", c.Geocode.RetryDelay)
	}
	if c.Density.Medium < 0 || c.Density.Medium >= c.Density.High || c.Density.High >= c.Density.Critical {
		return eris.Errorf("config: density thresholds must be ascending and non-negative, got %d/%d/%d",
			c.Density.Medium, c.Density.High, c.Density.Critical)
	}
	if !validMatchPolicies[c.Enrich.MatchPolicy] {
		return eris.Errorf("config: unknown enrich.match_policy %q", c.Enrich.MatchPolicy)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
