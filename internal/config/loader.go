// Package config loads s3glob defaults from the environment.
//
// Precedence is flags > environment > built-in defaults. Flags are bound
// by the cmd layer; this package owns the defaults and the S3GLOB_ env
// mapping.
package config

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config carries the tunable defaults for a run.
type Config struct {
	// Region is the region bucket auto-discovery starts in.
	Region string `mapstructure:"region"`

	// Delimiter is the key separator used for listing.
	Delimiter string `mapstructure:"delimiter"`

	// MaxParallelism caps concurrent requests.
	MaxParallelism int `mapstructure:"max_parallelism"`

	// RequestTimeout bounds each S3 request.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// ExpansionCap bounds prefix Cartesian expansion.
	ExpansionCap int `mapstructure:"expansion_cap"`

	// FrontierWarn is the frontier size that triggers a narrowing hint.
	FrontierWarn int `mapstructure:"frontier_warn"`

	// DownloadPools is the number of per-prefix download pools.
	DownloadPools int `mapstructure:"download_pools"`

	// RetryAttempts bounds retries on transient errors.
	RetryAttempts int `mapstructure:"retry_attempts"`
}

var (
	configMu  sync.Mutex
	appConfig *Config
)

// setDefaults registers the built-in defaults with viper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("region", "us-east-1")
	v.SetDefault("delimiter", "/")
	v.SetDefault("max_parallelism", 10000)
	v.SetDefault("request_timeout", "30s")
	v.SetDefault("expansion_cap", 100000)
	v.SetDefault("frontier_warn", 10000)
	v.SetDefault("download_pools", 8)
	v.SetDefault("retry_attempts", 5)
}

// Load builds the configuration from defaults and S3GLOB_* environment
// variables (e.g. S3GLOB_MAX_PARALLELISM=500).
func Load() (*Config, error) {
	configMu.Lock()
	defer configMu.Unlock()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("S3GLOB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	appConfig = cfg
	return cfg, nil
}

// GetConfig returns the last loaded configuration, loading defaults if
// nothing was loaded yet.
func GetConfig() *Config {
	configMu.Lock()
	loaded := appConfig
	configMu.Unlock()

	if loaded != nil {
		return loaded
	}
	cfg, err := Load()
	if err != nil {
		// Defaults alone cannot fail to unmarshal; fall back regardless.
		return &Config{}
	}
	return cfg
}
