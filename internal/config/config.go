// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Proxy   ProxyConfig             `mapstructure:"proxy"`
	HTTP    HTTPConfig              `mapstructure:"http"`
	Output  OutputConfig            `mapstructure:"output"`
	Sources map[string]SourceConfig `mapstructure:"sources"`
	Block   BlockConfig             `mapstructure:"block"`
	Metrics MetricsConfig           `mapstructure:"metrics"`
	Logging LoggingConfig           `mapstructure:"logging"`
}

// ProxyConfig describes the rotating proxy gateway.
type ProxyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Scheme  string `mapstructure:"scheme"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
}

// HTTPConfig configures the fetcher and its retry budget.
type HTTPConfig struct {
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	UserAgent        string `mapstructure:"user_agent"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	// RatePerSecond paces requests per host; zero leaves them unpaced.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// OutputConfig sets where the per-source record files are written.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// SourceConfig overrides the built-in definition of one source. Zero values
// keep the built-in setting.
type SourceConfig struct {
	Workers int      `mapstructure:"workers"`
	Pages   int      `mapstructure:"pages"`
	Cookie  string   `mapstructure:"cookie"`
	Seeds   []string `mapstructure:"seeds"`
}

// BlockConfig tunes anti-scraping detection. Empty lists use the built-in defaults.
type BlockConfig struct {
	Statuses []int    `mapstructure:"statuses"`
	Keywords []string `mapstructure:"keywords"`
}

// MetricsConfig controls the operational HTTP endpoint. An empty address disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. With an empty path the usual
// locations are searched and a missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The gateway credentials are also accepted under their historical names.
	if err := v.BindEnv("proxy.user", "CRAWLER_PROXY_USER", "proxyUser"); err != nil {
		return Config{}, fmt.Errorf("bind proxy.user: %w", err)
	}
	if err := v.BindEnv("proxy.pass", "CRAWLER_PROXY_PASS", "proxyPass"); err != nil {
		return Config{}, fmt.Errorf("bind proxy.pass: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/udiab/")
		v.AddConfigPath("$HOME/.udiab")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("proxy.enabled", true)
	v.SetDefault("proxy.scheme", "http")
	v.SetDefault("proxy.host", "dyn.horocn.com")
	v.SetDefault("proxy.port", 50000)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 5)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.backoff_initial_ms", 0)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("http.rate_per_second", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("output.dir", ".")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Proxy.Enabled {
		if strings.TrimSpace(c.Proxy.Host) == "" {
			return fmt.Errorf("proxy.host must be set when the proxy is enabled")
		}
		if c.Proxy.Port <= 0 || c.Proxy.Port > 65535 {
			return fmt.Errorf("proxy.port must be in 1..65535")
		}
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.BackoffInitialMs < 0 || c.HTTP.BackoffMaxMs < 0 {
		return fmt.Errorf("http backoff values must be >= 0")
	}
	if c.HTTP.RatePerSecond < 0 || c.HTTP.Burst < 0 {
		return fmt.Errorf("http rate limit values must be >= 0")
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return fmt.Errorf("output.dir must be set")
	}
	for name, s := range c.Sources {
		if s.Workers < 0 {
			return fmt.Errorf("sources.%s.workers must be >= 0", name)
		}
		if s.Pages < 0 {
			return fmt.Errorf("sources.%s.pages must be >= 0", name)
		}
	}
	for _, status := range c.Block.Statuses {
		if status < 100 || status > 599 {
			return fmt.Errorf("block.statuses: %d is not an HTTP status", status)
		}
	}
	return nil
}

// Source returns the overrides for the named source; names match case-insensitively.
func (c Config) Source(name string) SourceConfig {
	for key, s := range c.Sources {
		if strings.EqualFold(key, name) {
			return s
		}
	}
	return SourceConfig{}
}

// Timeout converts the per-attempt HTTP timeout into a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial returns the first retry delay; zero means retry immediately.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps the retry delay.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
