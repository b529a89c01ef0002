package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"deepresearch/internal/database"
	"deepresearch/internal/utils"

	"github.com/spf13/viper"
)

// Config holds process-wide settings. Research settings (models, depth,
// width) live in the database instead.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Keyring  KeyringConfig  `mapstructure:"keyring"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Throttle ThrottleConfig `mapstructure:"throttle"`
}

type DatabaseConfig struct {
	Path     string `mapstructure:"path"`
	LogLevel string `mapstructure:"log_level"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	Level      string `mapstructure:"level"`
	Production bool   `mapstructure:"production"`
}

type KeyringConfig struct {
	// Backend restricts the keyring to one backend (e.g. "file",
	// "secret-service", "keychain"). Empty lets the library pick.
	Backend  string `mapstructure:"backend"`
	FileDir  string `mapstructure:"file_dir"`
	Password string `mapstructure:"password"`
}

type ResolverConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	Timeout       time.Duration `mapstructure:"timeout"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type ThrottleConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	BaseCharsPerSecond int           `mapstructure:"base_chars_per_second"`
	MaxChunkSize       int           `mapstructure:"max_chunk_size"`
	MinEmitInterval    time.Duration `mapstructure:"min_emit_interval"`
	MaxBufferSize      int           `mapstructure:"max_buffer_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", database.GetDefaultDBPath())
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("log.file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.production", false)
	v.SetDefault("keyring.backend", "")
	v.SetDefault("keyring.file_dir", "")
	v.SetDefault("keyring.password", "")
	v.SetDefault("resolver.enabled", true)
	v.SetDefault("resolver.rate_per_second", 5.0)
	v.SetDefault("resolver.burst", 5)
	v.SetDefault("resolver.timeout", 10*time.Second)
	v.SetDefault("resolver.cache_ttl", time.Hour)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("throttle.tick_interval", 16*time.Millisecond)
	v.SetDefault("throttle.base_chars_per_second", 400)
	v.SetDefault("throttle.max_chunk_size", 120)
	v.SetDefault("throttle.min_emit_interval", 50*time.Millisecond)
	v.SetDefault("throttle.max_buffer_size", 20000)
}

// Load reads .env, then the config file (path, or config.* in the usual
// places), then DEEPRESEARCH_* environment variables.
func Load(path string) (*Config, error) {
	if err := utils.LoadEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "deepresearch"))
		}
	}

	v.SetEnvPrefix("DEEPRESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Resolver.Enabled {
		if c.Resolver.RatePerSecond <= 0 {
			return fmt.Errorf("resolver.rate_per_second must be greater than zero")
		}
		if c.Resolver.Burst <= 0 {
			return fmt.Errorf("resolver.burst must be greater than zero")
		}
		if c.Resolver.Timeout <= 0 {
			return fmt.Errorf("resolver.timeout must be greater than zero")
		}
	}
	if c.Keyring.Backend == "file" && c.Keyring.Password == "" {
		return fmt.Errorf("keyring.password is required for the file backend")
	}
	return nil
}
