package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "TASKCORE"

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// A .env file in the working directory, when present, is loaded into the
// process environment first without overriding variables that are already set.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration against its validate tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can populate it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.snapshot_path", "")

	v.SetDefault("claim.lock_stale_after", 30*time.Minute)
	v.SetDefault("claim.running_stuck_after", 15*time.Minute)
	v.SetDefault("claim.max_retry_age", 60*time.Minute)
	v.SetDefault("claim.heartbeat_interval", time.Minute)

	v.SetDefault("pool.instance_cap", 5)
	v.SetDefault("pool.background_instance_cap", 0)
	v.SetDefault("pool.tenant_foreground_cap", 1)
	v.SetDefault("pool.tenant_background_cap", 1)
	v.SetDefault("pool.idle_timeout", 30*time.Second)
	v.SetDefault("pool.dispatch_interval", 5*time.Second)
	v.SetDefault("pool.shutdown_timeout", 2*time.Minute)

	v.SetDefault("retry.default_max_attempts", 4)

	v.SetDefault("sweep.interval", time.Minute)
	v.SetDefault("sweep.stale_after", 30*time.Minute)
	v.SetDefault("sweep.ancient_after", 24*time.Hour)
	v.SetDefault("sweep.confirmation_timeout", time.Hour)
	v.SetDefault("sweep.retention_horizon", 30*24*time.Hour)
	v.SetDefault("sweep.retention_interval", 6*time.Hour)

	v.SetDefault("schedule.interval", 30*time.Second)
	v.SetDefault("schedule.failure_cap", 5)
	v.SetDefault("schedule.definitions_file", "")

	v.SetDefault("confirmation.patterns", []string{})
	v.SetDefault("confirmation.replies_supported", true)
}
