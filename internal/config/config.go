package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the server configuration. Values come from defaults, an
// optional rsacomm.yaml in the working directory, and RSACOMM_-prefixed
// environment variables, in increasing precedence.
type Config struct {
	Listen        string        `mapstructure:"listen"`
	LoginDeadline time.Duration `mapstructure:"login_deadline"`
	IdleDeadline  time.Duration `mapstructure:"idle_deadline"`
	ArchiveDSN    string        `mapstructure:"archive_dsn"`
	LogLevel      string        `mapstructure:"log_level"`
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("listen", ":4931")
	v.SetDefault("login_deadline", 30*time.Second)
	v.SetDefault("idle_deadline", 30*time.Minute)
	v.SetDefault("archive_dsn", "rsacomm.db")
	v.SetDefault("log_level", "info")

	v.SetConfigName("rsacomm")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RSACOMM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.LoginDeadline <= 0 || cfg.IdleDeadline <= 0 {
		return nil, fmt.Errorf("deadlines must be positive")
	}
	return &cfg, nil
}

// SlogLevel maps the configured level name onto a slog level, defaulting
// to info for anything unrecognized.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
