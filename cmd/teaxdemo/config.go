package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config drives the demo. Values come from an optional YAML file and are
// then overridden by TEAX_* environment variables.
type Config struct {
	StateDir     string        `yaml:"state_dir" env:"TEAX_STATE_DIR"`
	StateKey     string        `yaml:"state_key" env:"TEAX_STATE_KEY"`
	TickInterval time.Duration `yaml:"tick_interval" env:"TEAX_TICK_INTERVAL"`
	Ticks        int           `yaml:"ticks" env:"TEAX_TICKS"`
	MaxRate      float64       `yaml:"max_rate" env:"TEAX_MAX_RATE"`
	MetricsAddr  string        `yaml:"metrics_addr" env:"TEAX_METRICS_ADDR"`
	LogLevel     string        `yaml:"log_level" env:"TEAX_LOG_LEVEL"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		StateDir:     os.TempDir(),
		StateKey:     "teaxdemo",
		TickInterval: 500 * time.Millisecond,
		Ticks:        10,
		MaxRate:      10,
		LogLevel:     "info",
	}
}

// LoadConfig layers the YAML file at path (if any) and the environment over
// DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings.
func (c Config) Validate() error {
	var errs []error
	if c.StateDir == "" {
		errs = append(errs, errors.New("state_dir is required"))
	}
	if c.StateKey == "" {
		errs = append(errs, errors.New("state_key is required"))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval must be positive, got %v", c.TickInterval))
	}
	if c.Ticks < 0 {
		errs = append(errs, fmt.Errorf("ticks must not be negative, got %d", c.Ticks))
	}
	if c.MaxRate <= 0 {
		errs = append(errs, fmt.Errorf("max_rate must be positive, got %v", c.MaxRate))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
