package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds the service settings. Values come from the YAML file, with
// PULSEWATCH_* environment variables taking precedence.
type Config struct {
	IntervalMinutes    int    `yaml:"interval_minutes" envconfig:"INTERVAL_MINUTES"`
	SimultaneousPulses int    `yaml:"simultaneous_pulses" envconfig:"SIMULTANEOUS_PULSES"`
	AlertThreshold     int    `yaml:"alert_threshold" envconfig:"ALERT_THRESHOLD"`
	RecentMinutes      int    `yaml:"recent_minutes" envconfig:"RECENT_MINUTES"`
	DatabasePath       string `yaml:"database_path" envconfig:"DATABASE_PATH"`
	ListenAddr         string `yaml:"listen_addr" envconfig:"LISTEN_ADDR"`
}

// DefaultConfig returns sensible defaults in case no configuration file is
// provided.
func DefaultConfig() Config {
	return Config{
		IntervalMinutes:    5,
		SimultaneousPulses: 10,
		AlertThreshold:     3,
		RecentMinutes:      120,
		DatabasePath:       "pulsewatch.db",
		ListenAddr:         ":8080",
	}
}

// Load reads configuration from a yaml file. A missing file falls back to
// defaults; environment variables override either.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(content, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := envconfig.Process("pulsewatch", &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}

	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = DefaultConfig().IntervalMinutes
	}
	if cfg.SimultaneousPulses <= 0 {
		cfg.SimultaneousPulses = DefaultConfig().SimultaneousPulses
	}
	if cfg.RecentMinutes <= 0 {
		cfg.RecentMinutes = DefaultConfig().RecentMinutes
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = DefaultConfig().DatabasePath
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultConfig().ListenAddr
	}
	if cfg.AlertThreshold < 0 {
		return Config{}, errors.New("alert_threshold must not be negative")
	}
	return cfg, nil
}

// Interval is the sweep cadence.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// RecentWindow is the retention of the recent-pulses duplicate table.
func (c Config) RecentWindow() time.Duration {
	return time.Duration(c.RecentMinutes) * time.Minute
}
