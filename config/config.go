// SPDX-License-Identifier: MIT
// Package config defines the router's configuration surface: a nested,
// yaml-tagged struct tree loaded from a file and overridable via environment
// variables, the same shape the rest of this family's services use.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/apimgr/dbrouter/internal/listener"
	"github.com/apimgr/dbrouter/internal/node"
	"github.com/apimgr/dbrouter/internal/policy"
)

// Config is the Router's full configuration.
type Config struct {
	Seeds    []node.NodeID `yaml:"seeds"`
	Database string        `yaml:"database"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`

	MaxConnectionsPerHost     int `yaml:"max_connections_per_host"`
	MinIdleConnectionsPerHost int `yaml:"min_idle_connections_per_host"`

	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`

	// DiscoverPeriod is a plain Go duration ("5s"), a cron "@every 5s"
	// expression, or a standard 5-field cron expression, parsed once via
	// internal/schedule.ParsePeriod at Router construction.
	DiscoverPeriod         string `yaml:"discover_period"`
	IgnoreDonor            bool   `yaml:"ignore_donor"`
	RetriesToGetConnection int    `yaml:"retries_to_get_connection"`

	Autocommit       bool                  `yaml:"autocommit"`
	ReadOnly         bool                  `yaml:"read_only"`
	IsolationLevel   string                `yaml:"isolation_level"`
	ConsistencyLevel node.ConsistencyLevel `yaml:"-"`

	CacheStatusInRedis    bool   `yaml:"cache_status_in_redis"`
	RedisAddr             string `yaml:"redis_addr"`
	RedisPassword         string `yaml:"redis_password"`
	CircuitBreakerEnabled bool   `yaml:"circuit_breaker_enabled"`
	MetricsEnabled        bool   `yaml:"metrics_enabled"`
	TestMode              bool   `yaml:"test_mode"`

	Listener            listener.Listener `yaml:"-"`
	NodeSelectionPolicy policy.Policy     `yaml:"-"`
	Logger              *slog.Logger      `yaml:"-"`
}

// Defaults returns a Config with every field set to the router's documented
// defaults; callers typically load a YAML file over a copy of this.
func Defaults() Config {
	return Config{
		MaxConnectionsPerHost:     25,
		MinIdleConnectionsPerHost: 5,
		ConnectTimeout:            5 * time.Second,
		ConnectionTimeout:         3 * time.Second,
		ReadTimeout:               10 * time.Second,
		IdleTimeout:               5 * time.Minute,
		DiscoverPeriod:            "5s",
		RetriesToGetConnection:    3,
		Autocommit:                true,
	}
}

// Load reads a YAML file into a copy of Defaults(), then applies
// environment overrides via ApplyEnv.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	ApplyEnv(&cfg)
	return cfg, nil
}

// ApplyEnv overrides a subset of boolean flags from environment variables,
// using the same truthy/falsy vocabulary as ParseBoolWithDefault.
func ApplyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("DBROUTER_IGNORE_DONOR"); ok {
		cfg.IgnoreDonor = MustParseBool(v, cfg.IgnoreDonor)
	}
	if v, ok := os.LookupEnv("DBROUTER_TEST_MODE"); ok {
		cfg.TestMode = MustParseBool(v, cfg.TestMode)
	}
	if v, ok := os.LookupEnv("DBROUTER_METRICS_ENABLED"); ok {
		cfg.MetricsEnabled = MustParseBool(v, cfg.MetricsEnabled)
	}
}
