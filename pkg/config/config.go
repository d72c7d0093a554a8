// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

// Package config loads the server configuration from a YAML file with
// environment overrides. Workers reload it in the background when the
// file's mtime changes; a bad file keeps the previous configuration.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimits caps lookups per client IP per hour, by request class.
type RateLimits struct {
	NormalLookupsPerHour int `yaml:"normalLookupsPerHour"`
	WhoisLookupsPerHour  int `yaml:"whoisLookupsPerHour"`
	BulkLookupsPerHour   int `yaml:"bulkLookupsPerHour"`
	DenyThreshold        int `yaml:"denyThreshold"`
}

// UsageSync configures the central usage service client.
type UsageSync struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// Config is the complete server configuration.
type Config struct {
	Listen    string `yaml:"listen"`
	Workers   int    `yaml:"workers"`
	PIDFile   string `yaml:"pidFile"`
	DataDir   string `yaml:"dataDir"`
	MetaDBDir string `yaml:"metaDbDir"`

	AdminKey        string     `yaml:"adminKey"`
	EnableRateLimit bool       `yaml:"enableRateLimit"`
	RateLimits      RateLimits `yaml:"rateLimits"`
	Whitelist       []string   `yaml:"whitelist"`
	Blacklist       []string   `yaml:"blacklist"`

	CacheSize int       `yaml:"cacheSize"`
	UsageSync UsageSync `yaml:"usageSync"`

	// loaded state, not serialized
	Path    string    `yaml:"-"`
	ModTime time.Time `yaml:"-"`
}

// Default returns the built-in defaults used when no file is given.
func Default() *Config {
	return &Config{
		Listen:  ":8080",
		Workers: runtime.NumCPU(),
		PIDFile: "ipintel.pid",
		DataDir: "./data",
		RateLimits: RateLimits{
			NormalLookupsPerHour: 1000,
			WhoisLookupsPerHour:  250,
			BulkLookupsPerHour:   50,
			DenyThreshold:        25,
		},
		CacheSize: 65536,
	}
}

// Load reads and validates a YAML configuration file, layering it over
// the defaults and applying environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fi, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat config: %w", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		cfg.Path = path
		cfg.ModTime = fi.ModTime()
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Reload re-reads the config file if its mtime moved. Returns the new
// config and true when something changed; otherwise the receiver and
// false.
func (c *Config) Reload() (*Config, bool, error) {
	if c.Path == "" {
		return c, false, nil
	}
	fi, err := os.Stat(c.Path)
	if err != nil {
		return c, false, fmt.Errorf("failed to stat config: %w", err)
	}
	if !fi.ModTime().After(c.ModTime) {
		return c, false, nil
	}
	fresh, err := Load(c.Path)
	if err != nil {
		return c, false, err
	}
	return fresh, true, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cacheSize must not be negative, got %d", c.CacheSize)
	}
	if c.EnableRateLimit {
		rl := c.RateLimits
		if rl.NormalLookupsPerHour < 1 || rl.WhoisLookupsPerHour < 0 || rl.BulkLookupsPerHour < 0 {
			return fmt.Errorf("rate limits must be positive when rate limiting is enabled")
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	// The reduced-RAM deployment profile pins everything to one worker.
	if os.Getenv("IS_REDUCED_RAM_IP_API") != "" {
		c.Workers = 1
	}
	if c.Workers > runtime.NumCPU() {
		c.Workers = runtime.NumCPU()
	}
}
