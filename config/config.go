// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package config provides configuration management for the AIOps engine:
// Analyzer thresholds, RCA windows, and server settings, loaded from
// environment variables with an optional YAML file overlay.
package config

import (
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named by the specification, plus the
// ambient server/logging settings. All fields have the spec's literal
// defaults; env vars and an optional YAML file may override them.
type Config struct {
	mu sync.RWMutex

	// Anomaly Analyzer thresholds (spec 4.D)
	LatencyMultiplier     float64       `yaml:"latency_multiplier"`
	ErrorRateThreshold    float64       `yaml:"error_rate_threshold"`
	MinSamplesForBaseline int           `yaml:"min_samples_for_baseline"`
	AnalysisWindow        time.Duration `yaml:"-"`
	AnalysisWindowMinutes int           `yaml:"analysis_window_minutes"`
	BaselineWindow        time.Duration `yaml:"-"`
	BaselineWindowMinutes int           `yaml:"baseline_window_minutes"`

	// RCA Engine thresholds (spec 4.E)
	CorrelationWindow        time.Duration `yaml:"-"`
	CorrelationWindowMinutes int           `yaml:"correlation_window_minutes"`
	IncidentTTL              time.Duration `yaml:"-"`
	IncidentTTLMinutes       int           `yaml:"incident_ttl_minutes"`

	// Scheduler (spec 4.F)
	TickInterval time.Duration `yaml:"-"`
	TickSeconds  int           `yaml:"tick_seconds"`

	// Ambient server/logging settings
	ServerPort int    `yaml:"server_port"`
	LogLevel   string `yaml:"log_level"`

	ConfigSource string `yaml:"-"`
}

var (
	// Global is the process-wide configuration instance. Process-wide
	// access is acceptable per spec 9, but every component in this repo
	// takes a *Config as an explicit dependency so tests can construct
	// isolated instances instead of reaching for Global.
	Global     *Config
	globalLock sync.RWMutex
)

// Defaults returns a Config populated with the specification's literal
// default values.
func Defaults() *Config {
	c := &Config{
		LatencyMultiplier:        3.0,
		ErrorRateThreshold:       0.2,
		MinSamplesForBaseline:    10,
		AnalysisWindowMinutes:    5,
		BaselineWindowMinutes:    60,
		CorrelationWindowMinutes: 5,
		IncidentTTLMinutes:       30,
		TickSeconds:              30,
		ServerPort:               8080,
		LogLevel:                 "info",
		ConfigSource:             "default",
	}
	c.deriveDurations()
	return c
}

func (c *Config) deriveDurations() {
	c.AnalysisWindow = time.Duration(c.AnalysisWindowMinutes) * time.Minute
	c.BaselineWindow = time.Duration(c.BaselineWindowMinutes) * time.Minute
	c.CorrelationWindow = time.Duration(c.CorrelationWindowMinutes) * time.Minute
	c.IncidentTTL = time.Duration(c.IncidentTTLMinutes) * time.Minute
	c.TickInterval = time.Duration(c.TickSeconds) * time.Second
}

// Load builds the global Config from defaults, then an optional YAML
// file (AIOPS_CONFIG_FILE), then environment variables, in that override
// order — mirroring the teacher's lazy double-checked-locking singleton.
func Load() *Config {
	globalLock.Lock()
	defer globalLock.Unlock()

	if Global != nil {
		return Global
	}

	cfg := Defaults()
	if path := os.Getenv("AIOPS_CONFIG_FILE"); path != "" {
		if err := cfg.loadYAMLFile(path); err != nil {
			cfg.ConfigSource = "default+yaml-error:" + err.Error()
		} else {
			cfg.ConfigSource = "yaml:" + path
		}
	}
	cfg.loadEnv()
	cfg.deriveDurations()
	Global = cfg
	return Global
}

// Get returns the global config instance, loading it with defaults if
// Load has not yet been called.
func Get() *Config {
	globalLock.RLock()
	if Global != nil {
		defer globalLock.RUnlock()
		return Global
	}
	globalLock.RUnlock()
	return Load()
}

func (c *Config) loadYAMLFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadEnv() {
	if v, ok := envFloat("AIOPS_LATENCY_MULTIPLIER"); ok {
		c.LatencyMultiplier = v
	}
	if v, ok := envFloat("AIOPS_ERROR_RATE_THRESHOLD"); ok {
		c.ErrorRateThreshold = v
	}
	if v, ok := envInt("AIOPS_MIN_SAMPLES_FOR_BASELINE"); ok {
		c.MinSamplesForBaseline = v
	}
	if v, ok := envInt("AIOPS_ANALYSIS_WINDOW_MINUTES"); ok {
		c.AnalysisWindowMinutes = v
	}
	if v, ok := envInt("AIOPS_BASELINE_WINDOW_MINUTES"); ok {
		c.BaselineWindowMinutes = v
	}
	if v, ok := envInt("AIOPS_CORRELATION_WINDOW_MINUTES"); ok {
		c.CorrelationWindowMinutes = v
	}
	if v, ok := envInt("AIOPS_INCIDENT_TTL_MINUTES"); ok {
		c.IncidentTTLMinutes = v
	}
	if v, ok := envInt("AIOPS_TICK_SECONDS"); ok {
		c.TickSeconds = v
	}
	if v, ok := envInt("AIOPS_SERVER_PORT"); ok {
		c.ServerPort = v
	}
	if v := os.Getenv("AIOPS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func envFloat(key string) (float64, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Clone returns a deep copy safe for a caller to mutate independently of
// Global — used by tests that need an isolated instance.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	clone := *c
	clone.mu = sync.RWMutex{}
	return &clone
}
