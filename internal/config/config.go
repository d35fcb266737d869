// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

// Package config loads and validates Battereye configuration.
//
// Configuration is layered via Koanf v2 (highest priority wins):
//
//  1. Built-in defaults
//  2. YAML config file (config.yaml, or BATTEREYE_CONFIG override)
//  3. Environment variables (MARSTEK_EMAIL, SERVER_PORT, ...)
//
// Validation failures are configuration errors by the error taxonomy: they
// are rejected here, before any component is constructed, and never reach
// the update coordinator.
package config

import "time"

// Config is the root configuration for the Battereye daemon.
type Config struct {
	Marstek MarstekConfig `koanf:"marstek"`
	Server  ServerConfig  `koanf:"server"`
	MQTT    MQTTConfig    `koanf:"mqtt"`
	Logging LoggingConfig `koanf:"logging"`
}

// MarstekConfig configures the Marstek Cloud session and polling engine.
type MarstekConfig struct {
	// Email is the Marstek Cloud account identifier.
	Email string `koanf:"email" validate:"required,email"`

	// Password is the account secret. Only its MD5 digest ever leaves the
	// process, and neither form is ever logged.
	Password string `koanf:"password" validate:"required"`

	// BaseURL is the cloud endpoint root.
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// PollInterval is the fetch cadence in seconds. The remote service rate
	// limits aggressively below 10s; above an hour the data is useless.
	PollInterval int `koanf:"poll_interval" validate:"min=10,max=3600"`

	// Timeout bounds every network call to the cloud API.
	Timeout time.Duration `koanf:"timeout"`

	// IgnoreDeviceTypes lists device types dropped before they reach the
	// snapshot. HME-3 is the vendor's meter accessory, not a battery.
	IgnoreDeviceTypes []string `koanf:"ignore_device_types"`

	// DefaultCapacityKWh is the assumed battery capacity when no per-device
	// override is configured. 5.12 kWh matches the common Venus E pack.
	DefaultCapacityKWh float64 `koanf:"default_capacity_kwh" validate:"gt=0"`

	// CapacitiesKWh maps device ID to configured capacity in kWh.
	CapacitiesKWh map[string]float64 `koanf:"capacities_kwh" validate:"dive,gt=0"`

	// CircuitBreaker wraps the cloud client with a gobreaker circuit
	// breaker. Off by default: the scheduled interval already spaces out
	// retries, so the breaker only helps deployments sharing an account
	// across many pollers.
	CircuitBreaker bool `koanf:"circuit_breaker"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port" validate:"min=1,max=65535"`

	// RateLimitReqs / RateLimitWindow bound requests per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	// ShutdownTimeout is the grace period for in-flight requests.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// MQTTConfig configures the optional snapshot publisher.
type MQTTConfig struct {
	Enabled     bool   `koanf:"enabled"`
	BrokerURL   string `koanf:"broker_url" validate:"required_if=Enabled true"`
	TopicPrefix string `koanf:"topic_prefix"`
	ClientID    string `koanf:"client_id"`
	Username    string `koanf:"username"`
	Password    string `koanf:"password"`
	QoS         byte   `koanf:"qos" validate:"max=2"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. These are
// layered first and overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Marstek: MarstekConfig{
			Email:              "",
			Password:           "",
			BaseURL:            "https://eu.hamedata.com",
			PollInterval:       60,
			Timeout:            10 * time.Second,
			IgnoreDeviceTypes:  []string{"HME-3"},
			DefaultCapacityKWh: 5.12,
			CapacitiesKWh:      map[string]float64{},
			CircuitBreaker:     false,
		},
		Server: ServerConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            8480,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			BrokerURL:   "",
			TopicPrefix: "battereye",
			ClientID:    "battereye",
			QoS:         1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// PollIntervalDuration returns the poll interval as a time.Duration.
func (c *MarstekConfig) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// CapacityFor returns the configured capacity for a device, falling back to
// the default when no per-device override exists.
func (c *MarstekConfig) CapacityFor(deviceID string) float64 {
	if kwh, ok := c.CapacitiesKWh[deviceID]; ok {
		return kwh
	}
	return c.DefaultCapacityKWh
}

// IgnoresDeviceType reports whether a device type is in the ignore set.
func (c *MarstekConfig) IgnoresDeviceType(deviceType string) bool {
	for _, t := range c.IgnoreDeviceTypes {
		if t == deviceType {
			return true
		}
	}
	return false
}
