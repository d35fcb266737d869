// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate runs struct-tag range checks. A single instance is reused; the
// validator caches struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that required configuration is present and in range.
// Failures here never reach the coordinator; the process refuses to start.
func (c *Config) Validate() error {
	if err := c.validateMarstek(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateMQTT(); err != nil {
		return err
	}
	return c.validateLogging()
}

// validateMarstek validates the cloud session and polling settings.
func (c *Config) validateMarstek() error {
	if c.Marstek.Email == "" {
		return fmt.Errorf("MARSTEK_EMAIL is required")
	}
	if c.Marstek.Password == "" {
		return fmt.Errorf("MARSTEK_PASSWORD is required")
	}
	if c.Marstek.PollInterval < 10 || c.Marstek.PollInterval > 3600 {
		return fmt.Errorf("MARSTEK_POLL_INTERVAL must be between 10 and 3600 seconds, got %d", c.Marstek.PollInterval)
	}
	if c.Marstek.Timeout <= 0 {
		return fmt.Errorf("MARSTEK_TIMEOUT must be positive, got %s", c.Marstek.Timeout)
	}
	if c.Marstek.DefaultCapacityKWh <= 0 {
		return fmt.Errorf("MARSTEK_DEFAULT_CAPACITY_KWH must be positive, got %g", c.Marstek.DefaultCapacityKWh)
	}
	for devid, kwh := range c.Marstek.CapacitiesKWh {
		if kwh <= 0 {
			return fmt.Errorf("capacity for device %q must be positive, got %g", devid, kwh)
		}
	}
	if err := validate.Struct(&c.Marstek); err != nil {
		return fmt.Errorf("marstek configuration invalid: %w", err)
	}
	return nil
}

// validateServer validates the HTTP API settings (only when enabled).
func (c *Config) validateServer() error {
	if !c.Server.Enabled {
		return nil
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitReqs < 1 {
		return fmt.Errorf("SERVER_RATE_LIMIT_REQS must be at least 1, got %d", c.Server.RateLimitReqs)
	}
	if c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("SERVER_RATE_LIMIT_WINDOW must be positive, got %s", c.Server.RateLimitWindow)
	}
	return nil
}

// validateMQTT validates the publisher settings (only when enabled).
func (c *Config) validateMQTT() error {
	if !c.MQTT.Enabled {
		return nil
	}
	if c.MQTT.BrokerURL == "" {
		return fmt.Errorf("MQTT_BROKER_URL is required when MQTT_ENABLED=true")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1, or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("MQTT_TOPIC_PREFIX must not be empty when MQTT_ENABLED=true")
	}
	return nil
}

// validateLogging validates logger settings.
func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("LOGGING_LEVEL %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOGGING_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
