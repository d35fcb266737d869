// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

// Package main is the entry point for the Battereye daemon.
//
// Battereye polls the Marstek Cloud API for battery telemetry and republishes
// it locally: a read-only JSON API, Prometheus metrics, and optionally MQTT.
//
// # Startup order
//
//  1. Configuration: Koanf v2 layering (defaults, config.yaml, environment)
//  2. Session client: credentials are digested, never stored in plaintext
//     beyond process memory, and never logged
//  3. Startup validation: one blocking fetch cycle; bad credentials abort
//     startup with a configuration error instead of going resident
//  4. Supervisor tree: coordinator and MQTT publisher in the polling layer,
//     the HTTP server in the API layer
//
// # Configuration
//
// Required:
//   - MARSTEK_EMAIL: Marstek Cloud account email
//   - MARSTEK_PASSWORD: account password
//
// Common options:
//   - MARSTEK_POLL_INTERVAL: seconds between fetch cycles (default 60)
//   - MARSTEK_BASE_URL: cloud endpoint (default https://eu.hamedata.com)
//   - SERVER_PORT: HTTP API port (default 8480)
//   - MQTT_ENABLED, MQTT_BROKER_URL: enable the MQTT mirror
//
// # Signal handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server drains
// in-flight requests, the coordinator finishes any running cycle, and the
// MQTT client disconnects cleanly.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/battereye/battereye/internal/api"
	"github.com/battereye/battereye/internal/config"
	"github.com/battereye/battereye/internal/coordinator"
	"github.com/battereye/battereye/internal/logging"
	"github.com/battereye/battereye/internal/marstek"
	"github.com/battereye/battereye/internal/publish"
	"github.com/battereye/battereye/internal/supervisor"
	"github.com/battereye/battereye/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config errors use the default logger; configuration is not
		// available to configure it yet.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("base_url", cfg.Marstek.BaseURL).
		Int("poll_interval_s", cfg.Marstek.PollInterval).
		Bool("http_api", cfg.Server.Enabled).
		Bool("mqtt", cfg.MQTT.Enabled).
		Msg("Starting Battereye")

	client := marstek.NewSessionClient(&cfg.Marstek)
	fetcher := marstek.NewFetcher(client, &cfg.Marstek)

	var coordFetcher coordinator.Fetcher = fetcher
	if cfg.Marstek.CircuitBreaker {
		coordFetcher = marstek.NewCircuitBreakerFetcher(fetcher)
		logging.Info().Msg("Circuit breaker enabled for cloud API")
	}

	coord := coordinator.New(coordFetcher, &cfg.Marstek)

	// One blocking cycle before going resident. Rejected credentials are a
	// configuration error and abort startup; a cloud outage is not.
	if err := validateStartup(coord, &cfg.Marstek); err != nil {
		logging.Fatal().
			Str("error", logging.SanitizeError(err.Error())).
			Msg("Startup validation failed: check MARSTEK_EMAIL and MARSTEK_PASSWORD")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddPollingService(coord)

	if cfg.MQTT.Enabled {
		tree.AddPollingService(publish.NewMQTTPublisher(coord, cfg))
		logging.Info().
			Str("broker", cfg.MQTT.BrokerURL).
			Str("topic_prefix", cfg.MQTT.TopicPrefix).
			Msg("MQTT publisher enabled")
	}

	if cfg.Server.Enabled {
		addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
		httpServer := &http.Server{
			Addr:              addr,
			Handler:           api.New(coord, cfg).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		tree.AddAPIService(services.NewHTTPServerService(httpServer, cfg.Server.ShutdownTimeout))
		logging.Info().Str("addr", addr).Msg("HTTP API enabled")
	}

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
		os.Exit(1)
	}
	logging.Info().Msg("Shutdown complete")
}

// validateStartup runs the first fetch cycle synchronously. Auth failures
// and revoked permissions mean the configuration is wrong; transient cloud
// failures log a warning and let the daemon start degraded.
func validateStartup(coord *coordinator.Coordinator, cfg *config.MarstekConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout*3)
	defer cancel()

	snap, err := coord.RefreshNow(ctx)
	if err == nil {
		logging.Info().
			Int("devices", snap.DeviceCount()).
			Msg("Startup validation succeeded")
		return nil
	}

	var authErr *marstek.AuthError
	if errors.As(err, &authErr) {
		return fmt.Errorf("cloud login rejected: %w", err)
	}
	var permErr *marstek.PermissionRevokedError
	if errors.As(err, &permErr) {
		return fmt.Errorf("account has no device access: %w", err)
	}

	logging.Warn().
		Str("error", logging.SanitizeError(err.Error())).
		Msg("Cloud unreachable at startup, continuing degraded")
	return nil
}
