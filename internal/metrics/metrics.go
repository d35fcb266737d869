// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

// Package metrics provides Prometheus instrumentation for Battereye:
// poll cycle outcomes and latency, login attempts, snapshot contents, and
// HTTP API traffic. Collectors are registered via promauto at package load.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poll cycle metrics

	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battereye_poll_cycles_total",
			Help: "Total poll cycles by outcome",
		},
		[]string{"result"}, // "success", "transient_failure", "auth_failure", "permission_revoked"
	)

	PollCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "battereye_poll_cycle_duration_seconds",
			Help:    "Duration of poll cycles in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
	)

	SingleFlightJoined = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "battereye_poll_refresh_joined_total",
			Help: "Refresh requests that attached to an already in-flight cycle",
		},
	)

	// Session metrics

	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battereye_logins_total",
			Help: "Total login attempts against the cloud API by outcome",
		},
		[]string{"result"}, // "success", "auth_failure", "transient_failure"
	)

	TokenInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "battereye_token_invalidations_total",
			Help: "Times the cached session token was cleared",
		},
	)

	// Snapshot metrics

	SnapshotDevices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "battereye_snapshot_devices",
			Help: "Devices in the current snapshot",
		},
	)

	SnapshotAge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "battereye_snapshot_age_seconds",
			Help: "Age of the current snapshot in seconds",
		},
	)

	ConsecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "battereye_consecutive_failures",
			Help: "Consecutive failed poll cycles since the last success",
		},
	)

	ConnectionOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "battereye_connection_online",
			Help: "1 when the last poll cycle succeeded, 0 otherwise",
		},
	)

	// Circuit breaker metrics

	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "battereye_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battereye_circuit_breaker_requests_total",
			Help: "Circuit breaker request outcomes",
		},
		[]string{"state"}, // "success", "failure", "rejected"
	)

	// HTTP API metrics

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battereye_api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "battereye_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "endpoint"},
	)

	// MQTT publisher metrics

	MQTTPublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battereye_mqtt_publishes_total",
			Help: "Snapshot publications to MQTT by outcome",
		},
		[]string{"result"}, // "success", "failure"
	)
)

// RecordAPIRequest records one API request with its latency.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordCycle records one completed poll cycle.
func RecordCycle(result string, duration time.Duration) {
	PollCyclesTotal.WithLabelValues(result).Inc()
	PollCycleDuration.Observe(duration.Seconds())
}
