// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

package marstek

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/battereye/battereye/internal/logging"
	"github.com/battereye/battereye/internal/metrics"
	"github.com/battereye/battereye/internal/models"
)

// CircuitBreakerFetcher wraps a Fetcher with a circuit breaker. It is an
// opt-in layer for deployments where several pollers share one cloud
// account: when the service degrades, the breaker rejects cycles locally
// instead of hammering a struggling API.
//
// Only transient failures count against the breaker. Auth failures and
// permission revocations are application outcomes, not service health, and
// must keep flowing to the coordinator unchanged.
type CircuitBreakerFetcher struct {
	fetcher *Fetcher
	cb      *gobreaker.CircuitBreaker[*models.Snapshot]
}

// NewCircuitBreakerFetcher wraps a fetcher with a circuit breaker.
// Configuration: opens after a 60% failure rate over at least 6 requests in
// a 5 minute window, recovers after 2 minutes via half-open probes.
func NewCircuitBreakerFetcher(fetcher *Fetcher) *CircuitBreakerFetcher {
	metrics.CircuitBreakerState.Set(0) // closed

	cb := gobreaker.NewCircuitBreaker[*models.Snapshot](gobreaker.Settings{
		Name:        "marstek-api",
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 6 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var transient *TransientError
			return !errors.As(err, &transient)
		},

		OnStateChange: func(_ string, from, to gobreaker.State) {
			logging.Info().
				Str("from", breakerStateString(from)).
				Str("to", breakerStateString(to)).
				Msg("marstek: circuit breaker state transition")
			metrics.CircuitBreakerState.Set(breakerStateFloat(to))
		},
	})

	return &CircuitBreakerFetcher{fetcher: fetcher, cb: cb}
}

// FetchDevices performs one poll attempt under circuit breaker protection.
// A rejection while the circuit is open classifies as transient: the next
// scheduled cycle retries, and eventually a half-open probe goes through.
func (c *CircuitBreakerFetcher) FetchDevices(ctx context.Context) (*models.Snapshot, error) {
	snapshot, err := c.cb.Execute(func() (*models.Snapshot, error) {
		return c.fetcher.FetchDevices(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues("rejected").Inc()
			logging.Warn().Err(err).Msg("marstek: poll cycle rejected by circuit breaker")
			return nil, &TransientError{Reason: "circuit breaker open", Err: err}
		}
		metrics.CircuitBreakerRequests.WithLabelValues("failure").Inc()
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues("success").Inc()
	return snapshot, nil
}

// breakerStateFloat converts circuit breaker state to a metric value.
func breakerStateFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// breakerStateString converts circuit breaker state to a log label.
func breakerStateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
