// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/battereye/battereye/internal/config"
	"github.com/battereye/battereye/internal/logging"
	"github.com/battereye/battereye/internal/marstek"
	"github.com/battereye/battereye/internal/metrics"
	"github.com/battereye/battereye/internal/models"
)

// ErrRateLimited is returned by RequestRefresh when manual refreshes arrive
// faster than the limiter allows. Scheduled cycles are never rate limited.
var ErrRateLimited = errors.New("manual refresh rate limited")

// ErrNotRunning is returned by RequestRefresh after Stop.
var ErrNotRunning = errors.New("coordinator not running")

// Fetcher produces a device snapshot. Satisfied by marstek.Fetcher and
// marstek.CircuitBreakerFetcher.
type Fetcher interface {
	FetchDevices(ctx context.Context) (*models.Snapshot, error)
}

// State describes the coordinator's view of the cloud connection.
type State string

const (
	// StateStarting means no cycle has completed yet.
	StateStarting State = "starting"

	// StateHealthy means the last cycle produced a snapshot.
	StateHealthy State = "healthy"

	// StateDegraded means the last cycle failed transiently. The previous
	// snapshot stays published, flagged offline, until a cycle succeeds.
	StateDegraded State = "degraded"

	// StateAuthFailed means a fresh token was rejected or credentials no
	// longer authenticate. Polling continues: the next cycle re-logins
	// from scratch, which recovers if the account was merely disturbed.
	StateAuthFailed State = "auth_failed"

	// StatePermissionRevoked means the account no longer has access to its
	// devices (API code 8). Polling continues at the normal cadence in
	// case access is restored.
	StatePermissionRevoked State = "permission_revoked"
)

// Listener receives every completed refresh cycle exactly once, successful or
// not. A nil error means snap is the freshly published snapshot. Listeners
// run on the cycle goroutine and must not block.
type Listener func(snap *models.Snapshot, err error)

// Health is a point-in-time report of the polling engine.
type Health struct {
	State               State     `json:"state"`
	LastSuccess         time.Time `json:"last_success"`
	LastAttempt         time.Time `json:"last_attempt"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	Cycles              uint64    `json:"cycles"`
}

// Coordinator drives the fetch cycle on a fixed interval and publishes the
// resulting snapshots atomically. All readers observe either the previous
// complete snapshot or the new complete snapshot, never a partial one.
//
// Concurrent refresh requests coalesce into a single in-flight cycle: the
// joining caller waits for that cycle's result instead of issuing another
// round of API calls against the rate-limited cloud.
type Coordinator struct {
	fetcher  Fetcher
	interval time.Duration
	limiter  *rate.Limiter

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	// state guards the published snapshot and health bookkeeping.
	stateMu             sync.RWMutex
	snapshot            *models.Snapshot
	state               State
	lastSuccess         time.Time
	lastAttempt         time.Time
	lastError           error
	consecutiveFailures int
	cycles              uint64

	// flight guards single-flight coalescing.
	flightMu sync.Mutex
	inFlight bool
	waiters  []chan flightResult

	listenerMu sync.RWMutex
	listeners  map[int]Listener
	nextID     int
}

type flightResult struct {
	snap *models.Snapshot
	err  error
}

// New creates a stopped coordinator. Call Start to begin polling.
func New(fetcher Fetcher, cfg *config.MarstekConfig) *Coordinator {
	interval := cfg.PollIntervalDuration()

	// Manual refreshes may burst twice, then settle to one per quarter
	// interval. The scheduled loop bypasses the limiter entirely.
	limiter := rate.NewLimiter(rate.Every(interval/4), 2)

	return &Coordinator{
		fetcher:   fetcher,
		interval:  interval,
		limiter:   limiter,
		state:     StateStarting,
		listeners: make(map[int]Listener),
	}
}

// Start launches the polling loop. The first cycle runs immediately rather
// than waiting a full interval. Start is idempotent while running.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopChan = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go c.loop(ctx)

	logging.Info().
		Dur("interval", c.interval).
		Msg("Update coordinator started")
}

// Stop halts the polling loop and waits for any in-flight cycle to finish.
// Safe to call multiple times.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopChan)
	c.mu.Unlock()

	c.wg.Wait()
	logging.Info().Msg("Update coordinator stopped")
}

// Serve runs the coordinator under a supervision tree, blocking until ctx is
// cancelled.
func (c *Coordinator) Serve(ctx context.Context) error {
	c.Start(ctx)
	<-ctx.Done()
	c.Stop()
	return ctx.Err()
}

func (c *Coordinator) loop(ctx context.Context) {
	defer c.wg.Done()

	c.refresh(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

// RefreshNow runs (or joins) a refresh cycle and returns its result. Used at
// startup to validate credentials before the daemon goes resident.
func (c *Coordinator) RefreshNow(ctx context.Context) (*models.Snapshot, error) {
	return c.refresh(ctx)
}

// RequestRefresh runs (or joins) a refresh cycle on demand, subject to the
// manual rate limiter.
func (c *Coordinator) RequestRefresh(ctx context.Context) (*models.Snapshot, error) {
	c.mu.RLock()
	running := c.running
	c.mu.RUnlock()
	if !running {
		return nil, ErrNotRunning
	}
	if !c.limiter.Allow() {
		return nil, ErrRateLimited
	}
	return c.refresh(ctx)
}

// refresh coalesces concurrent callers onto one fetch cycle.
func (c *Coordinator) refresh(ctx context.Context) (*models.Snapshot, error) {
	c.flightMu.Lock()
	if c.inFlight {
		ch := make(chan flightResult, 1)
		c.waiters = append(c.waiters, ch)
		c.flightMu.Unlock()

		metrics.SingleFlightJoined.Inc()
		select {
		case res := <-ch:
			return res.snap, res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.inFlight = true
	c.flightMu.Unlock()

	snap, err := c.runCycle(ctx)

	c.flightMu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.inFlight = false
	c.flightMu.Unlock()

	for _, ch := range waiters {
		ch <- flightResult{snap: snap, err: err}
	}
	return snap, err
}

// runCycle performs one fetch, publishes the outcome, and notifies listeners.
func (c *Coordinator) runCycle(ctx context.Context) (*models.Snapshot, error) {
	cycleID := uuid.New().String()
	start := time.Now()

	logging.Debug().
		Str("cycle_id", cycleID).
		Msg("Refresh cycle starting")

	snap, err := c.fetcher.FetchDevices(ctx)
	elapsed := time.Since(start)

	published := c.publish(snap, err)
	c.observeCycle(cycleID, published, err, elapsed)
	c.notify(published, err)

	return published, err
}

// publish atomically installs the cycle outcome and returns the snapshot now
// visible to readers. On failure the previous snapshot survives, re-flagged
// offline, so consumers keep the last known device data.
func (c *Coordinator) publish(snap *models.Snapshot, err error) *models.Snapshot {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	c.cycles++
	c.lastAttempt = time.Now()
	c.lastError = err

	if err == nil {
		c.snapshot = snap
		c.state = StateHealthy
		c.lastSuccess = snap.FetchedAt
		c.consecutiveFailures = 0
		return snap
	}

	c.consecutiveFailures++
	c.state = classify(err)

	if c.snapshot != nil && c.snapshot.Status != models.StatusOffline {
		stale := *c.snapshot
		stale.Status = models.StatusOffline
		c.snapshot = &stale
	}
	return c.snapshot
}

func classify(err error) State {
	var permErr *marstek.PermissionRevokedError
	if errors.As(err, &permErr) {
		return StatePermissionRevoked
	}
	var authErr *marstek.AuthError
	if errors.As(err, &authErr) {
		return StateAuthFailed
	}
	return StateDegraded
}

func (c *Coordinator) observeCycle(cycleID string, snap *models.Snapshot, err error, elapsed time.Duration) {
	if err == nil {
		metrics.RecordCycle("success", elapsed)
		metrics.ConnectionOnline.Set(1)
		metrics.ConsecutiveFailures.Set(0)
		metrics.SnapshotDevices.Set(float64(snap.DeviceCount()))
		metrics.SnapshotAge.Set(0)

		logging.Info().
			Str("cycle_id", cycleID).
			Int("devices", snap.DeviceCount()).
			Dur("elapsed", elapsed).
			Msg("Refresh cycle succeeded")
		return
	}

	state := classify(err)
	metrics.RecordCycle(string(state), elapsed)
	metrics.ConnectionOnline.Set(0)

	c.stateMu.RLock()
	failures := c.consecutiveFailures
	c.stateMu.RUnlock()
	metrics.ConsecutiveFailures.Set(float64(failures))

	logging.Warn().
		Str("cycle_id", cycleID).
		Str("state", string(state)).
		Int("consecutive_failures", failures).
		Dur("elapsed", elapsed).
		Str("error", logging.SanitizeError(err.Error())).
		Msg("Refresh cycle failed")
}

func (c *Coordinator) notify(snap *models.Snapshot, err error) {
	c.listenerMu.RLock()
	defer c.listenerMu.RUnlock()
	for _, fn := range c.listeners {
		fn(snap, err)
	}
}

// Subscribe registers a listener for completed cycles and returns an
// unsubscribe function.
func (c *Coordinator) Subscribe(fn Listener) func() {
	c.listenerMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenerMu.Unlock()

	return func() {
		c.listenerMu.Lock()
		delete(c.listeners, id)
		c.listenerMu.Unlock()
	}
}

// Snapshot returns the currently published snapshot, or nil before the first
// successful cycle.
func (c *Coordinator) Snapshot() *models.Snapshot {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.snapshot
}

// Health reports the coordinator's current state.
func (c *Coordinator) Health() Health {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	h := Health{
		State:               c.state,
		LastSuccess:         c.lastSuccess,
		LastAttempt:         c.lastAttempt,
		ConsecutiveFailures: c.consecutiveFailures,
		Cycles:              c.cycles,
	}
	if c.lastError != nil {
		h.LastError = logging.SanitizeError(c.lastError.Error())
	}
	return h
}
