// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/battereye/battereye/internal/config"
	"github.com/battereye/battereye/internal/marstek"
	"github.com/battereye/battereye/internal/models"
)

// fakeFetcher returns scripted results and counts calls. An optional gate
// channel holds FetchDevices open so tests can pile up concurrent callers.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	results []fetchResult
	gate    chan struct{}
}

type fetchResult struct {
	snap *models.Snapshot
	err  error
}

func (f *fakeFetcher) FetchDevices(_ context.Context) (*models.Snapshot, error) {
	f.mu.Lock()
	f.calls++
	var res fetchResult
	if len(f.results) > 0 {
		res = f.results[0]
		if len(f.results) > 1 {
			f.results = f.results[1:]
		}
	} else {
		res = fetchResult{snap: onlineSnapshot(1)}
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return res.snap, res.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func onlineSnapshot(devices int) *models.Snapshot {
	snap := &models.Snapshot{
		FetchedAt: time.Now(),
		Status:    models.StatusOnline,
	}
	for i := 0; i < devices; i++ {
		snap.Devices = append(snap.Devices, models.DeviceRecord{
			DeviceID:   string(rune('a' + i)),
			DeviceType: "HMG-50",
			Metrics:    map[string]any{"soc": 50.0},
		})
	}
	return snap
}

func testConfig() *config.MarstekConfig {
	return &config.MarstekConfig{
		Email:        "user@example.com",
		Password:     "secret",
		BaseURL:      "https://eu.hamedata.com",
		PollInterval: 60,
		Timeout:      time.Second,
	}
}

func TestRefreshPublishesSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{results: []fetchResult{{snap: onlineSnapshot(2)}}}
	c := New(fetcher, testConfig())

	if c.Snapshot() != nil {
		t.Fatal("expected nil snapshot before first cycle")
	}
	if got := c.Health().State; got != StateStarting {
		t.Fatalf("expected starting state, got %s", got)
	}

	snap, err := c.RefreshNow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.DeviceCount() != 2 {
		t.Errorf("expected 2 devices, got %d", snap.DeviceCount())
	}
	if c.Snapshot() != snap {
		t.Error("expected published snapshot to match returned snapshot")
	}

	h := c.Health()
	if h.State != StateHealthy {
		t.Errorf("expected healthy state, got %s", h.State)
	}
	if h.Cycles != 1 {
		t.Errorf("expected 1 cycle, got %d", h.Cycles)
	}
	if h.ConsecutiveFailures != 0 {
		t.Errorf("expected 0 consecutive failures, got %d", h.ConsecutiveFailures)
	}
}

func TestTransientFailureKeepsPriorSnapshotOffline(t *testing.T) {
	fetcher := &fakeFetcher{results: []fetchResult{
		{snap: onlineSnapshot(2)},
		{err: &marstek.TransientError{Reason: "cloud unreachable"}},
	}}
	c := New(fetcher, testConfig())

	_, err := c.RefreshNow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap, err := c.RefreshNow(context.Background())
	if err == nil {
		t.Fatal("expected transient failure")
	}

	// Device data from the last good cycle survives, flagged offline.
	if snap == nil || snap.DeviceCount() != 2 {
		t.Fatalf("expected prior snapshot retained, got %+v", snap)
	}
	if snap.Status != models.StatusOffline {
		t.Errorf("expected offline status, got %s", snap.Status)
	}

	h := c.Health()
	if h.State != StateDegraded {
		t.Errorf("expected degraded state, got %s", h.State)
	}
	if h.ConsecutiveFailures != 1 {
		t.Errorf("expected 1 consecutive failure, got %d", h.ConsecutiveFailures)
	}
}

func TestAuthFailureState(t *testing.T) {
	fetcher := &fakeFetcher{results: []fetchResult{
		{err: &marstek.AuthError{Reason: "fresh token rejected"}},
	}}
	c := New(fetcher, testConfig())

	_, err := c.RefreshNow(context.Background())
	if err == nil {
		t.Fatal("expected auth failure")
	}
	if got := c.Health().State; got != StateAuthFailed {
		t.Errorf("expected auth_failed state, got %s", got)
	}
	if c.Snapshot() != nil {
		t.Error("expected no snapshot when no cycle ever succeeded")
	}
}

func TestPermissionRevokedState(t *testing.T) {
	fetcher := &fakeFetcher{results: []fetchResult{
		{err: &marstek.PermissionRevokedError{Reason: "code 8"}},
	}}
	c := New(fetcher, testConfig())

	_, _ = c.RefreshNow(context.Background())
	if got := c.Health().State; got != StatePermissionRevoked {
		t.Errorf("expected permission_revoked state, got %s", got)
	}
}

func TestRecoveryResetsFailures(t *testing.T) {
	fetcher := &fakeFetcher{results: []fetchResult{
		{err: &marstek.TransientError{Reason: "blip"}},
		{err: &marstek.TransientError{Reason: "blip"}},
		{snap: onlineSnapshot(1)},
	}}
	c := New(fetcher, testConfig())

	_, _ = c.RefreshNow(context.Background())
	_, _ = c.RefreshNow(context.Background())
	if got := c.Health().ConsecutiveFailures; got != 2 {
		t.Fatalf("expected 2 consecutive failures, got %d", got)
	}

	snap, err := c.RefreshNow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != models.StatusOnline {
		t.Errorf("expected online snapshot after recovery, got %s", snap.Status)
	}
	h := c.Health()
	if h.State != StateHealthy || h.ConsecutiveFailures != 0 {
		t.Errorf("expected healthy/0 after recovery, got %s/%d", h.State, h.ConsecutiveFailures)
	}
}

func TestConcurrentRefreshesCoalesce(t *testing.T) {
	gate := make(chan struct{})
	fetcher := &fakeFetcher{gate: gate}
	c := New(fetcher, testConfig())

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*models.Snapshot, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := c.RefreshNow(context.Background())
			if err != nil {
				t.Errorf("caller %d: unexpected error: %v", i, err)
			}
			results[i] = snap
		}(i)
	}

	// Release the fetch only once every other caller has joined the
	// in-flight cycle, so none can race into a second fetch.
	waitFor(t, func() bool {
		c.flightMu.Lock()
		joined := len(c.waiters)
		c.flightMu.Unlock()
		return fetcher.callCount() == 1 && joined == callers-1
	})
	close(gate)
	wg.Wait()

	if got := fetcher.callCount(); got != 1 {
		t.Errorf("expected exactly 1 fetch for %d concurrent callers, got %d", callers, got)
	}
	for i := 1; i < callers; i++ {
		if results[i] != results[0] {
			t.Errorf("caller %d got a different snapshot than caller 0", i)
		}
	}
}

func TestJoiningCallerHonorsContext(t *testing.T) {
	gate := make(chan struct{})
	fetcher := &fakeFetcher{gate: gate}
	c := New(fetcher, testConfig())

	done := make(chan struct{})
	go func() {
		_, _ = c.RefreshNow(context.Background())
		close(done)
	}()
	waitFor(t, func() bool { return fetcher.callCount() == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.RefreshNow(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled for joining caller, got %v", err)
	}

	close(gate)
	<-done
}

func TestRequestRefreshRateLimited(t *testing.T) {
	fetcher := &fakeFetcher{}
	c := New(fetcher, testConfig())
	c.Start(context.Background())
	defer c.Stop()

	// Burst of 2 allowed, then the limiter kicks in.
	sawLimit := false
	for i := 0; i < 5; i++ {
		_, err := c.RequestRefresh(context.Background())
		if errors.Is(err, ErrRateLimited) {
			sawLimit = true
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if !sawLimit {
		t.Error("expected manual refreshes to hit the rate limiter")
	}
}

func TestRequestRefreshNotRunning(t *testing.T) {
	c := New(&fakeFetcher{}, testConfig())
	if _, err := c.RequestRefresh(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestListenersFireOncePerCycle(t *testing.T) {
	fetcher := &fakeFetcher{results: []fetchResult{
		{snap: onlineSnapshot(1)},
		{err: &marstek.TransientError{Reason: "blip"}},
	}}
	c := New(fetcher, testConfig())

	var fired atomic.Int64
	var lastErr error
	var mu sync.Mutex
	unsubscribe := c.Subscribe(func(_ *models.Snapshot, err error) {
		fired.Add(1)
		mu.Lock()
		lastErr = err
		mu.Unlock()
	})

	_, _ = c.RefreshNow(context.Background())
	_, _ = c.RefreshNow(context.Background())
	if got := fired.Load(); got != 2 {
		t.Errorf("expected listener fired twice, got %d", got)
	}
	mu.Lock()
	if lastErr == nil {
		t.Error("expected listener to observe the failed cycle")
	}
	mu.Unlock()

	unsubscribe()
	_, _ = c.RefreshNow(context.Background())
	if got := fired.Load(); got != 2 {
		t.Errorf("expected no notifications after unsubscribe, got %d", got)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{}
	c := New(fetcher, testConfig())

	c.Start(context.Background())
	c.Start(context.Background())
	waitFor(t, func() bool { return fetcher.callCount() >= 1 })

	c.Stop()
	c.Stop()

	// Only the immediate startup cycle ran: the 60s ticker never fired.
	if got := fetcher.callCount(); got != 1 {
		t.Errorf("expected exactly 1 startup cycle, got %d", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
