// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

package marstek

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/battereye/battereye/internal/config"
)

// fakeCloud is a scriptable Marstek Cloud stand-in. Handlers run under mu so
// call counters are race-free even with concurrent fetches.
type fakeCloud struct {
	t *testing.T

	mu          sync.Mutex
	loginCalls  int
	deviceCalls int

	// loginResponses and deviceResponses are consumed in order; the last
	// entry repeats once the queue is exhausted.
	loginResponses  []response
	deviceResponses []response

	server *httptest.Server
}

type response struct {
	status int
	body   string
	delay  time.Duration
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()
	fc := &fakeCloud{t: t}

	mux := http.NewServeMux()
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		fc.mu.Lock()
		fc.loginCalls++
		resp := takeResponse(&fc.loginResponses)
		fc.mu.Unlock()
		writeResponse(w, resp)
	})
	mux.HandleFunc(devicesPath, func(w http.ResponseWriter, r *http.Request) {
		fc.mu.Lock()
		fc.deviceCalls++
		resp := takeResponse(&fc.deviceResponses)
		fc.mu.Unlock()
		writeResponse(w, resp)
	})

	fc.server = httptest.NewServer(mux)
	t.Cleanup(fc.server.Close)
	return fc
}

// takeResponse pops the next scripted response, keeping the last one.
func takeResponse(queue *[]response) response {
	if len(*queue) == 0 {
		return response{status: http.StatusOK, body: `{"code":"0","list":[]}`}
	}
	resp := (*queue)[0]
	if len(*queue) > 1 {
		*queue = (*queue)[1:]
	}
	return resp
}

func writeResponse(w http.ResponseWriter, resp response) {
	if resp.delay > 0 {
		time.Sleep(resp.delay)
	}
	w.Header().Set("Content-Type", "application/json")
	status := resp.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(resp.body))
}

func (fc *fakeCloud) counts() (logins, devices int) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.loginCalls, fc.deviceCalls
}

// testMarstekConfig returns a config pointed at the fake cloud.
func testMarstekConfig(serverURL string) *config.MarstekConfig {
	return &config.MarstekConfig{
		Email:              "user@example.com",
		Password:           "hunter2",
		BaseURL:            serverURL,
		PollInterval:       60,
		Timeout:            2 * time.Second,
		IgnoreDeviceTypes:  []string{"HME-3"},
		DefaultCapacityKWh: 5.12,
	}
}

func newTestClient(fc *fakeCloud) *SessionClient {
	return NewSessionClient(testMarstekConfig(fc.server.URL))
}

func newTestFetcher(fc *fakeCloud) (*Fetcher, *SessionClient) {
	cfg := testMarstekConfig(fc.server.URL)
	client := NewSessionClient(cfg)
	return NewFetcher(client, cfg), client
}

// checkNoError fails the test on an unexpected error.
func checkNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// checkAuthError asserts err classifies as AuthError.
func checkAuthError(t *testing.T, err error) {
	t.Helper()
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %T: %v", err, err)
	}
}

// checkTransientError asserts err classifies as TransientError.
func checkTransientError(t *testing.T, err error) {
	t.Helper()
	var transientErr *TransientError
	if !errors.As(err, &transientErr) {
		t.Fatalf("expected TransientError, got %T: %v", err, err)
	}
}

// checkPermissionRevoked asserts err classifies as PermissionRevokedError.
func checkPermissionRevoked(t *testing.T, err error) {
	t.Helper()
	var permErr *PermissionRevokedError
	if !errors.As(err, &permErr) {
		t.Fatalf("expected PermissionRevokedError, got %T: %v", err, err)
	}
}

// checkIntEqual checks that got equals want.
func checkIntEqual(t *testing.T, fieldName string, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("%s: expected %d, got %d", fieldName, want, got)
	}
}

// checkStringEqual checks that got equals want.
func checkStringEqual(t *testing.T, fieldName, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: expected %q, got %q", fieldName, want, got)
	}
}
