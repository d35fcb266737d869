// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

/*
client.go - Marstek Cloud Session Client

Owns the HTTP transport, the cached session token, and the login exchange.
The client knows nothing about scheduling; the fetcher decides when a login
happens and the coordinator decides when a fetch happens.

The cloud API authenticates with a short-lived opaque token obtained by
posting the MD5 digest of the account password. There is no documented token
lifetime and no refresh endpoint: the token is assumed valid until the
service rejects it.
*/

package marstek

import (
	"context"
	"crypto/md5" //nolint:gosec // the remote protocol requires an MD5 password digest
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/battereye/battereye/internal/config"
	"github.com/battereye/battereye/internal/logging"
	"github.com/battereye/battereye/internal/metrics"
)

// Remote endpoint paths. These are fixed by the vendor and reproduced
// exactly; the host part comes from configuration.
const (
	loginPath   = "/app/Solar/v2_get_device.php"
	devicesPath = "/ems/api/v1/getDeviceList"
)

// SessionClient produces and caches a valid token for the Marstek Cloud API.
//
// The token is the one piece of shared mutable state in the polling engine.
// It is guarded by mu, and every mutation (store on login, clear on
// invalidate) is visible to the next fetch attempt before that attempt
// proceeds.
type SessionClient struct {
	baseURL    string
	email      string
	pwdDigest  string
	timeout    time.Duration
	httpClient *http.Client

	mu    sync.Mutex
	token string
}

// NewSessionClient creates a session client from configuration. The password
// is digested immediately; the clear form is not retained.
func NewSessionClient(cfg *config.MarstekConfig) *SessionClient {
	digest := md5.Sum([]byte(cfg.Password)) //nolint:gosec // wire protocol requirement
	return &SessionClient{
		baseURL:   cfg.BaseURL,
		email:     cfg.Email,
		pwdDigest: hex.EncodeToString(digest[:]),
		timeout:   cfg.Timeout,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Token returns the cached token, or "" when not authenticated.
func (c *SessionClient) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// HasToken reports whether a token is cached.
func (c *SessionClient) HasToken() bool {
	return c.Token() != ""
}

// Invalidate clears the cached token without contacting the remote service.
// Used when the server side has independently signaled the token as dead.
func (c *SessionClient) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		c.token = ""
		metrics.TokenInvalidations.Inc()
		logging.Debug().Msg("marstek: cached token cleared")
	}
}

// Login performs the login exchange and caches the returned token.
//
// Classification follows the service's observed behavior: HTTP 401 is an
// authentication failure, HTTP 5xx / timeouts / connection errors /
// unparseable bodies are transient, and a syntactically valid response
// without a token field is a failed login, not a null-token success.
func (c *SessionClient) Login(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	loginURL, err := c.loginURL()
	if err != nil {
		return transientf("building login URL: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, http.NoBody)
	if err != nil {
		return transientf("building login request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("transient_failure").Inc()
		return &TransientError{Reason: "login request failed", Err: errors.New(logging.SanitizeError(err.Error()))}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		metrics.LoginsTotal.WithLabelValues("auth_failure").Inc()
		logging.Error().Msg("marstek: login rejected with HTTP 401")
		return &AuthError{Reason: "invalid email or password"}
	case resp.StatusCode >= http.StatusInternalServerError:
		metrics.LoginsTotal.WithLabelValues("transient_failure").Inc()
		logging.Warn().Int("status", resp.StatusCode).Msg("marstek: login API temporarily unavailable")
		return transientf("login API unavailable (HTTP %d)", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		metrics.LoginsTotal.WithLabelValues("transient_failure").Inc()
		logging.Warn().Int("status", resp.StatusCode).Msg("marstek: login returned unexpected status")
		return transientf("login request failed (HTTP %d)", resp.StatusCode)
	}

	payload, err := decodeEnvelope(resp.Body)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("transient_failure").Inc()
		logging.Warn().Err(err).Msg("marstek: login returned invalid JSON")
		return &TransientError{Reason: "login returned invalid response", Err: err}
	}

	token := stringValue(payload["token"])
	if token == "" {
		msg := errorMessage(payload)
		metrics.LoginsTotal.WithLabelValues("transient_failure").Inc()
		logging.Warn().Str("code", normalizeCode(payload["code"])).Str("msg", msg).Msg("marstek: login failed")
		return transientf("login failed: %s", msg)
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	metrics.LoginsTotal.WithLabelValues("success").Inc()
	logging.Info().Str("token", logging.SanitizeToken(token)).Msg("marstek: obtained new API token")
	return nil
}

// fetchDeviceList issues the raw device-list call with the given token and
// returns the decoded envelope. HTTP-level classification happens here;
// application code classification is the fetcher's job.
func (c *SessionClient) fetchDeviceList(ctx context.Context, token string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	devURL, err := c.devicesURL(token)
	if err != nil {
		return nil, transientf("building device list URL: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, devURL, http.NoBody)
	if err != nil {
		return nil, transientf("building device list request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Reason: "device list request failed", Err: errors.New(logging.SanitizeError(err.Error()))}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		logging.Warn().Int("status", resp.StatusCode).Msg("marstek: device API temporarily unavailable")
		return nil, transientf("device API unavailable (HTTP %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		// Non-200 below 500: the service wraps errors in a 200-shaped JSON
		// body more often than not, so decode and let the application code
		// decide the classification.
		logging.Warn().Int("status", resp.StatusCode).Msg("marstek: device list returned unexpected status")
	}

	payload, err := decodeEnvelope(resp.Body)
	if err != nil {
		logging.Warn().Err(err).Msg("marstek: device list returned invalid JSON")
		return nil, &TransientError{Reason: "device list returned invalid response", Err: err}
	}

	return payload, nil
}

// loginURL builds the login endpoint URL with credentials as query
// parameters, as the wire protocol requires.
func (c *SessionClient) loginURL() (string, error) {
	u, err := url.Parse(c.baseURL + loginPath)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("pwd", c.pwdDigest)
	q.Set("mailbox", c.email)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// devicesURL builds the device-list endpoint URL.
func (c *SessionClient) devicesURL(token string) (string, error) {
	u, err := url.Parse(c.baseURL + devicesPath)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

