// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

/*
fetcher.go - Device-List Fetcher

Turns one poll attempt into a classified outcome: a complete snapshot on
success, or a typed error (auth / permission-revoked / transient) the
coordinator maps onto its state machine.

Token-expiry handling is a session-level event, not per-device: at most one
re-login plus one retry of the device call happens per cycle, no matter what
the response contains. Application code "8" (no access permission) is the
exception — the token is cleared but no retry happens this cycle, which rate
limits repeated failed permission checks to one per interval.
*/

package marstek

import (
	"context"
	"time"

	"github.com/battereye/battereye/internal/config"
	"github.com/battereye/battereye/internal/logging"
	"github.com/battereye/battereye/internal/models"
)

// Application codes with fixed meanings. Any other non-zero code is treated
// as token expiry and triggers the single re-login retry; whether some of
// those codes are permanent is not documented by the vendor.
const (
	codeSuccess          = "0"
	codePermissionDenied = "8"
)

// Fetcher issues authenticated device-list calls and classifies the result.
type Fetcher struct {
	client      *SessionClient
	ignoreTypes []string
}

// NewFetcher creates a fetcher bound to a session client.
func NewFetcher(client *SessionClient, cfg *config.MarstekConfig) *Fetcher {
	return &Fetcher{
		client:      client,
		ignoreTypes: append([]string(nil), cfg.IgnoreDeviceTypes...),
	}
}

// FetchDevices performs one poll attempt and returns a complete snapshot or
// a classified error.
//
// Sequence:
//  1. Login if no token is cached; login failures propagate directly.
//  2. Fetch the device list with the current token.
//  3. Classify the application code. An expiry-class code invalidates the
//     token and triggers exactly one re-login plus one retry; "8" invalidates
//     without retrying; anything else unknown is transient.
//  4. Filter ignored device types before the snapshot is built, so
//     consumers never see them even transiently.
func (f *Fetcher) FetchDevices(ctx context.Context) (*models.Snapshot, error) {
	start := time.Now()

	if !f.client.HasToken() {
		if err := f.client.Login(ctx); err != nil {
			return nil, err
		}
	}

	payload, err := f.client.fetchDeviceList(ctx, f.client.Token())
	if err != nil {
		return nil, err
	}

	code := normalizeCode(payload["code"])
	switch code {
	case codeSuccess:
		// fall through to snapshot construction
	case codePermissionDenied:
		f.client.Invalidate()
		logging.Warn().Msg("marstek: no API access permission (code 8), token cleared until next cycle")
		return nil, &PermissionRevokedError{Reason: errorMessage(payload)}
	default:
		payload, err = f.refreshAndRetry(ctx, code)
		if err != nil {
			return nil, err
		}
	}

	devices, err := deviceListPayload(payload)
	if err != nil {
		return nil, err
	}

	filtered := f.filterDevices(devices)
	snapshot := &models.Snapshot{
		Devices:   filtered,
		FetchedAt: time.Now(),
		Latency:   time.Since(start),
		Status:    models.StatusOnline,
	}

	logging.Debug().
		Int("devices", len(filtered)).
		Int("dropped", len(devices)-len(filtered)).
		Dur("latency", snapshot.Latency).
		Msg("marstek: device list fetched")

	return snapshot, nil
}

// refreshAndRetry handles an expiry-class application code: invalidate the
// token, log in once, retry the device call once. Re-login failures
// propagate with their own classification, exactly like the initial login;
// once a fresh token exists, a failing retry surfaces as an auth failure —
// the token could not be refreshed into a working session, so user action
// is required. Never more than one retry per cycle.
func (f *Fetcher) refreshAndRetry(ctx context.Context, staleCode string) (map[string]any, error) {
	logging.Warn().Str("code", staleCode).Msg("marstek: token rejected, refreshing")
	f.client.Invalidate()

	if err := f.client.Login(ctx); err != nil {
		return nil, err
	}

	payload, err := f.client.fetchDeviceList(ctx, f.client.Token())
	if err != nil {
		return nil, &AuthError{Reason: "device list retry failed: " + logging.SanitizeError(err.Error())}
	}

	retryCode := normalizeCode(payload["code"])
	switch retryCode {
	case codeSuccess:
		return payload, nil
	case codePermissionDenied:
		f.client.Invalidate()
		return nil, &PermissionRevokedError{Reason: errorMessage(payload)}
	default:
		// The fresh token was rejected too. No further retries this cycle.
		f.client.Invalidate()
		return nil, &AuthError{Reason: "fresh token rejected (code " + retryCode + "): " + errorMessage(payload)}
	}
}

// filterDevices builds device records, dropping ignored device types before
// they can reach the snapshot.
func (f *Fetcher) filterDevices(devices []map[string]any) []models.DeviceRecord {
	records := make([]models.DeviceRecord, 0, len(devices))
	for _, payload := range devices {
		rec := models.DeviceFromPayload(payload)
		if f.ignored(rec.DeviceType) {
			continue
		}
		records = append(records, rec)
	}
	return records
}

// ignored reports whether a device type is in the ignore set.
func (f *Fetcher) ignored(deviceType string) bool {
	for _, t := range f.ignoreTypes {
		if t == deviceType {
			return true
		}
	}
	return false
}
