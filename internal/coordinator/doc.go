// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

// Package coordinator schedules device fetch cycles and publishes the
// resulting snapshots to the rest of the daemon.
//
// One coordinator owns one account's polling cadence. Scheduled cycles run on
// a fixed ticker; manual refreshes (HTTP API, startup validation) coalesce
// onto any cycle already in flight so the cloud API never sees duplicated
// request bursts. Snapshot publication is atomic: readers get the previous
// complete snapshot until the new one is fully installed.
//
// A failed cycle never discards data. The last good snapshot stays published
// with its status flipped to offline, and the coordinator's health report
// carries the failure classification so operators can tell a cloud outage
// from revoked credentials.
package coordinator
