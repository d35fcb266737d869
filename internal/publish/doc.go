// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

// Package publish mirrors device snapshots to external consumers. The only
// transport today is MQTT with retained messages, suitable for Home
// Assistant and similar dashboards.
package publish
