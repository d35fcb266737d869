// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

// Package api serves the local HTTP surface: liveness, Prometheus metrics,
// and a small read-only JSON API over the latest device snapshot.
package api
