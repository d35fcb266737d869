// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

// Package supervisor wires the daemon's services into a suture supervision
// tree with layered failure isolation.
package supervisor
