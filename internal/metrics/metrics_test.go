// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCycle(t *testing.T) {
	before := testutil.ToFloat64(PollCyclesTotal.WithLabelValues("success"))

	RecordCycle("success", 250*time.Millisecond)

	after := testutil.ToFloat64(PollCyclesTotal.WithLabelValues("success"))
	if after != before+1 {
		t.Errorf("success counter = %v, want %v", after, before+1)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/devices", "200"))

	RecordAPIRequest("GET", "/api/v1/devices", 200, 5*time.Millisecond)

	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/devices", "200"))
	if after != before+1 {
		t.Errorf("request counter = %v, want %v", after, before+1)
	}
}

func TestGauges(t *testing.T) {
	SnapshotDevices.Set(3)
	if got := testutil.ToFloat64(SnapshotDevices); got != 3 {
		t.Errorf("SnapshotDevices = %v, want 3", got)
	}

	ConnectionOnline.Set(1)
	if got := testutil.ToFloat64(ConnectionOnline); got != 1 {
		t.Errorf("ConnectionOnline = %v, want 1", got)
	}

	ConsecutiveFailures.Set(4)
	if got := testutil.ToFloat64(ConsecutiveFailures); got != 4 {
		t.Errorf("ConsecutiveFailures = %v, want 4", got)
	}
}
