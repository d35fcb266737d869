// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

package publish

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/battereye/battereye/internal/config"
	"github.com/battereye/battereye/internal/marstek"
	"github.com/battereye/battereye/internal/models"
)

func testBuilder() *payloadBuilder {
	return newPayloadBuilder(&config.MarstekConfig{
		DefaultCapacityKWh: 5.12,
	}, "battereye")
}

func onlineSnap() *models.Snapshot {
	return &models.Snapshot{
		FetchedAt: time.Now(),
		Status:    models.StatusOnline,
		Devices: []models.DeviceRecord{
			{
				DeviceID:   "dev-1",
				DeviceType: "HMG-50",
				Name:       "Garage",
				Metrics:    map[string]any{"soc": 50.0, "pv": 400.0, "discharge": 0.0},
			},
			{
				DeviceID:   "dev-2",
				DeviceType: "HMG-50",
				Name:       "Shed",
				Metrics:    map[string]any{"soc": 80.0},
			},
		},
	}
}

func TestBuildSuccessfulCycle(t *testing.T) {
	msgs := testBuilder().build(onlineSnap(), nil)

	// availability + summary + one per device
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}

	topics := map[string]message{}
	for _, m := range msgs {
		topics[m.topic] = m
	}

	avail, ok := topics["battereye/availability"]
	if !ok || string(avail.body) != "online" {
		t.Errorf("expected online availability, got %+v", avail)
	}
	if _, ok := topics["battereye/summary"]; !ok {
		t.Error("expected summary topic")
	}

	devMsg, ok := topics["battereye/device/dev-1"]
	if !ok {
		t.Fatal("expected device topic for dev-1")
	}
	var payload map[string]any
	if err := json.Unmarshal(devMsg.body, &payload); err != nil {
		t.Fatalf("device payload not valid JSON: %v", err)
	}
	if payload["name"] != "Garage" {
		t.Errorf("expected Garage, got %v", payload["name"])
	}
	if got := payload["charge_power_w"].(float64); got != 400 {
		t.Errorf("charge_power_w: expected 400, got %v", got)
	}
	if got := payload["stored_kwh"].(float64); got != 2.56 {
		t.Errorf("stored_kwh: expected 2.56, got %v", got)
	}
}

func TestBuildFailedCyclePublishesOnlyAvailability(t *testing.T) {
	stale := onlineSnap()
	stale.Status = models.StatusOffline

	msgs := testBuilder().build(stale, &marstek.TransientError{Reason: "cloud unreachable"})
	if len(msgs) != 1 {
		t.Fatalf("expected only availability on failure, got %d messages", len(msgs))
	}
	if msgs[0].topic != "battereye/availability" || string(msgs[0].body) != "offline" {
		t.Errorf("expected offline availability, got %s=%s", msgs[0].topic, msgs[0].body)
	}
}

func TestBuildNilSnapshot(t *testing.T) {
	msgs := testBuilder().build(nil, &marstek.AuthError{Reason: "login failed"})
	if len(msgs) != 1 || string(msgs[0].body) != "offline" {
		t.Fatalf("expected single offline availability message, got %+v", msgs)
	}
}

func TestSummaryPayloadShape(t *testing.T) {
	msgs := testBuilder().build(onlineSnap(), nil)

	var summaryBody []byte
	for _, m := range msgs {
		if m.topic == "battereye/summary" {
			summaryBody = m.body
		}
	}
	var payload struct {
		FetchedAt string `json:"fetched_at"`
		Summary   struct {
			Devices    int     `json:"devices"`
			AverageSOC float64 `json:"average_soc"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(summaryBody, &payload); err != nil {
		t.Fatalf("summary payload not valid JSON: %v", err)
	}
	if payload.Summary.Devices != 2 {
		t.Errorf("expected 2 devices, got %d", payload.Summary.Devices)
	}
	if payload.Summary.AverageSOC != 65 {
		t.Errorf("expected average soc 65, got %v", payload.Summary.AverageSOC)
	}
	if _, err := time.Parse(time.RFC3339, payload.FetchedAt); err != nil {
		t.Errorf("fetched_at not RFC3339: %v", err)
	}
}
