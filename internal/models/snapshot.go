// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

package models

import "time"

// Status describes the connection state recorded with a snapshot.
type Status string

// Connection states. Offline never discards device data; it marks the
// retained snapshot as stale.
const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Snapshot is the atomic unit published once per successful poll cycle.
// Consumers always observe a whole snapshot: the coordinator swaps the
// current pointer in one step and never mutates a published snapshot.
//
// Device order is the remote response order and carries no meaning.
type Snapshot struct {
	Devices   []DeviceRecord `json:"devices"`
	FetchedAt time.Time      `json:"fetched_at"`
	Latency   time.Duration  `json:"latency"`
	Status    Status         `json:"status"`
}

// Device returns the record with the given device ID, or ok=false when the
// snapshot has no such device.
func (s *Snapshot) Device(deviceID string) (DeviceRecord, bool) {
	if s == nil {
		return DeviceRecord{}, false
	}
	for i := range s.Devices {
		if s.Devices[i].DeviceID == deviceID {
			return s.Devices[i], true
		}
	}
	return DeviceRecord{}, false
}

// DeviceCount returns the number of devices, tolerating a nil snapshot.
func (s *Snapshot) DeviceCount() int {
	if s == nil {
		return 0
	}
	return len(s.Devices)
}
