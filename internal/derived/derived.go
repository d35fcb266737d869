// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

// Package derived computes values the cloud API does not report directly.
// All functions are pure: they read a snapshot or device record and return a
// number, treating missing metrics as zero.
package derived

import (
	"github.com/battereye/battereye/internal/config"
	"github.com/battereye/battereye/internal/models"
)

// Metric keys as reported by the cloud device list.
const (
	keySOC       = "soc"
	keyCharge    = "charge"
	keyDischarge = "discharge"
	keyPV        = "pv"
	keyLoad      = "load"
)

// ChargePower returns the net power flowing into the battery in watts, zero
// when the battery is discharging.
func ChargePower(dev *models.DeviceRecord) float64 {
	net := dev.Float(keyPV, 0) - dev.Float(keyDischarge, 0)
	if net < 0 {
		return 0
	}
	return net
}

// DischargePower returns the net power flowing out of the battery in watts,
// zero when the battery is charging.
func DischargePower(dev *models.DeviceRecord) float64 {
	net := dev.Float(keyDischarge, 0) - dev.Float(keyPV, 0)
	if net < 0 {
		return 0
	}
	return net
}

// NetPower returns the signed battery power in watts: positive while
// charging, negative while discharging.
func NetPower(dev *models.DeviceRecord) float64 {
	return dev.Float(keyCharge, 0) - dev.Float(keyDischarge, 0)
}

// StoredEnergy returns the energy currently held by the device in kWh, using
// the configured capacity for the device.
func StoredEnergy(dev *models.DeviceRecord, cfg *config.MarstekConfig) float64 {
	soc := dev.Float(keySOC, 0)
	return soc / 100 * cfg.CapacityFor(dev.DeviceID)
}

// SumMetric adds a raw metric across every device in the snapshot. The count
// reports how many devices actually carried the metric, so callers can tell
// "all zeros" from "nobody reported".
func SumMetric(snap *models.Snapshot, key string) (sum float64, count int) {
	if snap == nil {
		return 0, 0
	}
	for i := range snap.Devices {
		if _, ok := snap.Devices[i].Metrics[key]; !ok {
			continue
		}
		sum += snap.Devices[i].Float(key, 0)
		count++
	}
	return sum, count
}

// TotalPower returns the signed battery power across the fleet in watts.
func TotalPower(snap *models.Snapshot) float64 {
	if snap == nil {
		return 0
	}
	var total float64
	for i := range snap.Devices {
		total += NetPower(&snap.Devices[i])
	}
	return total
}

// TotalStoredEnergy returns the fleet-wide stored energy in kWh.
func TotalStoredEnergy(snap *models.Snapshot, cfg *config.MarstekConfig) float64 {
	if snap == nil {
		return 0
	}
	var total float64
	for i := range snap.Devices {
		total += StoredEnergy(&snap.Devices[i], cfg)
	}
	return total
}

// Summary bundles the fleet-wide aggregates for the API and MQTT payloads.
type Summary struct {
	Devices           int     `json:"devices"`
	TotalPowerW       float64 `json:"total_power_w"`
	TotalStoredKWh    float64 `json:"total_stored_kwh"`
	TotalPVW          float64 `json:"total_pv_w"`
	TotalLoadW        float64 `json:"total_load_w"`
	TotalChargeW      float64 `json:"total_charge_w"`
	TotalDischargeW   float64 `json:"total_discharge_w"`
	ReportingSOCCount int     `json:"reporting_soc_count"`
	AverageSOC        float64 `json:"average_soc"`
}

// Summarize computes all fleet aggregates for one snapshot.
func Summarize(snap *models.Snapshot, cfg *config.MarstekConfig) Summary {
	s := Summary{
		Devices:        snap.DeviceCount(),
		TotalPowerW:    TotalPower(snap),
		TotalStoredKWh: TotalStoredEnergy(snap, cfg),
	}
	s.TotalPVW, _ = SumMetric(snap, keyPV)
	s.TotalLoadW, _ = SumMetric(snap, keyLoad)
	s.TotalChargeW, _ = SumMetric(snap, keyCharge)
	s.TotalDischargeW, _ = SumMetric(snap, keyDischarge)

	socSum, socCount := SumMetric(snap, keySOC)
	s.ReportingSOCCount = socCount
	if socCount > 0 {
		s.AverageSOC = socSum / float64(socCount)
	}
	return s
}
