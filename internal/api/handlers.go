// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/battereye/battereye/internal/coordinator"
	"github.com/battereye/battereye/internal/derived"
	"github.com/battereye/battereye/internal/logging"
	"github.com/battereye/battereye/internal/models"
)

// devicePayload is one device as served by the API: the raw cloud metrics
// plus the derived battery values.
type devicePayload struct {
	DeviceID        string         `json:"device_id"`
	DeviceType      string         `json:"device_type"`
	Name            string         `json:"name"`
	SerialNum       string         `json:"serial_num,omitempty"`
	Metrics         map[string]any `json:"metrics"`
	ChargePowerW    float64        `json:"charge_power_w"`
	DischargePowerW float64        `json:"discharge_power_w"`
	StoredKWh       float64        `json:"stored_kwh"`
	CapacityKWh     float64        `json:"capacity_kwh"`
	ReportTime      *time.Time     `json:"report_time,omitempty"`
}

type errorPayload struct {
	Error string `json:"error"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	h := s.coord.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  h.State,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"health": s.coord.Health(),
	}
	if snap := s.coord.Snapshot(); snap != nil {
		resp["fetched_at"] = snap.FetchedAt
		resp["latency_ms"] = snap.Latency.Milliseconds()
		resp["devices"] = snap.DeviceCount()
		resp["snapshot_status"] = snap.Status
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	snap := s.coord.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot available yet")
		return
	}

	devices := make([]devicePayload, 0, len(snap.Devices))
	for i := range snap.Devices {
		devices = append(devices, s.devicePayload(&snap.Devices[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fetched_at": snap.FetchedAt,
		"status":     snap.Status,
		"devices":    devices,
	})
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	snap := s.coord.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot available yet")
		return
	}

	deviceID := chi.URLParam(r, "deviceID")
	dev, ok := snap.Device(deviceID)
	if !ok {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, s.devicePayload(&dev))
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	snap := s.coord.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot available yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fetched_at": snap.FetchedAt,
		"status":     snap.Status,
		"summary":    derived.Summarize(snap, &s.cfg.Marstek),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.coord.RequestRefresh(r.Context())
	switch {
	case errors.Is(err, coordinator.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "refresh rate limit exceeded")
		return
	case errors.Is(err, coordinator.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, "coordinator not running")
		return
	case err != nil:
		// The cycle ran and failed; the coordinator already published the
		// degraded state. Surface the classification, not the raw error.
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": logging.SanitizeError(err.Error()),
			"state": s.coord.Health().State,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"fetched_at": snap.FetchedAt,
		"devices":    snap.DeviceCount(),
		"status":     snap.Status,
	})
}

func (s *Server) devicePayload(dev *models.DeviceRecord) devicePayload {
	p := devicePayload{
		DeviceID:        dev.DeviceID,
		DeviceType:      dev.DeviceType,
		Name:            dev.Name,
		SerialNum:       dev.SerialNum,
		Metrics:         dev.Metrics,
		ChargePowerW:    derived.ChargePower(dev),
		DischargePowerW: derived.DischargePower(dev),
		StoredKWh:       derived.StoredEnergy(dev, &s.cfg.Marstek),
		CapacityKWh:     s.cfg.Marstek.CapacityFor(dev.DeviceID),
	}
	if ts, ok := dev.Time("report_time"); ok {
		p.ReportTime = &ts
	}
	return p
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error().Err(err).Msg("Failed to encode API response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorPayload{Error: msg})
}
