// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

// Package models defines the value types shared across Battereye: the
// per-cycle device record, the atomic snapshot published by the update
// coordinator, and the defensive field extraction helpers used to read
// loosely-typed Marstek Cloud payloads.
package models

import (
	"strconv"
	"time"
)

// UnknownDeviceID is the sentinel identity used when a device payload is
// missing its "devid" field. Such records stay addressable without making
// field access conditional everywhere.
const UnknownDeviceID = "unknown"

// DeviceRecord is one battery as reported by a single poll cycle. Records
// are immutable once constructed; a new cycle builds new records.
//
// The cloud API reports a sparse, loosely-typed object per device. Fields
// with a stable meaning get typed accessors; everything else lives in
// Metrics and is read through Float/String/Time which tolerate absence and
// wrong types.
type DeviceRecord struct {
	DeviceID   string         `json:"devid"`
	DeviceType string         `json:"type"`
	Name       string         `json:"name"`
	SerialNum  string         `json:"sn"`
	Metrics    map[string]any `json:"metrics"`
}

// DeviceFromPayload builds a DeviceRecord from one decoded device object.
// Every field is optional in the wire format; a missing devid falls back to
// UnknownDeviceID.
func DeviceFromPayload(payload map[string]any) DeviceRecord {
	rec := DeviceRecord{
		DeviceID:   stringField(payload, "devid", UnknownDeviceID),
		DeviceType: stringField(payload, "type", ""),
		Name:       stringField(payload, "name", ""),
		SerialNum:  stringField(payload, "sn", ""),
		Metrics:    make(map[string]any, len(payload)),
	}
	for k, v := range payload {
		rec.Metrics[k] = v
	}
	return rec
}

// Float returns the named metric as a float64, or def when the metric is
// absent or not numeric. Numeric strings are accepted because the cloud API
// has historically switched field types between releases.
func (d DeviceRecord) Float(key string, def float64) float64 {
	v, ok := d.Metrics[key]
	if !ok {
		return def
	}
	return coerceFloat(v, def)
}

// String returns the named metric as a string, or def when absent. Numbers
// are formatted rather than rejected (firmware versions arrive as either).
func (d DeviceRecord) String(key, def string) string {
	v, ok := d.Metrics[key]
	if !ok || v == nil {
		return def
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	default:
		return def
	}
}

// Time returns the named metric as a timestamp. Unix seconds (any numeric
// type) and RFC 3339 / "2006-01-02 15:04:05" strings are accepted; anything
// else reports ok=false.
func (d DeviceRecord) Time(key string) (time.Time, bool) {
	v, ok := d.Metrics[key]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch ts := v.(type) {
	case float64:
		if ts <= 0 {
			return time.Time{}, false
		}
		return time.Unix(int64(ts), 0), true
	case int64:
		if ts <= 0 {
			return time.Time{}, false
		}
		return time.Unix(ts, 0), true
	case string:
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			return parsed, true
		}
		if parsed, err := time.Parse("2006-01-02 15:04:05", ts); err == nil {
			return parsed, true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// stringField reads a top-level string field with a default.
func stringField(payload map[string]any, key, def string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return def
	}
	switch s := v.(type) {
	case string:
		if s == "" {
			return def
		}
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return def
	}
}

// coerceFloat converts the dynamic JSON types the API is known to emit.
func coerceFloat(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
		return def
	default:
		return def
	}
}
