// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

package marstek

import (
	"strings"
	"testing"
)

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string code", "0", "0"},
		{"string error code", "8", "8"},
		{"float code", float64(0), "0"},
		{"float error code", float64(6), "6"},
		{"int code", 8, "8"},
		{"nil code", nil, ""},
		{"bool garbage", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeCode(tt.input); got != tt.expected {
				t.Errorf("normalizeCode(%v): expected %q, got %q", tt.input, tt.expected, got)
			}
		})
	}
}

func TestDecodeEnvelope(t *testing.T) {
	payload, err := decodeEnvelope(strings.NewReader(`{"code":"0","msg":"ok"}`))
	checkNoError(t, err)
	if payload["msg"] != "ok" {
		t.Errorf("expected msg field decoded, got %v", payload)
	}
}

func TestDecodeEnvelopeNonObject(t *testing.T) {
	for _, body := range []string{`[1,2,3]`, `"plain string"`, `<html></html>`, ``} {
		if _, err := decodeEnvelope(strings.NewReader(body)); err == nil {
			t.Errorf("expected error for body %q", body)
		}
	}
}

func TestErrorMessagePrefersMsg(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[string]any
		expected string
	}{
		{"msg field", map[string]any{"msg": "token expired"}, "token expired"},
		{"message fallback", map[string]any{"message": "alt field"}, "alt field"},
		{"msg wins over message", map[string]any{"msg": "primary", "message": "secondary"}, "primary"},
		{"neither present", map[string]any{"code": "5"}, "unknown error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorMessage(tt.payload); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestDeviceListPayload(t *testing.T) {
	payload := map[string]any{
		"code": "0",
		"list": []any{
			map[string]any{"devid": "a"},
			map[string]any{"devid": "b"},
		},
	}
	devices, err := deviceListPayload(payload)
	checkNoError(t, err)
	checkIntEqual(t, "device count", len(devices), 2)
}

func TestDeviceListPayloadLegacyData(t *testing.T) {
	payload := map[string]any{
		"code": "0",
		"data": []any{map[string]any{"devid": "a"}},
	}
	devices, err := deviceListPayload(payload)
	checkNoError(t, err)
	checkIntEqual(t, "device count", len(devices), 1)
}

func TestDeviceListPayloadMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"missing list", map[string]any{"code": "0", "msg": "ok"}},
		{"list not array", map[string]any{"list": "oops"}},
		{"element not object", map[string]any{"list": []any{"oops"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := deviceListPayload(tt.payload); err == nil {
				t.Error("expected error for malformed payload")
			}
		})
	}
}
