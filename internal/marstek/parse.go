// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

package marstek

import (
	"io"
	"strconv"

	"github.com/goccy/go-json"
)

// Total field-extraction helpers for the loosely-typed cloud payloads. None
// of these assume key presence or value types; a shape the service has never
// produced classifies as malformed (transient), never as a panic.

// decodeEnvelope decodes a response body into a generic JSON object. A
// payload that is not an object at the top level is malformed.
func decodeEnvelope(r io.Reader) (map[string]any, error) {
	var raw any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, &TransientError{Reason: "invalid JSON body", Err: err}
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, transientf("unexpected payload type %T, want object", raw)
	}
	return obj, nil
}

// normalizeCode renders the application code as a string. The service has
// emitted both JSON numbers and strings for the same codes across releases.
func normalizeCode(v any) string {
	switch code := v.(type) {
	case string:
		return code
	case float64:
		return strconv.FormatFloat(code, 'f', -1, 64)
	case int:
		return strconv.Itoa(code)
	case nil:
		return ""
	default:
		return ""
	}
}

// stringValue extracts a non-empty string, or "".
func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// errorMessage extracts a human-readable error from an envelope, trying the
// field names the service has used.
func errorMessage(payload map[string]any) string {
	if msg := stringValue(payload["msg"]); msg != "" {
		return msg
	}
	if msg := stringValue(payload["message"]); msg != "" {
		return msg
	}
	return "unknown error"
}

// deviceListPayload extracts the device array from an envelope. The current
// API names the field "list"; older deployments used "data". Every element
// must itself be an object.
func deviceListPayload(payload map[string]any) ([]map[string]any, error) {
	raw, ok := payload["list"]
	if !ok {
		raw, ok = payload["data"]
	}
	if !ok {
		return nil, transientf("response missing device list (code %s): %s",
			normalizeCode(payload["code"]), errorMessage(payload))
	}

	items, ok := raw.([]any)
	if !ok {
		return nil, transientf("device list has unexpected type %T, want array", raw)
	}

	devices := make([]map[string]any, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, transientf("device entry has unexpected type %T, want object", item)
		}
		devices = append(devices, obj)
	}
	return devices, nil
}
