// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

package publish

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/battereye/battereye/internal/config"
	"github.com/battereye/battereye/internal/derived"
	"github.com/battereye/battereye/internal/logging"
	"github.com/battereye/battereye/internal/models"
)

// message is one topic/body pair ready to publish.
type message struct {
	topic string
	body  []byte
}

// payloadBuilder turns a cycle outcome into MQTT messages. Kept separate
// from the client so the topic layout and payload shapes are unit-testable
// without a broker.
type payloadBuilder struct {
	cfg    *config.MarstekConfig
	prefix string
}

func newPayloadBuilder(cfg *config.MarstekConfig, prefix string) *payloadBuilder {
	return &payloadBuilder{cfg: cfg, prefix: prefix}
}

// build produces the availability topic, the fleet summary, and one topic
// per device. On a failed cycle only availability is published; stale
// per-device data stays retained on the broker from the last good cycle.
func (b *payloadBuilder) build(snap *models.Snapshot, cycleErr error) []message {
	online := cycleErr == nil && snap != nil && snap.Status == models.StatusOnline

	msgs := []message{b.availability(online)}
	if !online {
		return msgs
	}

	msgs = append(msgs, b.summary(snap))
	for i := range snap.Devices {
		msgs = append(msgs, b.device(&snap.Devices[i]))
	}
	return msgs
}

func (b *payloadBuilder) availability(online bool) message {
	state := "offline"
	if online {
		state = "online"
	}
	return message{
		topic: b.prefix + "/availability",
		body:  []byte(state),
	}
}

func (b *payloadBuilder) summary(snap *models.Snapshot) message {
	return b.jsonMessage(b.prefix+"/summary", map[string]any{
		"fetched_at": snap.FetchedAt.Format(time.RFC3339),
		"summary":    derived.Summarize(snap, b.cfg),
	})
}

func (b *payloadBuilder) device(dev *models.DeviceRecord) message {
	payload := map[string]any{
		"device_id":         dev.DeviceID,
		"device_type":       dev.DeviceType,
		"name":              dev.Name,
		"metrics":           dev.Metrics,
		"charge_power_w":    derived.ChargePower(dev),
		"discharge_power_w": derived.DischargePower(dev),
		"stored_kwh":        derived.StoredEnergy(dev, b.cfg),
		"capacity_kwh":      b.cfg.CapacityFor(dev.DeviceID),
	}
	if ts, ok := dev.Time("report_time"); ok {
		payload["report_time"] = ts.Format(time.RFC3339)
	}
	topic := fmt.Sprintf("%s/device/%s", b.prefix, dev.DeviceID)
	return b.jsonMessage(topic, payload)
}

func (b *payloadBuilder) jsonMessage(topic string, payload any) message {
	body, err := json.Marshal(payload)
	if err != nil {
		logging.Error().Err(err).Str("topic", topic).Msg("Failed to marshal MQTT payload")
		body = []byte("{}")
	}
	return message{topic: topic, body: body}
}
