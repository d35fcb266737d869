// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

package publish

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/battereye/battereye/internal/config"
	"github.com/battereye/battereye/internal/coordinator"
	"github.com/battereye/battereye/internal/logging"
	"github.com/battereye/battereye/internal/metrics"
	"github.com/battereye/battereye/internal/models"
)

// MQTTPublisher mirrors every completed snapshot to an MQTT broker. It
// subscribes to the coordinator and publishes retained messages so late
// joiners (dashboards, Home Assistant) see the last state immediately.
type MQTTPublisher struct {
	cfg     *config.Config
	coord   *coordinator.Coordinator
	client  mqtt.Client
	builder *payloadBuilder
}

// NewMQTTPublisher builds a publisher; the connection is established in
// Serve.
func NewMQTTPublisher(coord *coordinator.Coordinator, cfg *config.Config) *MQTTPublisher {
	p := &MQTTPublisher{
		cfg:     cfg,
		coord:   coord,
		builder: newPayloadBuilder(&cfg.Marstek, cfg.MQTT.TopicPrefix),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.BrokerURL).
		SetClientID(cfg.MQTT.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
	}
	if cfg.MQTT.Password != "" {
		opts.SetPassword(cfg.MQTT.Password)
	}

	opts.OnConnect = func(_ mqtt.Client) {
		logging.Info().
			Str("broker", cfg.MQTT.BrokerURL).
			Msg("MQTT connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logging.Warn().Err(err).Msg("MQTT connection lost")
	}

	p.client = mqtt.NewClient(opts)
	return p
}

// Serve connects to the broker, mirrors cycles until ctx is cancelled, then
// disconnects. Runs under the supervision tree.
func (p *MQTTPublisher) Serve(ctx context.Context) error {
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		// ConnectRetry keeps trying in the background; a supervisor
		// restart here would only reset that backoff.
		logging.Warn().Err(token.Error()).Msg("Initial MQTT connect failed, retrying in background")
	}

	unsubscribe := p.coord.Subscribe(p.onCycle)
	defer unsubscribe()

	<-ctx.Done()
	p.client.Disconnect(250)
	logging.Info().Msg("MQTT publisher stopped")
	return ctx.Err()
}

// onCycle publishes the cycle outcome. Failed cycles still publish the
// availability topic so subscribers learn the bridge went offline.
func (p *MQTTPublisher) onCycle(snap *models.Snapshot, cycleErr error) {
	if !p.client.IsConnectionOpen() {
		return
	}

	msgs := p.builder.build(snap, cycleErr)
	for _, m := range msgs {
		token := p.client.Publish(m.topic, p.cfg.MQTT.QoS, true, m.body)
		// Tokens are awaited briefly; a slow broker must not stall the
		// cycle goroutine.
		if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
			metrics.MQTTPublishesTotal.WithLabelValues("failure").Inc()
			logging.Warn().
				Str("topic", m.topic).
				Err(token.Error()).
				Msg("MQTT publish failed")
			continue
		}
		metrics.MQTTPublishesTotal.WithLabelValues("success").Inc()
	}
}
