// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry mirrors status documents to MQTT for dashboards.
// Publishing is best effort and never blocks a control loop for long.
package telemetry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Publisher sends JSON documents to topics.
type Publisher interface {
	Publish(topic string, v any) error
	Close()
}

// Connect returns an MQTT publisher, or a no-op publisher when broker is
// empty.
func Connect(broker, clientID string, log *zap.SugaredLogger) (Publisher, error) {
	if broker == "" {
		return Nop{}, nil
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", broker, token.Error())
	}
	log.Infow("telemetry: connected to MQTT broker", "broker", broker, "client_id", clientID)
	return &MQTT{client: client, log: log}, nil
}

// MQTT publishes retained JSON messages.
type MQTT struct {
	client mqtt.Client
	log    *zap.SugaredLogger
}

// Publish implements Publisher.
func (m *MQTT) Publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	token := m.client.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(100 * time.Millisecond) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}

// Nop discards everything.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(string, any) error { return nil }

// Close implements Publisher.
func (Nop) Close() {}

// Memory keeps the last payload per topic. Used by tests.
type Memory struct {
	mu   sync.Mutex
	last map[string][]byte
	n    int
}

// NewMemory returns an empty Memory publisher.
func NewMemory() *Memory {
	return &Memory{last: make(map[string][]byte)}
}

// Publish implements Publisher.
func (m *Memory) Publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[topic] = payload
	m.n++
	return nil
}

// Close implements Publisher.
func (m *Memory) Close() {}

// Last decodes the last payload published on topic into v.
func (m *Memory) Last(topic string, v any) bool {
	m.mu.Lock()
	raw, ok := m.last[topic]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// Count returns how many messages were published.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n
}
