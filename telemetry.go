package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const mqttTimeout = 2 * time.Second

// MessagePublisher sends a payload to a topic
type MessagePublisher interface {
	Publish(topic string, payload []byte) error
}

// mqttPublisher adapts a paho client to MessagePublisher
type mqttPublisher struct {
	client mqtt.Client
}

// dialMQTT connects to the configured broker. The client ID gets a random
// suffix so two robots on one broker do not kick each other off.
func dialMQTT(cfg TelemetryConfig) (*mqttPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8])).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	log.Printf("Connected to MQTT broker %s", cfg.Broker)
	return &mqttPublisher{client: client}, nil
}

func (p *mqttPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(mqttTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

// Close disconnects from the broker
func (p *mqttPublisher) Close() {
	p.client.Disconnect(250)
}

// TelemetryPublisher periodically publishes every actuator status as JSON to
// <topic>/<name>
type TelemetryPublisher struct {
	pub      MessagePublisher
	topic    string
	source   StatusProvider
	interval time.Duration
	metrics  *Metrics
}

// NewTelemetryPublisher creates a publisher for source
func NewTelemetryPublisher(pub MessagePublisher, cfg TelemetryConfig, source StatusProvider, metrics *Metrics) *TelemetryPublisher {
	return &TelemetryPublisher{
		pub:      pub,
		topic:    cfg.Topic,
		source:   source,
		interval: cfg.Interval,
		metrics:  metrics,
	}
}

// PublishOnce sends one snapshot per actuator
func (t *TelemetryPublisher) PublishOnce() error {
	for _, status := range t.source.Statuses() {
		payload, err := json.Marshal(status)
		if err != nil {
			return fmt.Errorf("failed to encode %s status: %w", status.Name, err)
		}
		if err := t.pub.Publish(t.topic+"/"+status.Name, payload); err != nil {
			return fmt.Errorf("failed to publish %s status: %w", status.Name, err)
		}
	}
	return nil
}

// Run publishes every interval until ctx is canceled
func (t *TelemetryPublisher) Run(ctx context.Context) {
	log.Printf("Publishing telemetry to %s/<actuator> every %v", t.topic, t.interval)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.PublishOnce(); err != nil {
				t.metrics.RecordError("telemetry")
				log.Printf("Warning: %v", err)
			}
		}
	}
}
