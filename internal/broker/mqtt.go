// Package broker publishes scene models to an MQTT broker so renderers
// outside this process can follow the platoon.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/platoon-telemetry/internal/models"
)

const connectTimeout = 10 * time.Second

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Connect opens a connection to brokerURL such as tcp://localhost:1883.
func Connect(brokerURL, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		})
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", brokerURL, err)
	}
	return client, nil
}

// Publisher sends the latest scene to a topic at a fixed rate.
type Publisher struct {
	client Client
	topic  string
	source func() models.Scene
}

// NewPublisher creates a Publisher reading scenes from source.
func NewPublisher(client Client, topic string, source func() models.Scene) *Publisher {
	return &Publisher{client: client, topic: topic, source: source}
}

// Publish sends one scene. QoS 0: a lost scene is superseded by the next one.
func (p *Publisher) Publish(scene models.Scene) error {
	payload, err := json.Marshal(scene)
	if err != nil {
		return fmt.Errorf("marshal scene: %w", err)
	}
	token := p.client.Publish(p.topic, 0, false, payload)
	if !token.WaitTimeout(time.Second) {
		return fmt.Errorf("publish to %s: timed out", p.topic)
	}
	return token.Error()
}

// Run publishes every interval until ctx is cancelled, then disconnects.
func (p *Publisher) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer p.client.Disconnect(250)

	log.WithFields(log.Fields{"topic": p.topic, "interval": interval}).Info("Scene publisher started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !p.client.IsConnected() {
				continue
			}
			if err := p.Publish(p.source()); err != nil {
				log.WithError(err).Warn("Failed to publish scene")
			}
		}
	}
}
