package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const publishTimeout = time.Second

// Publisher is the part of mqtt.Client the publisher needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher publishes messages under a topic prefix: dwell messages to
// <prefix>/dwell, calibration messages to <prefix>/calibration and status
// messages to <prefix>/status.
type MQTTPublisher struct {
	client Publisher
	prefix string
	qos    byte
	logger *zap.Logger
}

// NewMQTTPublisher wraps a connected client.
func NewMQTTPublisher(client Publisher, prefix string, qos byte, logger *zap.Logger) *MQTTPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTPublisher{client: client, prefix: prefix, qos: qos, logger: logger.Named("mqtt-publisher")}
}

// DialMQTT connects a client for publishing.
func DialMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect to mqtt broker %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", broker, err)
	}
	return client, nil
}

// Topic returns the topic a message type is published on.
func (p *MQTTPublisher) Topic(msgType string) string {
	switch msgType {
	case TypeDwell, TypeDwellCleared:
		return p.prefix + "/dwell"
	case TypeCalibrationPoint, TypeCalibrated:
		return p.prefix + "/calibration"
	}
	return p.prefix + "/status"
}

// Send implements Sink.
func (p *MQTTPublisher) Send(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("failed to encode message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	topic := p.Topic(msg.Type)
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.logger.Warn("publish timed out", zap.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// Dispatcher returns a Dispatcher publishing through p.
func (p *MQTTPublisher) Dispatcher() Dispatcher {
	return Messages{Sink: p}
}
