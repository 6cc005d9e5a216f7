package gaze

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConfig configures an MQTTSource.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	MaxRate  float64
}

// MQTTSource subscribes to a topic carrying JSON gaze samples, one sample or
// an array per message.
type MQTTSource struct {
	*Broadcaster
	cfg    MQTTConfig
	client mqtt.Client
	logger *zap.Logger
}

// NewMQTTSource builds a source. Call Start to connect.
func NewMQTTSource(cfg MQTTConfig, logger *zap.Logger) *MQTTSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MQTTSource{
		Broadcaster: NewBroadcaster(cfg.MaxRate),
		cfg:         cfg,
		logger:      logger.Named("mqtt-source"),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("connection lost", zap.Error(err))
		})
	s.client = mqtt.NewClient(opts)
	return s
}

// Start connects to the broker. The topic subscription is (re)established on
// every successful connect.
func (s *MQTTSource) Start() error {
	token := s.client.Connect()
	if !token.WaitTimeout(10*time.Second) {
		return fmt.Errorf("connect to mqtt broker %s: timed out", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt broker %s: %w", s.cfg.Broker, err)
	}
	return nil
}

// Close unsubscribes and disconnects.
func (s *MQTTSource) Close() {
	if s.client.IsConnected() {
		s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
	}
	s.client.Disconnect(250)
}

func (s *MQTTSource) onConnect(c mqtt.Client) {
	s.logger.Info("connected", zap.String("broker", s.cfg.Broker))
	token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		s.logger.Error("subscribe failed", zap.String("topic", s.cfg.Topic), zap.Error(err))
		return
	}
	s.logger.Info("subscribed", zap.String("topic", s.cfg.Topic))
}

func (s *MQTTSource) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	samples, err := DecodeSamples(msg.Payload())
	if err != nil {
		s.logger.Warn("dropping gaze payload", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	for _, sample := range samples {
		s.Publish(sample)
	}
}
