package ingest

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	SourceMQTT = "mqtt"

	connectTimeout = 10 * time.Second
)

// MQTTConfig addresses the telemetry broker.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
}

// Subscriber relays step telemetry published on an MQTT topic into a Sink.
type Subscriber struct {
	cfg    MQTTConfig
	client mqtt.Client
	sink   Sink
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSubscriber builds a paho client for cfg. A blank client ID gets a random
// one so several bridges can share a broker.
func NewSubscriber(cfg MQTTConfig, sink Sink, opts Options) *Subscriber {
	if cfg.ClientID == "" {
		cfg.ClientID = "pedometerd-" + uuid.NewString()
	}
	s := &Subscriber{cfg: cfg, sink: sink, opts: opts}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(func(c mqtt.Client) {
			// Subscriptions do not survive a reconnect with a clean session.
			if token := c.Subscribe(cfg.Topic, cfg.QoS, s.handle); token.Wait() && token.Error() != nil {
				opts.logger().Error("mqtt subscribe failed", "topic", cfg.Topic, "error", token.Error())
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			opts.logger().Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
		})
	s.client = mqtt.NewClient(clientOpts)
	return s
}

// Start connects to the broker; the topic is subscribed on every connect.
func (s *Subscriber) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("connect to %s: timed out", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", s.cfg.Broker, err)
	}
	s.opts.logger().Info("mqtt feed started", "broker", s.cfg.Broker, "topic", s.cfg.Topic, "client_id", s.cfg.ClientID)
	return nil
}

func (s *Subscriber) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.client.IsConnected() {
		s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
	}
	s.client.Disconnect(250)
}

func (s *Subscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s.deliver(ctx, msg.Topic(), msg.Payload())
}

func (s *Subscriber) deliver(ctx context.Context, topic string, payload []byte) {
	log := s.opts.logger()
	sample, err := ParsePayload(payload, s.opts.now())
	if err != nil {
		s.opts.observe(SourceMQTT, OutcomeRejected)
		log.Warn("dropping step telemetry", "topic", topic, "error", err)
		return
	}
	sample.Source = SourceMQTT
	if err := s.sink.RecordSteps(ctx, sample); err != nil {
		s.opts.observe(SourceMQTT, OutcomeFailed)
		log.Error("record steps failed", "topic", topic, "error", err)
		return
	}
	s.opts.observe(SourceMQTT, OutcomeAccepted)
}
