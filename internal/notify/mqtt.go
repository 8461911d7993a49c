package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenPadCore/internal/config"
	"github.com/KevinKickass/OpenPadCore/internal/storage"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // ms
)

// Client is the part of the paho client the notifier uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTNotifier publishes every status record, retained, to
// "<topic>/<pad_code>".
type MQTTNotifier struct {
	client Client
	topic  string
	qos    byte
	logger *zap.Logger
}

// NewMQTTNotifier connects to the configured broker.
func NewMQTTNotifier(cfg config.MQTTConfig, logger *zap.Logger) (*MQTTNotifier, error) {
	logger = logger.With(zap.String("component", "mqtt"))

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(connectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("mqtt connected", zap.String("broker", cfg.Broker))
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return NewNotifier(client, cfg, logger), nil
}

func NewNotifier(client Client, cfg config.MQTTConfig, logger *zap.Logger) *MQTTNotifier {
	return &MQTTNotifier{
		client: client,
		topic:  strings.TrimSuffix(cfg.Topic, "/"),
		qos:    cfg.QoS,
		logger: logger,
	}
}

func (n *MQTTNotifier) Topic(padCode string) string {
	return n.topic + "/" + padCode
}

// PublishStatus hands rec to the client without waiting for the broker;
// delivery failures are only logged.
func (n *MQTTNotifier) PublishStatus(rec storage.PadStatus) {
	payload, err := json.Marshal(rec)
	if err != nil {
		n.logger.Error("failed to marshal status", zap.String("pad_code", rec.PadCode), zap.Error(err))
		return
	}
	topic := n.Topic(rec.PadCode)
	token := n.client.Publish(topic, n.qos, true, payload)
	go n.await(topic, token)
}

func (n *MQTTNotifier) await(topic string, token mqtt.Token) {
	var err error
	if !token.WaitTimeout(publishTimeout) {
		err = errors.New("timed out")
	} else {
		err = token.Error()
	}
	if err != nil {
		n.logger.Warn("mqtt publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (n *MQTTNotifier) Close() {
	n.client.Disconnect(disconnectQuiesce)
}
