package topic

import (
	"context"
	"fmt"
	"time"

	"wadispatch/internal/constants"
	"wadispatch/internal/errors"
	"wadispatch/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Handler processes one message from a subscribed topic.
type Handler func(ctx context.Context, topic string, payload []byte) error

// Publisher publishes to a notification topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Client wraps an MQTT connection used for the inbound notification topic and alert publishing.
type Client struct {
	client         mqtt.Client
	cfg            models.MQTTConfig
	logger         *logrus.Logger
	handlerTimeout time.Duration
}

// NewClient prepares a client from config. Call Connect before use.
func NewClient(cfg models.MQTTConfig, logger *logrus.Logger) *Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(false)
	opts.SetConnectTimeout(constants.DefaultMQTTConnectTimeoutSec * time.Second)

	c := NewWithClient(nil, cfg, logger)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.WithError(err).Warn("MQTT connection lost")
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.logger.WithField("broker", cfg.Broker).Info("MQTT connected")
	})
	c.client = mqtt.NewClient(opts)
	return c
}

// NewWithClient wraps an existing paho client.
func NewWithClient(client mqtt.Client, cfg models.MQTTConfig, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		client:         client,
		cfg:            cfg,
		logger:         logger,
		handlerTimeout: constants.ScheduledTickBudget,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()
	if err := wait(ctx, token); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to connect to MQTT broker").
			WithContext("broker", c.cfg.Broker)
	}
	return nil
}

// Subscribe registers handler on topic. Handler errors are logged and the message is dropped;
// callers route failures to the DLQ themselves.
func (c *Client) Subscribe(ctx context.Context, topic string, handler Handler) error {
	token := c.client.Subscribe(topic, c.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		hctx, cancel := context.WithTimeout(context.Background(), c.handlerTimeout)
		defer cancel()
		if err := handler(hctx, msg.Topic(), msg.Payload()); err != nil {
			errors.Entry(c.logger, err).WithField("topic", msg.Topic()).Error("Failed to handle MQTT message")
		}
	})
	if err := wait(ctx, token); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, fmt.Sprintf("failed to subscribe to topic %s", topic))
	}
	c.logger.WithField("topic", topic).Info("Subscribed to notification topic")
	return nil
}

func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	token := c.client.Publish(topic, c.cfg.QoS, false, payload)
	if err := wait(ctx, token); err != nil {
		return errors.WrapRetryable(err, errors.ErrCodeInternalError, fmt.Sprintf("failed to publish to topic %s", topic))
	}
	return nil
}

func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

func (c *Client) Close() {
	c.client.Disconnect(250)
}

// wait blocks on token until it completes or ctx ends.
func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
