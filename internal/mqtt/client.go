// Package mqtt wraps paho.mqtt.golang for the bridge.
//
// The client reconnects on its own, re-subscribes every registered topic and
// republishes availability after each connect. Handlers run with panic
// recovery so a bad message cannot take the process down.
package mqtt

import (
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// MessageHandler receives the topic and raw payload of an incoming message.
// A returned error is logged. Handlers run one at a time in arrival order, so
// a handler that blocks delays every later message.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Client is safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    Config
	logger log.FieldLogger

	subscriptions map[string]subscription
	subMu         sync.RWMutex
}

// Connect starts the broker connection. If the broker cannot be reached
// within the connect timeout the client keeps retrying in the background and
// Connect still returns it; subscriptions made meanwhile are applied once the
// connection comes up.
func Connect(cfg Config, logger log.FieldLogger) (*Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("%w: broker is required", ErrInvalidConfig)
	}
	if cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}

	c := newClient(nil, cfg, logger)
	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.logger.Warnf("Lost connection to MQTT broker: %v", err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.logger.Debug("Reconnecting to MQTT broker")
	})
	c.client = pahomqtt.NewClient(opts)

	token := c.client.Connect()
	if !token.WaitTimeout(cfg.connectTimeout()) {
		c.logger.Warnf("Could not connect to MQTT broker %s within %v, will retry in background", cfg.Broker, cfg.connectTimeout())
	} else if err := token.Error(); err != nil {
		c.logger.Warnf("Could not connect to MQTT initially, will retry in background: %v", err)
	}
	return c, nil
}

func newClient(pc pahomqtt.Client, cfg Config, logger log.FieldLogger) *Client {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{
		client:        pc,
		cfg:           cfg,
		logger:        logger,
		subscriptions: make(map[string]subscription),
	}
}

// handleConnect runs on paho's callback goroutine after every (re)connect.
func (c *Client) handleConnect() {
	c.logger.Info("Connected to MQTT Broker")

	if c.cfg.StatusTopic != "" {
		c.client.Publish(c.cfg.StatusTopic, c.cfg.QoS, true, StatusOnline)
	}

	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, sub := range c.subscriptions {
		c.logger.Debugf("Subscribing to %s", sub.topic)
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// IsConnected reports whether the broker connection is currently up.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnectionOpen()
}

// Close publishes the offline status and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() && c.cfg.StatusTopic != "" {
		token := c.client.Publish(c.cfg.StatusTopic, c.cfg.QoS, true, StatusOffline)
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// wrapHandler adapts a MessageHandler to paho with panic recovery.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.WithField("topic", msg.Topic()).Errorf("MQTT handler panic recovered: %v", r)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.WithField("topic", msg.Topic()).Warnf("MQTT handler returned error: %v", err)
		}
	}
}
