package mqtt

import (
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultReconnectInterval = 5 * time.Second
	defaultKeepAlive         = 60 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds

	maxQoS = 2

	// Availability payloads, the Home Assistant defaults.
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Config describes the broker connection.
type Config struct {
	Broker   string
	Username string
	Password string
	ClientID string
	QoS      byte

	// StatusTopic receives a retained "online" on every connect and
	// "offline" on shutdown or, through the will, on an unexpected drop.
	// Empty disables availability reporting.
	StatusTopic string

	ConnectTimeout    time.Duration
	ReconnectInterval time.Duration
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return defaultConnectTimeout
}

func (c Config) reconnectInterval() time.Duration {
	if c.ReconnectInterval > 0 {
		return c.ReconnectInterval
	}
	return defaultReconnectInterval
}

// buildClientOptions creates the paho options. Connection callbacks are
// installed by Connect.
func buildClientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(cfg.reconnectInterval())
	opts.SetMaxReconnectInterval(cfg.reconnectInterval() * 6)
	opts.SetConnectTimeout(cfg.connectTimeout())
	opts.SetKeepAlive(defaultKeepAlive)
	// Commands must reach the controller in the order they were sent.
	opts.SetOrderMatters(true)

	if cfg.StatusTopic != "" {
		opts.SetWill(cfg.StatusTopic, StatusOffline, cfg.QoS, true)
	}
	return opts
}
