// Package bridge translates between the lights controller line protocol and
// MQTT.
//
// A Bridge owns the brightness cache, the discovery registry and the
// connection to the controller. Two goroutines drive it for the life of the
// process:
//
//   - Run polls the serial link, decodes state lines and publishes retained
//     state (and, on the first line per device, a Home Assistant discovery
//     config).
//   - Dispatch is the MQTT handler for <base>/+/set/#; it turns commands into
//     device lines and sends them without waiting for the device to answer.
//
// The two only share the Bridge, whose State serializes every cache and
// registry update.
package bridge

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pwurbs/lights2mqtt/internal/device"
	"github.com/pwurbs/lights2mqtt/internal/lineproto"
)

// DefaultIdleInterval is the reader loop pause when a poll returned nothing.
const DefaultIdleInterval = 10 * time.Millisecond

// ErrMalformedPayload is returned for MQTT command payloads that cannot be parsed.
var ErrMalformedPayload = errors.New("bridge: malformed payload")

// Conn is the controller link.
type Conn interface {
	Send(line string) error
	Poll() []byte
}

// Publisher sends retained MQTT messages.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
}

// StateRecorder receives every state the bridge publishes. Implementations
// must not block.
type StateRecorder interface {
	RecordState(deviceID, category string, fields map[string]interface{})
}

// Options configures a Bridge.
type Options struct {
	Registry  *device.Registry
	Conn      Conn
	Publisher Publisher

	Topics     Topics
	DeviceInfo DeviceInfo
	// RecallBrightness seeds the level dimmable devices turn on at.
	RecallBrightness int
	IdleInterval     time.Duration

	Recorder StateRecorder
	Logger   log.FieldLogger
}

// Bridge is the shared context of the reader loop and the dispatcher.
type Bridge struct {
	registry   *device.Registry
	conn       Conn
	pub        Publisher
	state      *State
	topics     Topics
	deviceInfo DeviceInfo
	idle       time.Duration
	recorder   StateRecorder
	logger     log.FieldLogger

	// codec is owned by the Run goroutine.
	codec *lineproto.Codec
}

// New builds a Bridge. Zero-valued topic, device info and idle settings take
// their defaults.
func New(opts Options) (*Bridge, error) {
	if opts.Registry == nil {
		return nil, errors.New("bridge: registry is required")
	}
	if opts.Conn == nil {
		return nil, errors.New("bridge: connection is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("bridge: publisher is required")
	}

	topics := opts.Topics
	if topics.Base == "" {
		topics.Base = DefaultBaseTopic
	}
	if topics.DiscoveryPrefix == "" {
		topics.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	info := opts.DeviceInfo
	if len(info.Identifiers) == 0 && info.Name == "" {
		info = DefaultDeviceInfo()
	}
	idle := opts.IdleInterval
	if idle <= 0 {
		idle = DefaultIdleInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger().WithField("component", "bridge")
	}

	return &Bridge{
		registry:   opts.Registry,
		conn:       opts.Conn,
		pub:        opts.Publisher,
		state:      NewState(opts.Registry.Dimmable(), opts.RecallBrightness),
		topics:     topics,
		deviceInfo: info,
		idle:       idle,
		recorder:   opts.Recorder,
		logger:     logger,
		codec:      lineproto.NewCodec(opts.Registry),
	}, nil
}

// State exposes the brightness cache and discovery registry.
func (b *Bridge) State() *State { return b.state }

// Topics returns the topic layout in use.
func (b *Bridge) Topics() Topics { return b.topics }
