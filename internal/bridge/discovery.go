package bridge

import (
	"encoding/json"

	"github.com/pwurbs/lights2mqtt/internal/device"
)

// Payloads used on the on/off command and state topics.
const (
	PayloadOn  = "1"
	PayloadOff = "0"
)

// DeviceInfo groups every entity under one controller in Home Assistant.
type DeviceInfo struct {
	Identifiers []string `json:"identifiers"`
	Name        string   `json:"name"`
}

// DefaultDeviceInfo describes the Arduino lights controller.
func DefaultDeviceInfo() DeviceInfo {
	return DeviceInfo{
		Identifiers: []string{"arduino_lights"},
		Name:        "Arduino Lights Controller",
	}
}

// DiscoveryConfig is the Home Assistant MQTT discovery payload for one light
// or fan entity.
type DiscoveryConfig struct {
	Name         string `json:"name"`
	CommandTopic string `json:"command_topic"`
	StateTopic   string `json:"state_topic"`

	// Dimmable lights only.
	BrightnessCommandTopic string `json:"brightness_command_topic,omitempty"`
	BrightnessStateTopic   string `json:"brightness_state_topic,omitempty"`
	BrightnessScale        int    `json:"brightness_scale,omitempty"`
	// "brightness" makes Home Assistant send only the brightness when turning
	// on, so the bridge restores the last level.
	OnCommandType string `json:"on_command_type,omitempty"`

	PayloadOn  string     `json:"payload_on"`
	PayloadOff string     `json:"payload_off"`
	UniqueID   string     `json:"unique_id"`
	Device     DeviceInfo `json:"device"`
}

// discoveryFor builds the discovery topic and payload for d.
func discoveryFor(t Topics, info DeviceInfo, d device.Device) (string, DiscoveryConfig) {
	component := d.Category.Component()
	cfg := DiscoveryConfig{
		Name:         d.FriendlyName(),
		CommandTopic: t.Command(d.ID, AttrOn),
		StateTopic:   t.State(d.ID, AttrOn),
		PayloadOn:    PayloadOn,
		PayloadOff:   PayloadOff,
		UniqueID:     component + "_" + d.ID,
		Device:       info,
	}
	if d.Dimmable() {
		cfg.BrightnessCommandTopic = t.Command(d.ID, AttrBrightness)
		cfg.BrightnessStateTopic = t.State(d.ID, AttrBrightness)
		cfg.BrightnessScale = 100
		cfg.OnCommandType = "brightness"
	}
	return t.Discovery(component, d.ID), cfg
}

// publishDiscovery sends the retained discovery config for d.
func (b *Bridge) publishDiscovery(d device.Device) error {
	topic, cfg := discoveryFor(b.topics, b.deviceInfo, d)
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return b.pub.PublishRetained(topic, payload)
}
