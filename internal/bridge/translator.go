package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pwurbs/lights2mqtt/internal/device"
	"github.com/pwurbs/lights2mqtt/internal/lineproto"
)

// Dispatch is the MQTT message handler for command topics. Malformed
// payloads are logged and dropped; it never returns an error so the
// subscription keeps running.
func (b *Bridge) Dispatch(topic string, payload []byte) error {
	if err := b.HandleCommand(topic, payload); err != nil {
		b.logger.Errorf("MQTT error on %s: %v", topic, err)
	}
	return nil
}

// HandleCommand turns one MQTT command into a device line. Topics without a
// set segment, unknown devices and unsupported attributes are ignored. Send
// failures are not reported: delivery is best effort.
func (b *Bridge) HandleCommand(topic string, payload []byte) error {
	id, attr, ok := b.topics.ParseCommand(topic)
	if !ok {
		return nil
	}
	d, ok := b.registry.Lookup(id)
	if !ok {
		b.logger.Debugf("Ignoring command for unknown device %q", id)
		return nil
	}

	var cmd lineproto.Command
	switch {
	case attr == AttrBrightness && d.Dimmable():
		level, err := parseBrightness(payload)
		if err != nil {
			return err
		}
		level = b.state.Request(d.ID, level)
		cmd = lineproto.DimCommand(d.ID, level)

	case attr == AttrOn:
		on, err := parseSwitch(payload)
		if err != nil {
			return err
		}
		cmd = b.switchCommand(d, on)

	default:
		return nil
	}

	b.logger.Infof("Received command for %s: %s -> %q", d.ID, payload, cmd.Line())
	// Runs on paho's ordered delivery goroutine: a failed write reconnects
	// here, so later commands wait until the port is back.
	if err := b.conn.Send(cmd.Line()); err != nil {
		b.logger.Debugf("Command %q not delivered: %v", cmd.Line(), err)
	}
	return nil
}

// switchCommand builds an on/off command. Dimmable devices turn on at their
// recalled brightness.
func (b *Bridge) switchCommand(d device.Device, on bool) lineproto.Command {
	if !d.Dimmable() {
		return lineproto.SwitchCommand(d.ID, on)
	}
	if !on {
		return lineproto.DimCommand(d.ID, 0)
	}
	return lineproto.DimCommand(d.ID, b.state.Recall(d.ID))
}

// parseBrightness reads an integer level. Integers too large for an int
// still clamp by sign.
func parseBrightness(payload []byte) (int, error) {
	s := strings.TrimSpace(string(payload))
	n, err := strconv.Atoi(s)
	var numErr *strconv.NumError
	switch {
	case err == nil:
	case errors.As(err, &numErr) && numErr.Err == strconv.ErrRange:
		if strings.HasPrefix(s, "-") {
			return 0, nil
		}
		return lineproto.MaxBrightness, nil
	default:
		return 0, fmt.Errorf("%w: brightness %q", ErrMalformedPayload, payload)
	}
	return lineproto.Clamp(n), nil
}

// parseSwitch reports whether an on/off payload means on: "1", "true", "on"
// (any case) or a JSON object with "on": true. Other text means off; a JSON
// object that does not parse is malformed.
func parseSwitch(payload []byte) (bool, error) {
	s := strings.TrimSpace(string(payload))
	if strings.HasPrefix(s, "{") {
		var msg struct {
			On bool `json:"on"`
		}
		if err := json.Unmarshal([]byte(s), &msg); err != nil {
			return false, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return msg.On, nil
	}
	switch strings.ToLower(s) {
	case "1", "true", "on":
		return true, nil
	}
	return false, nil
}

// HandleState publishes one decoded controller state. The first state seen
// for a device also publishes its discovery config. For dimmable devices the
// brightness is published before the on/off state, and on is only reported
// with a non-zero level.
func (b *Bridge) HandleState(st lineproto.State) {
	d, ok := b.registry.Lookup(st.Device)
	if !ok {
		return
	}

	announced, err := b.state.Announce(d.ID, func() error { return b.publishDiscovery(d) })
	switch {
	case err != nil:
		b.logger.Warnf("Failed to send discovery for %s: %v", d.ID, err)
	case announced:
		b.logger.Infof("Sent discovery for %s", d.FriendlyName())
	}

	if !d.Dimmable() {
		b.publish(b.topics.State(d.ID, AttrOn), onPayload(st.On))
		b.record(d, map[string]interface{}{"on": st.On})
		return
	}

	level := b.state.Observe(d.ID, st.On, st.Brightness)
	on := st.On && level > 0
	b.publish(b.topics.State(d.ID, AttrBrightness), strconv.Itoa(level))
	b.publish(b.topics.State(d.ID, AttrOn), onPayload(on))
	b.record(d, map[string]interface{}{"on": on, "brightness": level})
}

func (b *Bridge) publish(topic, payload string) {
	if err := b.pub.PublishRetained(topic, []byte(payload)); err != nil {
		b.logger.Warnf("Failed to publish %s: %v", topic, err)
		return
	}
	b.logger.Debugf("MQTT PUB %s = %s", topic, payload)
}

func (b *Bridge) record(d device.Device, fields map[string]interface{}) {
	if b.recorder != nil {
		b.recorder.RecordState(d.ID, d.Category.String(), fields)
	}
}

func onPayload(on bool) string {
	if on {
		return PayloadOn
	}
	return PayloadOff
}
