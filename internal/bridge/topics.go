package bridge

import (
	"strings"
)

// Default topic roots.
const (
	DefaultBaseTopic       = "home/lights"
	DefaultDiscoveryPrefix = "homeassistant"
)

// Command attributes accepted under <base>/<device>/set/.
const (
	AttrOn         = "on"
	AttrBrightness = "brightness"
)

// Topics builds every MQTT topic the bridge uses.
type Topics struct {
	Base            string
	DiscoveryPrefix string
}

// DefaultTopics returns the home/lights + homeassistant layout.
func DefaultTopics() Topics {
	return Topics{Base: DefaultBaseTopic, DiscoveryPrefix: DefaultDiscoveryPrefix}
}

// CommandSubscription matches every command topic.
func (t Topics) CommandSubscription() string { return t.Base + "/+/set/#" }

// Command returns <base>/<device>/set/<attr>.
func (t Topics) Command(device, attr string) string {
	return t.Base + "/" + device + "/set/" + attr
}

// State returns <base>/<device>/state/<attr>.
func (t Topics) State(device, attr string) string {
	return t.Base + "/" + device + "/state/" + attr
}

// Discovery returns <prefix>/<component>/<device>/config.
func (t Topics) Discovery(component, device string) string {
	return t.DiscoveryPrefix + "/" + component + "/" + device + "/config"
}

// Availability is the retained bridge online/offline topic.
func (t Topics) Availability() string { return t.Base + "/bridge/status" }

// ParseCommand splits a command topic into its lowercased device id and
// attribute. Topics outside the base or without a set segment are rejected.
func (t Topics) ParseCommand(topic string) (device, attr string, ok bool) {
	if !strings.Contains(topic, "/set/") {
		return "", "", false
	}
	rest, found := strings.CutPrefix(topic, t.Base+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "set" || parts[0] == "" {
		return "", "", false
	}
	return strings.ToLower(parts[0]), strings.ToLower(parts[2]), true
}
