// Package config loads the bridge options.
//
// Options come from, in increasing precedence: built-in defaults, the options
// file (YAML or JSON, by default the Home Assistant add-on location
// /data/options.json), and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pwurbs/lights2mqtt/internal/device"
)

// DefaultPath is the Home Assistant add-on options file.
const DefaultPath = "/data/options.json"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid")

// Config holds the application configuration.
type Config struct {
	SerialPort        string        `yaml:"serial_port"`
	BaudRate          int           `yaml:"baud_rate"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`

	MQTTBroker   string `yaml:"mqtt_broker"`
	MQTTUser     string `yaml:"mqtt_user"`
	MQTTPass     string `yaml:"mqtt_pass"`
	MQTTClientID string `yaml:"mqtt_client_id"`
	MQTTQoS      int    `yaml:"mqtt_qos"`

	BaseTopic       string `yaml:"base_topic"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`

	// DefaultBrightness is the level dimmable devices turn on at before any
	// brightness has been seen.
	DefaultBrightness int `yaml:"default_brightness"`

	// Fans lists device names exposed as fan entities.
	Fans []string `yaml:"fans"`
	// Devices is the controller's device list. DevicesFile, when set,
	// replaces it with the list read from that file.
	Devices     []device.Record `yaml:"devices"`
	DevicesFile string          `yaml:"devices_file"`

	LogLevel string `yaml:"log_level"`

	InfluxDB InfluxDBConfig `yaml:"influxdb"`
}

// InfluxDBConfig contains the optional state history sink settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		SerialPort:        "/dev/ttyACM0",
		BaudRate:          9600,
		ReconnectInterval: 5 * time.Second,
		SettleDelay:       300 * time.Millisecond,
		ReadTimeout:       50 * time.Millisecond,
		MQTTBroker:        "tcp://localhost:1883",
		MQTTClientID:      "lights2mqtt_bridge",
		BaseTopic:         "home/lights",
		DiscoveryPrefix:   "homeassistant",
		DefaultBrightness: 70,
		Fans:              []string{"livingroomfans", "mainbedroomfan", "bedroom2", "bedroom3"},
		LogLevel:          "info",
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
	}
}

// Load reads the options file at path over the defaults, applies environment
// overrides and resolves the device list. A missing options file is not an
// error; the defaults and environment are used alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if cfg.DevicesFile != "" {
		file := cfg.DevicesFile
		if !filepath.IsAbs(file) && path != "" {
			file = filepath.Join(filepath.Dir(path), file)
		}
		devices, err := LoadDevices(file)
		if err != nil {
			return nil, err
		}
		cfg.Devices = devices
	}

	return cfg, nil
}

// LoadDevices reads a device list file: a YAML or JSON sequence of
// {name, dimmable} records.
func LoadDevices(path string) ([]device.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading devices file: %w", err)
	}
	var devices []device.Record
	if err := yaml.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("parsing devices file: %w", err)
	}
	return devices, nil
}

// applyEnvOverrides applies the Docker-style environment overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERIAL_PORT"); v != "" {
		cfg.SerialPort = v
	}
	if v := os.Getenv("BAUD_RATE"); v != "" {
		if rate, err := strconv.Atoi(v); err == nil {
			cfg.BaudRate = rate
		}
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		cfg.MQTTBroker = v
	}
	if v := os.Getenv("MQTT_USER"); v != "" {
		cfg.MQTTUser = v
	}
	if v := os.Getenv("MQTT_PASS"); v != "" {
		cfg.MQTTPass = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DEVICES_FILE"); v != "" {
		cfg.DevicesFile = v
	}
	if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var problems []string

	if c.SerialPort == "" {
		problems = append(problems, "serial_port is required")
	}
	if c.BaudRate <= 0 {
		problems = append(problems, "baud_rate must be positive")
	}
	if c.ReconnectInterval <= 0 {
		problems = append(problems, "reconnect_interval must be positive")
	}
	if c.SettleDelay < 0 || c.ReadTimeout <= 0 {
		problems = append(problems, "settle_delay must not be negative and read_timeout must be positive")
	}
	if c.MQTTBroker == "" {
		problems = append(problems, "mqtt_broker is required")
	}
	if c.MQTTQoS < 0 || c.MQTTQoS > 2 {
		problems = append(problems, "mqtt_qos must be 0, 1 or 2")
	}
	if !validTopicRoot(c.BaseTopic) {
		problems = append(problems, "base_topic must be a non-empty topic without wildcards or trailing slash")
	}
	if !validTopicRoot(c.DiscoveryPrefix) {
		problems = append(problems, "discovery_prefix must be a non-empty topic without wildcards or trailing slash")
	}
	if c.DefaultBrightness < 0 || c.DefaultBrightness > 100 {
		problems = append(problems, "default_brightness must be within 0-100")
	}
	if len(c.Devices) == 0 {
		problems = append(problems, "at least one device is required")
	} else if _, err := c.Registry(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		problems = append(problems, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func validTopicRoot(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, "+#") && !strings.HasSuffix(topic, "/")
}

// Registry builds the device registry from the device list and fan names.
func (c *Config) Registry() (*device.Registry, error) {
	return device.NewRegistry(c.Devices, c.Fans)
}
