package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pwurbs/lights2mqtt/internal/bridge"
	"github.com/pwurbs/lights2mqtt/internal/config"
	"github.com/pwurbs/lights2mqtt/internal/history"
	"github.com/pwurbs/lights2mqtt/internal/mqtt"
	"github.com/pwurbs/lights2mqtt/internal/serialconn"
)

func main() {
	// 1. Load Configuration
	cfg := loadConfig()
	setupLogging(cfg.LogLevel)

	log.Info("Starting Lights to MQTT Bridge")

	registry, err := cfg.Registry()
	if err != nil {
		log.Fatalf("Invalid device list: %v", err)
	}
	log.Infof("Loaded %d devices (%d dimmable)", registry.Len(), len(registry.Dimmable()))

	// 2. Optional state history
	recorder := setupHistory(cfg.InfluxDB)

	// 3. Serial
	conn := serialconn.NewManager(serialconn.Config{
		PortName:    cfg.SerialPort,
		Opener:      serialconn.DefaultOpener(cfg.BaudRate, cfg.ReadTimeout),
		Retry:       serialconn.RetryPolicy{Interval: cfg.ReconnectInterval},
		SettleDelay: cfg.SettleDelay,
		Logger:      log.WithField("component", "serial"),
	})

	// 4. MQTT
	topics := bridge.Topics{Base: cfg.BaseTopic, DiscoveryPrefix: cfg.DiscoveryPrefix}
	client, err := mqtt.Connect(mqtt.Config{
		Broker:            cfg.MQTTBroker,
		Username:          cfg.MQTTUser,
		Password:          cfg.MQTTPass,
		ClientID:          cfg.MQTTClientID,
		QoS:               byte(cfg.MQTTQoS),
		StatusTopic:       topics.Availability(),
		ReconnectInterval: cfg.ReconnectInterval,
	}, log.WithField("component", "mqtt"))
	if err != nil {
		log.Fatalf("MQTT setup failed: %v", err)
	}

	opts := bridge.Options{
		Registry:         registry,
		Conn:             conn,
		Publisher:        client,
		Topics:           topics,
		RecallBrightness: cfg.DefaultBrightness,
		Logger:           log.WithField("component", "bridge"),
	}
	if recorder != nil {
		opts.Recorder = recorder
	}
	br, err := bridge.New(opts)
	if err != nil {
		log.Fatalf("Bridge setup failed: %v", err)
	}

	if err := client.Subscribe(topics.CommandSubscription(), byte(cfg.MQTTQoS), br.Dispatch); err != nil {
		log.Fatalf("Subscribe to %s failed: %v", topics.CommandSubscription(), err)
	}

	// 5. Run until SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := run(ctx, conn, br)

	log.Info("Shutting down...")
	if err := client.Close(); err != nil {
		log.Warnf("MQTT close: %v", err)
	}
	if recorder != nil {
		recorder.Close()
	}
	if runErr != nil {
		log.Errorf("Bridge stopped: %v", runErr)
		os.Exit(1)
	}
}

// run opens the serial port and drives the reader loop until ctx is done.
// Closing the connection on shutdown unblocks a reconnect in progress.
func run(ctx context.Context, conn *serialconn.Manager, br *bridge.Bridge) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := conn.Open(gctx); err != nil {
			return err
		}
		log.Infof("Bridge running, listening on %s", br.Topics().CommandSubscription())
		return br.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, serialconn.ErrClosed) {
		return nil
	}
	return err
}

func loadConfig() *config.Config {
	path := config.DefaultPath
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Loading config from %s failed: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	return cfg
}

func setupLogging(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.Infof("Log level set to: %s", lvl)
}

// setupHistory connects the optional InfluxDB sink. Failures are logged and
// the bridge runs without history.
func setupHistory(cfg config.InfluxDBConfig) *history.Recorder {
	recorder, err := history.Connect(cfg, log.WithField("component", "history"))
	switch {
	case errors.Is(err, history.ErrDisabled):
		return nil
	case err != nil:
		log.Warnf("State history disabled: %v", err)
		return nil
	}
	log.Infof("Recording state history to %s", cfg.URL)
	return recorder
}
