// Package history records published device states as InfluxDB points.
//
// Writes go through the client's non-blocking batched write API, so
// recording never stalls the serial reader. Write failures are logged
// asynchronously.
package history

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	log "github.com/sirupsen/logrus"

	"github.com/pwurbs/lights2mqtt/internal/config"
)

// Measurement is the InfluxDB measurement every state is written to.
const Measurement = "device_state"

const (
	defaultConnectTimeout = 10 * time.Second
	defaultBatchSize      = 100
	defaultFlushInterval  = 10 // seconds
)

// pointWriter is the subset of api.WriteAPI the recorder needs.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Recorder writes device states to InfluxDB.
type Recorder struct {
	client influxdb2.Client
	writer pointWriter
	now    func() time.Time
	logger log.FieldLogger
}

// Connect pings the server and prepares the write API. It returns
// ErrDisabled when cfg.Enabled is false.
func Connect(cfg config.InfluxDBConfig, logger log.FieldLogger) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*1000),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			logger.Warnf("InfluxDB write failed: %v", err)
		}
	}()

	r := newRecorder(writeAPI, logger)
	r.client = client
	return r, nil
}

func newRecorder(w pointWriter, logger log.FieldLogger) *Recorder {
	return &Recorder{writer: w, now: time.Now, logger: logger}
}

// RecordState queues one point tagged with the device id and category.
func (r *Recorder) RecordState(deviceID, category string, fields map[string]interface{}) {
	if len(fields) == 0 {
		return
	}
	tags := map[string]string{
		"device":   deviceID,
		"category": category,
	}
	r.writer.WritePoint(write.NewPoint(Measurement, tags, fields, r.now()))
	r.logger.Debugf("Recorded state of %s", deviceID)
}

// Close flushes pending points and closes the client.
func (r *Recorder) Close() error {
	r.writer.Flush()
	if r.client != nil {
		r.client.Close()
	}
	return nil
}
