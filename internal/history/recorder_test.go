package history

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/pwurbs/lights2mqtt/internal/config"
)

type fakeWriter struct {
	points  []*write.Point
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) { w.points = append(w.points, p) }
func (w *fakeWriter) Flush()                    { w.flushes++ }

func newTestRecorder() (*Recorder, *fakeWriter) {
	logger, _ := test.NewNullLogger()
	w := &fakeWriter{}
	r := newRecorder(w, logger)
	r.now = func() time.Time { return time.Unix(1700000000, 0) }
	return r, w
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false}, nil)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1",
		Bucket:  "lights",
	}
	_, err := Connect(cfg, logger)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestRecordState(t *testing.T) {
	r, w := newTestRecorder()

	r.RecordState("pendant", "dimmable_light", map[string]interface{}{"on": true, "brightness": 55})
	r.RecordState("kitchen", "light", map[string]interface{}{"on": false})

	if len(w.points) != 2 {
		t.Fatalf("wrote %d points, want 2", len(w.points))
	}

	tests := []string{
		"device_state,category=dimmable_light,device=pendant brightness=55i,on=true 1700000000000000000",
		"device_state,category=light,device=kitchen on=false 1700000000000000000",
	}
	for i, want := range tests {
		got := strings.TrimSpace(write.PointToLineProtocol(w.points[i], time.Nanosecond))
		if got != want {
			t.Errorf("point %d = %q, want %q", i, got, want)
		}
	}
}

func TestRecordState_NoFields(t *testing.T) {
	r, w := newTestRecorder()
	r.RecordState("pendant", "dimmable_light", nil)
	if len(w.points) != 0 {
		t.Errorf("wrote %d points for empty fields", len(w.points))
	}
}

func TestClose(t *testing.T) {
	r, w := newTestRecorder()
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("Flush called %d times, want 1", w.flushes)
	}
}
