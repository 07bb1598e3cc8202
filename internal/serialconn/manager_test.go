package serialconn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// =============================================================================
// Fakes
// =============================================================================

type fakePort struct {
	mu       sync.Mutex
	written  []string
	writeErr error
	chunks   [][]byte
	readErr  error
	dtr      []bool
	resets   int
	closed   bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.chunks) == 0 {
		return 0, nil
	}
	n := copy(b, p.chunks[0])
	p.chunks = p.chunks[1:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.written = append(p.written, string(b))
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) SetDTR(dtr bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dtr = append(p.dtr, dtr)
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	return nil
}

func (p *fakePort) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.written...)
}

func (p *fakePort) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeOpener fails the first failures calls, then hands out ports in order.
type fakeOpener struct {
	mu       sync.Mutex
	failures int
	ports    []*fakePort
	calls    int
}

func (o *fakeOpener) Open(name string) (Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.failures > 0 {
		o.failures--
		return nil, errors.New("no such file or directory")
	}
	if len(o.ports) == 0 {
		return nil, errors.New("no more ports")
	}
	p := o.ports[0]
	o.ports = o.ports[1:]
	return p, nil
}

// fakeClock records requested sleeps and returns immediately.
type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func newTestManager(t *testing.T, opener *fakeOpener, clock *fakeClock) *Manager {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	m := NewManager(Config{
		PortName:    "/dev/ttyTEST",
		Opener:      opener.Open,
		Retry:       RetryPolicy{Interval: 5 * time.Second, Sleep: clock.Sleep},
		SettleDelay: DefaultSettleDelay,
		Logger:      logger,
	})
	t.Cleanup(func() { m.Close() })
	return m
}

// =============================================================================
// Open
// =============================================================================

func TestOpen_RetriesWithFixedInterval(t *testing.T) {
	port := &fakePort{}
	opener := &fakeOpener{failures: 3, ports: []*fakePort{port}}
	clock := &fakeClock{}
	m := newTestManager(t, opener, clock)

	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if m.State() != Connected {
		t.Errorf("State() = %v, want connected", m.State())
	}
	if opener.calls != 4 {
		t.Errorf("opener calls = %d, want 4", opener.calls)
	}

	want := []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second, DefaultSettleDelay}
	got := clock.Sleeps()
	if len(got) != len(want) {
		t.Fatalf("sleeps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if len(port.dtr) != 1 || port.dtr[0] {
		t.Errorf("SetDTR calls = %v, want [false]", port.dtr)
	}
	if port.resets != 1 {
		t.Errorf("ResetInputBuffer calls = %d, want 1", port.resets)
	}
}

func TestOpen_AlreadyConnected(t *testing.T) {
	opener := &fakeOpener{ports: []*fakePort{{}}}
	m := newTestManager(t, opener, &fakeClock{})

	for i := 0; i < 2; i++ {
		if err := m.Open(context.Background()); err != nil {
			t.Fatalf("Open() #%d error = %v", i, err)
		}
	}
	if opener.calls != 1 {
		t.Errorf("opener calls = %d, want 1", opener.calls)
	}
}

func TestOpen_MaxAttempts(t *testing.T) {
	opener := &fakeOpener{failures: 100}
	clock := &fakeClock{}
	logger, _ := test.NewNullLogger()
	m := NewManager(Config{
		PortName: "/dev/ttyTEST",
		Opener:   opener.Open,
		Retry:    RetryPolicy{Interval: time.Second, MaxAttempts: 3, Sleep: clock.Sleep},
		Logger:   logger,
	})
	defer m.Close()

	err := m.Open(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Open() error = %v, want ErrRetriesExhausted", err)
	}
	if opener.calls != 3 {
		t.Errorf("opener calls = %d, want 3", opener.calls)
	}
	if n := len(clock.Sleeps()); n != 2 {
		t.Errorf("sleeps = %d, want 2", n)
	}
}

func TestOpen_ContextCancelled(t *testing.T) {
	opener := &fakeOpener{failures: 100}
	m := newTestManager(t, opener, &fakeClock{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Open(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Open() error = %v, want context.Canceled", err)
	}
}

func TestOpen_RealSleepInterruptedByClose(t *testing.T) {
	opener := &fakeOpener{failures: 100}
	logger, _ := test.NewNullLogger()
	m := NewManager(Config{
		PortName: "/dev/ttyTEST",
		Opener:   opener.Open,
		Retry:    RetryPolicy{Interval: time.Hour},
		Logger:   logger,
	})

	done := make(chan error, 1)
	go func() { done <- m.Open(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	m.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Open() error = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Open() did not return after Close()")
	}
}

// =============================================================================
// Send
// =============================================================================

func TestSend_WritesLine(t *testing.T) {
	port := &fakePort{}
	m := newTestManager(t, &fakeOpener{ports: []*fakePort{port}}, &fakeClock{})
	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := m.Send("pendant on 40"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	got := port.Written()
	if len(got) != 1 || got[0] != "pendant on 40\n" {
		t.Errorf("written = %q, want [\"pendant on 40\\n\"]", got)
	}
}

func TestSend_BeforeOpenDropped(t *testing.T) {
	m := newTestManager(t, &fakeOpener{}, &fakeClock{})

	if err := m.Send("kitchen on"); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Send() error = %v, want ErrDisconnected", err)
	}
}

func TestSend_WriteFailureReconnects(t *testing.T) {
	first := &fakePort{writeErr: errors.New("input/output error")}
	second := &fakePort{}
	opener := &fakeOpener{ports: []*fakePort{first, second}, failures: 0}
	clock := &fakeClock{}
	m := newTestManager(t, opener, clock)
	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	// Two failed opens during the reconnect window.
	opener.mu.Lock()
	opener.failures = 2
	opener.mu.Unlock()

	err := m.Send("kitchen on")
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("Send() error = %v, want ErrWriteFailed", err)
	}
	if !first.IsClosed() {
		t.Error("failed port was not closed")
	}
	if m.State() != Connected {
		t.Fatalf("State() after reconnect = %v, want connected", m.State())
	}

	if err := m.Send("kitchen off"); err != nil {
		t.Fatalf("Send() after reconnect error = %v", err)
	}
	// The failed line is not retried on the new port.
	got := second.Written()
	if len(got) != 1 || got[0] != "kitchen off\n" {
		t.Errorf("second port written = %q, want only \"kitchen off\\n\"", got)
	}
}

func TestSend_DuringReconnectDropped(t *testing.T) {
	first := &fakePort{readErr: errors.New("device disconnected")}
	second := &fakePort{}

	dialing := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	calls := 0
	opener := func(string) (Port, error) {
		calls++
		if calls == 1 {
			return first, nil
		}
		once.Do(func() { close(dialing) })
		<-release
		return second, nil
	}

	logger, _ := test.NewNullLogger()
	m := NewManager(Config{
		PortName: "/dev/ttyTEST",
		Opener:   opener,
		Retry:    RetryPolicy{Sleep: (&fakeClock{}).Sleep},
		Logger:   logger,
	})
	defer m.Close()
	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	polled := make(chan []byte, 1)
	go func() { polled <- m.Poll() }()

	<-dialing
	if err := m.Send("kitchen on"); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Send() during reconnect error = %v, want ErrDisconnected", err)
	}
	close(release)

	if data := <-polled; data != nil {
		t.Errorf("Poll() = %q, want nil", data)
	}
	if m.State() != Connected {
		t.Errorf("State() = %v, want connected", m.State())
	}
	if len(second.Written()) != 0 {
		t.Errorf("dropped line reached new port: %q", second.Written())
	}
}

// =============================================================================
// Poll and Close
// =============================================================================

func TestPoll(t *testing.T) {
	port := &fakePort{chunks: [][]byte{[]byte("pendant on 5"), []byte("5\n")}}
	m := newTestManager(t, &fakeOpener{ports: []*fakePort{port}}, &fakeClock{})
	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if got := string(m.Poll()); got != "pendant on 5" {
		t.Errorf("Poll() = %q", got)
	}
	if got := string(m.Poll()); got != "5\n" {
		t.Errorf("Poll() = %q", got)
	}
	if got := m.Poll(); got != nil {
		t.Errorf("Poll() on idle port = %q, want nil", got)
	}
}

func TestPoll_ReadFailureReconnects(t *testing.T) {
	first := &fakePort{readErr: errors.New("EOF")}
	second := &fakePort{chunks: [][]byte{[]byte("kitchen on\n")}}
	m := newTestManager(t, &fakeOpener{ports: []*fakePort{first, second}}, &fakeClock{})
	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if got := m.Poll(); got != nil {
		t.Errorf("Poll() on failing port = %q, want nil", got)
	}
	if !first.IsClosed() {
		t.Error("failed port was not closed")
	}
	if got := string(m.Poll()); got != "kitchen on\n" {
		t.Errorf("Poll() after reconnect = %q", got)
	}
}

func TestPoll_ReopensAfterCappedReconnectGaveUp(t *testing.T) {
	first := &fakePort{readErr: errors.New("device disconnected")}
	second := &fakePort{chunks: [][]byte{[]byte("pendant on 40\n")}}
	opener := &fakeOpener{ports: []*fakePort{first, second}}
	clock := &fakeClock{}
	logger, _ := test.NewNullLogger()
	m := NewManager(Config{
		PortName: "/dev/ttyTEST",
		Opener:   opener.Open,
		Retry:    RetryPolicy{Interval: time.Second, MaxAttempts: 2, Sleep: clock.Sleep},
		Logger:   logger,
	})
	t.Cleanup(func() { m.Close() })
	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	// The reconnect triggered by the read failure exhausts its two attempts.
	opener.mu.Lock()
	opener.failures = 2
	opener.mu.Unlock()

	if got := m.Poll(); got != nil {
		t.Errorf("Poll() on failing port = %q, want nil", got)
	}
	if m.State() != Disconnected {
		t.Fatalf("State() after give-up = %v, want disconnected", m.State())
	}

	// The next Poll starts a new round and reads from the reopened port.
	if got := string(m.Poll()); got != "pendant on 40\n" {
		t.Errorf("Poll() after give-up = %q, want the reopened port's data", got)
	}
	if m.State() != Connected {
		t.Errorf("State() = %v, want connected", m.State())
	}
	if err := m.Send("pendant off"); err != nil {
		t.Errorf("Send() after reopen error = %v", err)
	}
}

func TestClose(t *testing.T) {
	port := &fakePort{}
	m := newTestManager(t, &fakeOpener{ports: []*fakePort{port}}, &fakeClock{})
	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !port.IsClosed() {
		t.Error("port not closed")
	}
	if err := m.Send("kitchen on"); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close error = %v, want ErrClosed", err)
	}
	if err := m.Open(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Open() after Close error = %v, want ErrClosed", err)
	}
	if m.Poll() != nil {
		t.Error("Poll() after Close returned data")
	}
}
