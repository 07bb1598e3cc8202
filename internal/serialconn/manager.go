// Package serialconn owns the serial link to the lights controller.
//
// The Manager opens the port with an indefinite fixed-interval retry, writes
// command lines, and polls for incoming bytes. Any read or write failure is
// treated as a lost connection: the port is closed and reopened by the
// goroutine that saw the failure, while every other caller observes the
// Disconnected state and drops its work. Nothing is queued across a
// reconnect.
package serialconn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultSettleDelay lets the controller finish booting after open.
	DefaultSettleDelay = 300 * time.Millisecond

	defaultReadBufferSize = 256
)

// State is the connection state.
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Config configures a Manager.
type Config struct {
	PortName    string
	Opener      Opener
	Retry       RetryPolicy
	SettleDelay time.Duration
	// ReadBufferSize bounds the bytes returned by a single Poll.
	ReadBufferSize int
	Logger         log.FieldLogger
}

// Manager serializes access to a single serial port. All methods are safe
// for concurrent use.
type Manager struct {
	cfg    Config
	logger log.FieldLogger

	// ctx lives until Close and bounds every reconnect loop.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	port   Port
	state  State
	closed bool
	// stranded is set when a capped reconnect gave up; Poll reopens.
	stranded bool

	// openMu makes dialing single-flight.
	openMu sync.Mutex
	// writeMu keeps concurrent Send lines from interleaving.
	writeMu sync.Mutex
}

// NewManager returns a disconnected manager. Call Open before use.
func NewManager(cfg Config) *Manager {
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		logger: logger.WithField("port", cfg.PortName),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Open blocks until the port is open, retrying according to the policy. It
// returns nil immediately if the port is already open, and an error only when
// ctx is done, the manager is closed, or a capped policy gives up.
func (m *Manager) Open(ctx context.Context) error {
	m.openMu.Lock()
	defer m.openMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	failures := 0
	for {
		if m.isClosed() {
			return ErrClosed
		}
		if m.State() == Connected {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := m.dial(ctx)
		if err == nil {
			m.logger.Info("Serial connected")
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}

		failures++
		if m.cfg.Retry.exhausted(failures) {
			return fmt.Errorf("%w: %d attempts: %w", ErrRetriesExhausted, failures, err)
		}
		m.logger.Warnf("Serial open failed: %v. Retrying in %s...", err, m.cfg.Retry.interval())
		if err := m.cfg.Retry.sleep(ctx, m.cfg.Retry.interval()); err != nil {
			if m.isClosed() {
				return ErrClosed
			}
			return err
		}
	}
}

// dial opens and prepares one port and installs it as the current handle.
func (m *Manager) dial(ctx context.Context) error {
	if m.cfg.Opener == nil {
		return errors.New("no opener configured")
	}
	port, err := m.cfg.Opener(m.cfg.PortName)
	if err != nil {
		return err
	}

	// Keep DTR low so the board is not reset by the open.
	if err := port.SetDTR(false); err != nil {
		m.logger.Warnf("Could not clear DTR: %v", err)
	}
	if err := m.cfg.Retry.sleep(ctx, m.cfg.SettleDelay); err != nil {
		port.Close()
		return err
	}
	// Discard anything the controller printed while settling.
	if err := port.ResetInputBuffer(); err != nil {
		m.logger.Warnf("Could not flush input buffer: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		port.Close()
		return ErrClosed
	}
	m.port = port
	m.state = Connected
	m.stranded = false
	return nil
}

// Send writes line followed by a newline. While disconnected the line is
// dropped and ErrDisconnected returned. A failed write drops the line,
// reopens the port (blocking the caller until it is back) and returns
// ErrWriteFailed.
func (m *Manager) Send(line string) error {
	m.writeMu.Lock()
	port, err := m.current()
	if err != nil {
		m.writeMu.Unlock()
		m.logger.Warnf("Dropping %q: %v", line, err)
		return err
	}
	_, werr := port.Write([]byte(line + "\n"))
	m.writeMu.Unlock()

	if werr != nil {
		m.logger.Errorf("Failed to write to serial: %v", werr)
		m.reconnect(port, werr)
		return fmt.Errorf("%w: %w", ErrWriteFailed, werr)
	}
	m.logger.Debugf("TX: %s", line)
	return nil
}

// Poll performs one bounded read and returns the bytes received, or nil when
// nothing arrived or the port is down. A read failure reopens the port before
// returning. If a capped retry policy gave up earlier, Poll starts another
// round of open attempts first, so the reader loop never stays disconnected.
func (m *Manager) Poll() []byte {
	port, err := m.current()
	if errors.Is(err, ErrDisconnected) && m.isStranded() {
		m.reopen()
		port, err = m.current()
	}
	if err != nil {
		return nil
	}

	buf := make([]byte, m.cfg.ReadBufferSize)
	n, rerr := port.Read(buf)
	if rerr != nil {
		m.logger.Errorf("Failed to read from serial: %v", rerr)
		m.reconnect(port, rerr)
	}
	if n <= 0 {
		return nil
	}
	return buf[:n]
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close stops any reconnect loop and closes the port.
func (m *Manager) Close() error {
	m.cancel()

	m.mu.Lock()
	port := m.port
	m.port = nil
	m.state = Disconnected
	m.closed = true
	m.mu.Unlock()

	if port != nil {
		return port.Close()
	}
	return nil
}

func (m *Manager) current() (Port, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closed:
		return nil, ErrClosed
	case m.port == nil:
		return nil, ErrDisconnected
	}
	return m.port, nil
}

func (m *Manager) isStranded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stranded
}

// reopen runs another round of open attempts after a capped reconnect gave
// up. A further give-up leaves the manager stranded for the next Poll.
func (m *Manager) reopen() {
	m.logger.Info("Retrying serial open")
	if err := m.Open(m.ctx); err != nil {
		m.markStranded(err)
	}
}

func (m *Manager) markStranded(err error) {
	if !errors.Is(err, ErrRetriesExhausted) {
		return
	}
	m.mu.Lock()
	if !m.closed {
		m.stranded = true
	}
	m.mu.Unlock()
	m.logger.Errorf("Serial reconnect gave up: %v", err)
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// reconnect replaces failed with a freshly opened port. Only the first caller
// to report a given handle does the work; later reports of the same handle
// are ignored.
func (m *Manager) reconnect(failed Port, cause error) {
	m.mu.Lock()
	if m.closed || m.port != failed {
		m.mu.Unlock()
		return
	}
	m.port = nil
	m.state = Disconnected
	m.mu.Unlock()

	failed.Close()
	m.logger.Warnf("Serial connection lost (%v). Reconnecting...", cause)

	if err := m.Open(m.ctx); err != nil {
		m.markStranded(err)
	}
}
