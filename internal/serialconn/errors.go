package serialconn

import "errors"

var (
	// ErrDisconnected is returned by Send when no port is open; the line is dropped.
	ErrDisconnected = errors.New("serial: disconnected")

	// ErrWriteFailed is returned by Send when the write failed and the port was reopened.
	ErrWriteFailed = errors.New("serial: write failed")

	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("serial: manager closed")

	// ErrRetriesExhausted is returned by Open when a capped retry policy gives up.
	ErrRetriesExhausted = errors.New("serial: open retries exhausted")
)
