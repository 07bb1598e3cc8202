package history

import "errors"

var (
	// ErrDisabled is returned by Connect when history is turned off.
	ErrDisabled = errors.New("history: disabled in configuration")

	// ErrConnectionFailed indicates the server could not be reached at startup.
	ErrConnectionFailed = errors.New("history: connection failed")
)
