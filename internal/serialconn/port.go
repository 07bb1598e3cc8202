package serialconn

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is the subset of serial.Port the manager uses.
type Port interface {
	io.ReadWriteCloser
	SetDTR(dtr bool) error
	ResetInputBuffer() error
}

// Opener opens the named port.
type Opener func(name string) (Port, error)

// DefaultOpener returns an Opener backed by go.bug.st/serial using 8N1 at the
// given baud rate. DTR starts low so boards that reset on DTR stay running,
// and reads return after readTimeout when no data is available.
func DefaultOpener(baud int, readTimeout time.Duration) Opener {
	return func(name string) (Port, error) {
		mode := &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
			InitialStatusBits: &serial.ModemOutputBits{
				DTR: false,
				RTS: false,
			},
		}
		port, err := serial.Open(name, mode)
		if err != nil {
			return nil, err
		}
		if err := port.SetReadTimeout(readTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
		return port, nil
	}
}
