// Package transport provides the byte channels the bootloader protocol runs over.
package transport

import (
	"io"
	"time"
)

// Port is a raw byte channel to the device.
//
// Read blocks for at most the configured read timeout and returns 0, nil when
// nothing arrived in that time, the same way an open serial line does.
type Port interface {
	io.ReadWriteCloser

	// SetReadTimeout sets how long a single Read may wait for the first byte.
	SetReadTimeout(d time.Duration) error

	// SetBaudRate reconfigures the line speed.
	SetBaudRate(baud int) error

	// ResetInputBuffer drops everything received but not read yet.
	ResetInputBuffer() error
}

// Driver names accepted by Open.
const (
	DriverSerial = "serial"
	DriverTerm   = "term"
)

// Open opens the named port with the selected driver.
func Open(driver string, name string, baud int) (Port, error) {
	switch driver {
	case "", DriverSerial:
		return OpenSerial(name, baud)
	case DriverTerm:
		return OpenTerm(name, baud)
	}

	return nil, ErrUnknownDriver
}
