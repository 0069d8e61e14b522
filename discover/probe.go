// Package discover finds boards that announce the boot protocol on a serial
// port.
package discover

import (
	"fmt"
	"time"

	"github.com/janch32/uartboot/protocol"
	"github.com/janch32/uartboot/transport"
	"github.com/pkg/errors"
)

// ErrNoDevice is returned when no port carries an announcing board.
var ErrNoDevice = errors.New("no board found")

// Device is a board found on a serial port.
type Device struct {
	Port string

	// Version is the announced agent version, 0 while the ROM loader waits
	// for code.
	Version uint16
}

// Stage names what answered on the port.
func (d Device) Stage() string {
	if d.Version == 0 {
		return "rom loader"
	}
	return fmt.Sprintf("agent 0x%04x", d.Version)
}

// Listen waits up to timeout for the announcement on an open port.
func Listen(port transport.Port, baud int, timeout time.Duration) (uint16, error) {
	return protocol.NewLink(port, baud).ReadBootStage(timeout)
}

// Probe opens name and listens for the announcement.
func Probe(name string, baud int, timeout time.Duration) (*Device, error) {
	port, err := transport.Open(transport.DriverSerial, name, baud)
	if err != nil {
		return nil, err
	}

	defer port.Close()

	v, err := Listen(port, baud, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "probe %s", name)
	}

	return &Device{Port: name, Version: v}, nil
}

// AllDevices probes every candidate port.
func AllDevices(baud int, timeout time.Duration) []Device {
	found := []Device{}

	names, err := candidates()
	if err != nil {
		return found
	}

	for _, name := range names {
		if d, err := Probe(name, baud, timeout); err == nil {
			found = append(found, *d)
		}
	}

	return found
}

// FirstDevice returns the first port a board answers on.
func FirstDevice(baud int, timeout time.Duration) (*Device, error) {
	names, err := candidates()
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		if d, err := Probe(name, baud, timeout); err == nil {
			return d, nil
		}
	}

	return nil, ErrNoDevice
}
