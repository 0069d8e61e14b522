package transport

import (
	"time"

	"github.com/albenik/go-serial/v2"
	"github.com/pkg/errors"
)

// ErrUnknownDriver is returned by Open for driver names it does not know.
var ErrUnknownDriver = errors.New("unknown port driver")

// SerialPort is a serial line opened through go-serial.
type SerialPort struct {
	conn    *serial.Port
	name    string
	timeout time.Duration
}

// OpenSerial opens the line 8N1 at baud with a one second read timeout and
// flushes both directions.
func OpenSerial(name string, baud int) (*SerialPort, error) {
	conn, err := serial.Open(
		name,
		serial.WithBaudrate(baud),
		serial.WithDataBits(8),
		serial.WithParity(serial.NoParity),
		serial.WithStopBits(serial.OneStopBit),
		serial.WithReadTimeout(1000),
	)

	if err != nil {
		return nil, errors.Wrapf(err, "open %s", name)
	}

	p := &SerialPort{
		conn:    conn,
		name:    name,
		timeout: time.Second,
	}

	err = conn.ResetInputBuffer()
	if err == nil {
		err = conn.ResetOutputBuffer()
	}

	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "flush %s", name)
	}

	return p, nil
}

// Name returns the device path the port was opened with.
func (p *SerialPort) Name() string {
	return p.name
}

func (p *SerialPort) Read(b []byte) (int, error) {
	return p.conn.Read(b)
}

func (p *SerialPort) Write(b []byte) (int, error) {
	return p.conn.Write(b)
}

// Close releases the line.
func (p *SerialPort) Close() error {
	return p.conn.Close()
}

// SetReadTimeout reconfigures the read timeout, rounded up to whole milliseconds.
// Reconfiguring is skipped when the value did not change.
func (p *SerialPort) SetReadTimeout(d time.Duration) error {
	if d == p.timeout {
		return nil
	}

	ms := int((d + time.Millisecond - 1) / time.Millisecond)
	if ms < 1 {
		ms = 1
	}

	err := p.conn.Reconfigure(
		serial.WithReadTimeout(ms),
	)
	if err == nil {
		p.timeout = d
	}

	return err
}

// SetBaudRate sets a new line speed on the open port.
func (p *SerialPort) SetBaudRate(baud int) error {
	return p.conn.Reconfigure(
		serial.WithBaudrate(baud),
	)
}

// ResetInputBuffer drops pending input.
func (p *SerialPort) ResetInputBuffer() error {
	return p.conn.ResetInputBuffer()
}

// PulseReset drives DTR, which USB-UART bridges on development kits wire to
// the chip reset line, for the given time.
func (p *SerialPort) PulseReset(hold time.Duration) error {
	err := p.conn.SetDTR(true)

	time.Sleep(hold)

	if err == nil {
		err = p.conn.SetDTR(false)
	}

	return err
}
