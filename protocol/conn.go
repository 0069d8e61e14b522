package protocol

import (
	"time"

	"github.com/janch32/uartboot/transport"
	"github.com/pkg/errors"
)

// Clock tells the current time. Deadlines of every wait are computed from it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Conn reads and writes bytes of the protocol with bounded waits.
type Conn struct {
	port  transport.Port
	clock Clock
}

// NewConn wraps port. A nil clock selects SystemClock.
func NewConn(port transport.Port, clock Clock) *Conn {
	if clock == nil {
		clock = SystemClock
	}
	return &Conn{port: port, clock: clock}
}

// Port returns the underlying port.
func (c *Conn) Port() transport.Port {
	return c.port
}

// Write sends all of b.
func (c *Conn) Write(b []byte) error {
	for len(b) > 0 {
		n, err := c.port.Write(b)
		if err != nil {
			return errors.Wrap(ErrTransmission, err.Error())
		}
		b = b[n:]
	}
	return nil
}

// WriteByte sends a single byte.
func (c *Conn) WriteByte(b byte) error {
	return c.Write([]byte{b})
}

// ReadFull fills buf before timeout runs out. On timeout the number of bytes
// received so far is returned together with ErrNoResponse.
func (c *Conn) ReadFull(buf []byte, timeout time.Duration) (int, error) {
	deadline := c.clock.Now().Add(timeout)

	received := 0
	for received < len(buf) {
		remain := deadline.Sub(c.clock.Now())
		if remain <= 0 {
			return received, ErrNoResponse
		}

		if err := c.port.SetReadTimeout(remain); err != nil {
			return received, errors.Wrap(err, "set read timeout")
		}

		n, err := c.port.Read(buf[received:])
		if err != nil {
			return received, errors.Wrap(err, "read")
		}

		received += n
	}

	return received, nil
}

// ReadChar waits up to timeout for one byte.
func (c *Conn) ReadChar(timeout time.Duration) (byte, error) {
	var b [1]byte
	_, err := c.ReadFull(b[:], timeout)
	return b[0], err
}

// WaitAck waits for ACK. NAK gives ErrCmdRejected, anything else
// ErrInvalidResponse.
func (c *Conn) WaitAck(timeout time.Duration) error {
	b, err := c.ReadChar(timeout)
	if err != nil {
		return err
	}

	switch b {
	case ACK:
		return nil
	case NAK:
		return ErrCmdRejected
	}

	logger.Debugf("expected ACK, got 0x%02x", b)
	return ErrInvalidResponse
}

// Flush drops everything received and not read yet.
func (c *Conn) Flush() error {
	return c.port.ResetInputBuffer()
}
