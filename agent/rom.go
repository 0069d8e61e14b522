package agent

import (
	"context"
	"time"

	"github.com/janch32/uartboot/protocol"
	"github.com/janch32/uartboot/transport"
	"github.com/pkg/errors"
)

// DefaultRomInterval is how often the ROM loader asks for code.
const DefaultRomInterval = 100 * time.Millisecond

// RomLoader emulates the first stage loader of the chip: it asks for code
// with STX, receives the length prefixed image and answers with its xor
// checksum. It is what the host meets before the agent is uploaded.
type RomLoader struct {
	conn     *protocol.Conn
	port     transport.Port
	interval time.Duration
}

// NewRomLoader returns a ROM loader emulation on port.
func NewRomLoader(port transport.Port, interval time.Duration) *RomLoader {
	if interval <= 0 {
		interval = DefaultRomInterval
	}

	return &RomLoader{
		conn:     protocol.NewConn(port, protocol.SystemClock),
		port:     port,
		interval: interval,
	}
}

// WaitForCode runs the loader until an image was received and confirmed by
// the host.
func (r *RomLoader) WaitForCode(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := r.conn.WriteByte(protocol.STX); err != nil {
			return nil, err
		}

		c, err := r.conn.ReadChar(r.interval)
		if isTimeout(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if c != protocol.SOH {
			continue
		}

		code, err := r.receive()
		if isTimeout(err) || errors.Is(err, protocol.ErrChecksumMismatch) {
			logger.Debugf("rom: %v", err)
			continue
		}
		if err != nil {
			return nil, err
		}

		logger.Infof("rom: received %d bytes", len(code))
		return code, nil
	}
}

func (r *RomLoader) receive() ([]byte, error) {
	var b [3]byte
	if _, err := r.conn.ReadFull(b[:2], r.interval); err != nil {
		return nil, err
	}

	size := int(b[0]) | int(b[1])<<8
	if size == 0 {
		// extended header with a 24 bit length
		if _, err := r.conn.ReadFull(b[:], r.interval); err != nil {
			return nil, err
		}
		size = int(b[0]) | int(b[1])<<8 | int(b[2])<<16
	}

	if err := r.conn.WriteByte(protocol.ACK); err != nil {
		return nil, err
	}

	code := make([]byte, size)
	if _, err := r.conn.ReadFull(code, time.Second+transferTime(size, r.port)); err != nil {
		return nil, err
	}

	if err := r.conn.WriteByte(protocol.RawCodeChecksum(code)); err != nil {
		return nil, err
	}

	c, err := r.conn.ReadChar(time.Second)
	if err != nil {
		return nil, err
	}
	if c != protocol.ACK {
		return nil, protocol.ErrChecksumMismatch
	}

	return code, nil
}

// baudRater is implemented by ports that report their speed.
type baudRater interface {
	BaudRate() int
}

func transferTime(n int, port transport.Port) time.Duration {
	baud := 57600
	if b, ok := port.(baudRater); ok && b.BaudRate() > 0 {
		baud = b.BaudRate()
	}
	return time.Duration(int64(n) * 10 * int64(time.Second) / int64(baud))
}
