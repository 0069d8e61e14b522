package protocol

import (
	"time"

	"github.com/janch32/uartboot/transport"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MaxDynamicLength bounds responses whose length is not known in advance.
const MaxDynamicLength = 0x7FFF

// Link is the host end of the protocol.
type Link struct {
	*Conn
	baud int
}

// NewLink returns a host link over port running at baud.
func NewLink(port transport.Port, baud int) *Link {
	return &Link{
		Conn: NewConn(port, nil),
		baud: baud,
	}
}

// BaudRate returns the speed the link currently runs at.
func (l *Link) BaudRate() int {
	return l.baud
}

// SetBaudRate reconfigures the port.
func (l *Link) SetBaudRate(baud int) error {
	if err := l.port.SetBaudRate(baud); err != nil {
		return errors.Wrapf(err, "set baud rate %d", baud)
	}
	l.baud = baud
	return nil
}

// transferTime is the time n bytes take on the line, ten bits per byte.
func (l *Link) transferTime(n int) time.Duration {
	if l.baud <= 0 {
		return 0
	}
	return time.Duration(int64(n) * 10 * int64(time.Second) / int64(l.baud))
}

// SendHeader sends the command header for h followed by payloadLen bytes of
// payload and waits for the device to accept it.
func (l *Link) SendHeader(h Header, payloadLen int) error {
	b, err := EncodeCommand(h, payloadLen)
	if err != nil {
		return err
	}

	l.Flush()

	logger.WithFields(logrus.Fields{
		"cmd": h.Command(),
		"len": h.Size() + payloadLen,
	}).Debug("send header")

	if err := l.Write(b); err != nil {
		return err
	}

	return l.WaitAck(HeaderAckTimeout)
}

// SendPayload sends the header fields of h and the payload buffers. Both
// sides compute the CRC of what was transferred; the device reports its value
// and the host confirms it with ACK or refuses it with NAK.
func (l *Link) SendPayload(h Header, payload ...[]byte) error {
	crc := NewCRC16()
	n := 0

	hdr := h.Encode()
	crc.Update(hdr)
	if err := l.Write(hdr); err != nil {
		return err
	}

	for _, p := range payload {
		crc.Update(p)
		n += len(p)
		if err := l.Write(p); err != nil {
			return err
		}
	}

	if err := l.WaitAck(DataAckTimeout + l.transferTime(n)); err != nil {
		return err
	}

	var remote [2]byte
	for i := range remote {
		c, err := l.ReadChar(CRCByteTimeout)
		if err != nil {
			return err
		}
		remote[i] = c
	}

	got := uint16(remote[0]) | uint16(remote[1])<<8
	if got != crc.Sum() {
		logger.Debugf("%s: CRC mismatch, device 0x%04x host 0x%04x", h.Command(), got, crc.Sum())
		l.WriteByte(NAK)
		// the device answers the refused CRC with NAK
		l.ReadChar(CRCByteTimeout)
		return ErrCRCMismatch
	}

	return l.WriteByte(ACK)
}

// Execute runs a complete command without response data: header, optional
// payload and the wait for the execution result.
func (l *Link) Execute(h Header, execTimeout time.Duration, payload ...[]byte) error {
	n := 0
	for _, p := range payload {
		n += len(p)
	}

	if err := l.SendHeader(h, n); err != nil {
		return err
	}

	if h.Size()+n > 0 {
		if err := l.SendPayload(h, payload...); err != nil {
			return err
		}
	}

	return l.WaitAck(execTimeout)
}

func (l *Link) readLength() (int, error) {
	lo, err := l.ReadChar(LengthFirstTimeout)
	if err != nil {
		return 0, err
	}

	hi, err := l.ReadChar(LengthNextTimeout)
	if err != nil {
		return 0, err
	}

	return int(lo) | int(hi)<<8, nil
}

func (l *Link) receive(n int, ackTimeout time.Duration) ([]byte, error) {
	if err := l.WriteByte(ACK); err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	got, err := l.ReadFull(buf, ResponseTimeout+l.transferTime(n))
	if err != nil && got < n {
		logger.Debugf("response: got %d of %d bytes", got, n)
		return nil, ErrTransmission
	}

	crc := Checksum16(buf)
	if err := l.Write([]byte{byte(crc), byte(crc >> 8)}); err != nil {
		return nil, err
	}

	if err := l.WaitAck(ackTimeout); err != nil {
		return nil, err
	}

	return buf, nil
}

// ReceivePayload reads a response of exactly expected bytes. A different
// announced length is refused with NAK.
func (l *Link) ReceivePayload(expected int) ([]byte, error) {
	n, err := l.readLength()
	if err != nil {
		return nil, err
	}

	if n != expected {
		logger.Debugf("response length %d, expected %d", n, expected)
		l.WriteByte(NAK)
		return nil, ErrCommandError
	}

	return l.receive(n, ResponseAckTimeout)
}

// ReceiveDynamic reads a response of any length up to MaxDynamicLength.
func (l *Link) ReceiveDynamic() ([]byte, error) {
	n, err := l.readLength()
	if err != nil {
		return nil, err
	}

	if n > MaxDynamicLength {
		l.WriteByte(NAK)
		return nil, ErrCommandError
	}

	return l.receive(n, DynamicAckTimeout)
}

// Query runs a command that returns exactly respLen bytes.
func (l *Link) Query(h Header, execTimeout time.Duration, respLen int, payload ...[]byte) ([]byte, error) {
	if err := l.Execute(h, execTimeout, payload...); err != nil {
		return nil, err
	}
	return l.ReceivePayload(respLen)
}

// QueryDynamic runs a command whose response length is decided by the device.
func (l *Link) QueryDynamic(h Header, execTimeout time.Duration) ([]byte, error) {
	if err := l.Execute(h, execTimeout); err != nil {
		return nil, err
	}
	return l.ReceiveDynamic()
}

// ReadBootStage listens for the announcement of the device for up to timeout.
// It returns 0 when the ROM loader is waiting for code and the agent version
// when the agent is running.
func (l *Link) ReadBootStage(timeout time.Duration) (uint16, error) {
	deadline := l.clock.Now().Add(timeout)
	err := error(ErrNoResponse)

	for {
		remain := deadline.Sub(l.clock.Now())
		if remain <= 0 {
			return 0, err
		}

		c, rerr := l.ReadChar(remain)
		if rerr != nil {
			return 0, err
		}

		if c != STX {
			err = ErrUnknownResponse
			continue
		}

		c, rerr = l.ReadChar(30 * time.Millisecond)
		if rerr != nil {
			// STX alone is the ROM loader asking for code
			return 0, nil
		}
		if c != SOH {
			continue
		}

		var ver [2]byte
		if _, rerr = l.ReadFull(ver[:1], 20*time.Millisecond); rerr != nil {
			continue
		}
		if _, rerr = l.ReadFull(ver[1:], 20*time.Millisecond); rerr != nil {
			continue
		}

		v := uint16(ver[0])<<8 | uint16(ver[1])
		if v == 0 {
			return 0, ErrUnsupportedVersion
		}

		return v, nil
	}
}

// RawCodeChecksum is the xor of all bytes of code.
func RawCodeChecksum(code []byte) byte {
	sum := byte(0)
	for _, b := range code {
		sum ^= b
	}
	return sum
}

// maxRawCodeSize is the largest image the ROM loader accepts.
const maxRawCodeSize = 0x1FFFF

// SendRawCode uploads code to the ROM loader. Images below half of the
// loader limit use the legacy two byte length, larger ones the extended form.
func (l *Link) SendRawCode(code []byte) error {
	size := len(code)

	var hdr []byte
	if size < maxRawCodeSize/2 {
		hdr = []byte{SOH, byte(size), byte(size >> 8)}
	} else {
		hdr = []byte{SOH, 0, 0, byte(size), byte(size >> 8), byte(size >> 16)}
	}

	// drop announcements queued while deciding to upload
	if err := l.Flush(); err != nil {
		return err
	}

	if err := l.Write(hdr); err != nil {
		return err
	}

	c, err := l.ReadChar(100 * time.Millisecond)
	if err != nil || c != ACK {
		return ErrBootLoaderRejected
	}

	if err := l.Write(code); err != nil {
		return err
	}

	remote, err := l.ReadChar(time.Second + l.transferTime(size))
	if err != nil || remote != RawCodeChecksum(code) {
		return ErrChecksumMismatch
	}

	return l.WriteByte(ACK)
}
