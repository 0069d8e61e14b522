package protocol

import (
	"testing"
	"time"

	"github.com/janch32/uartboot/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLink(t *testing.T) (*Link, *Conn) {
	host, dev := transport.Pipe()
	t.Cleanup(func() { host.Close() })

	return NewLink(host, 57600), NewConn(dev, nil)
}

func readN(t *testing.T, c *Conn, n int) []byte {
	buf := make([]byte, n)
	_, err := c.ReadFull(buf, time.Second)
	assert.NoError(t, err)
	return buf
}

func TestExecuteWithPayload(t *testing.T) {
	link, dev := newTestLink(t)

	h := WriteHeader{Ptr: 0x20001000}
	payload := []byte("hello world")

	done := make(chan []byte)
	go func() {
		hdr := readN(t, dev, 4)
		dev.WriteByte(ACK)

		body := readN(t, dev, int(hdr[2])|int(hdr[3])<<8)
		crc := Checksum16(body)
		dev.Write([]byte{ACK, byte(crc), byte(crc >> 8)})

		c, _ := dev.ReadChar(time.Second)
		if c == ACK {
			dev.WriteByte(ACK)
		}
		done <- append(hdr, body...)
	}()

	require.NoError(t, link.Execute(h, time.Second, payload))

	got := <-done
	assert.Equal(t, []byte{SOH, byte(CmdWrite), 15, 0}, got[:4])
	assert.Equal(t, []byte{0x00, 0x10, 0x00, 0x20}, got[4:8])
	assert.Equal(t, payload, got[8:])
}

func TestSendPayloadCRCMismatch(t *testing.T) {
	link, dev := newTestLink(t)

	reply := make(chan byte)
	go func() {
		readN(t, dev, 4)
		dev.Write([]byte{ACK, 0x00, 0x00})
		c, _ := dev.ReadChar(time.Second)
		dev.WriteByte(NAK)
		reply <- c
	}()

	err := link.SendPayload(WriteHeader{Ptr: 1})
	assert.Equal(t, ErrCRCMismatch, err)
	assert.Equal(t, NAK, <-reply)
}

func TestSendHeaderRejected(t *testing.T) {
	link, dev := newTestLink(t)

	go func() {
		readN(t, dev, 4)
		dev.WriteByte(NAK)
	}()

	assert.Equal(t, ErrCmdRejected, link.SendHeader(ReadHeader{}, 0))
}

func TestExecuteTooLongWritesNothing(t *testing.T) {
	link, dev := newTestLink(t)

	err := link.Execute(WriteHeader{Ptr: AddressTmp}, time.Second, make([]byte, 0x8000), make([]byte, 0x8000))
	assert.ErrorIs(t, err, ErrMessageTooLong)

	_, err = dev.ReadChar(50 * time.Millisecond)
	assert.Equal(t, ErrNoResponse, err)
}

func TestSendHeaderNoResponse(t *testing.T) {
	link, _ := newTestLink(t)
	assert.Equal(t, ErrNoResponse, link.SendHeader(EmptyHeader{Cmd: CmdGetVersion}, 0))
}

func TestReceivePayload(t *testing.T) {
	link, dev := newTestLink(t)

	data := []byte("0.0.0.4")
	result := make(chan byte)
	go func() {
		dev.Write([]byte{byte(len(data)), 0})
		c, _ := dev.ReadChar(time.Second)
		if c != ACK {
			result <- c
			return
		}
		dev.Write(data)
		crc := readN(t, dev, 2)
		if uint16(crc[0])|uint16(crc[1])<<8 == Checksum16(data) {
			dev.WriteByte(ACK)
			result <- ACK
			return
		}
		dev.WriteByte(NAK)
		result <- NAK
	}()

	got, err := link.ReceivePayload(len(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, ACK, <-result)
}

func TestReceivePayloadLengthMismatch(t *testing.T) {
	link, dev := newTestLink(t)

	result := make(chan byte)
	go func() {
		dev.Write([]byte{4, 0})
		c, _ := dev.ReadChar(time.Second)
		result <- c
	}()

	_, err := link.ReceivePayload(8)
	assert.Equal(t, ErrCommandError, err)
	assert.Equal(t, NAK, <-result)
}

func TestReceiveDynamic(t *testing.T) {
	link, dev := newTestLink(t)

	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}

	go func() {
		dev.Write([]byte{byte(len(data)), byte(len(data) >> 8)})
		dev.ReadChar(time.Second)
		dev.Write(data)
		readN(t, dev, 2)
		dev.WriteByte(ACK)
	}()

	got, err := link.ReceiveDynamic()
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReadBootStage(t *testing.T) {
	tests := []struct {
		name    string
		send    []byte
		version uint16
		err     error
	}{
		{"rom", []byte{STX}, 0, nil},
		{"agent", []byte{STX, SOH, 0x00, 0x04}, 4, nil},
		{"agent after noise", []byte{'x', STX, SOH, 0x01, 0x02}, 0x0102, nil},
		{"version zero", []byte{STX, SOH, 0x00, 0x00}, 0, ErrUnsupportedVersion},
		{"garbage", []byte{'a', 'b'}, 0, ErrUnknownResponse},
		{"silence", nil, 0, ErrNoResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, dev := newTestLink(t)
			dev.Write(tt.send)

			v, err := link.ReadBootStage(200 * time.Millisecond)
			assert.Equal(t, tt.err, err)
			assert.Equal(t, tt.version, v)
		})
	}
}

func TestSendRawCode(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		header []byte
	}{
		{"legacy", 0x100, []byte{SOH, 0x00, 0x01}},
		{"extended", 0x10000, []byte{SOH, 0, 0, 0x00, 0x00, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, dev := newTestLink(t)

			code := make([]byte, tt.size)
			for i := range code {
				code[i] = byte(i * 3)
			}

			acked := make(chan bool)
			go func() {
				hdr := readN(t, dev, len(tt.header))
				assert.Equal(t, tt.header, hdr)
				dev.WriteByte(ACK)
				body := readN(t, dev, tt.size)
				dev.WriteByte(RawCodeChecksum(body))
				c, _ := dev.ReadChar(time.Second)
				acked <- c == ACK
			}()

			require.NoError(t, link.SendRawCode(code))
			assert.True(t, <-acked)
		})
	}
}

func TestSendRawCodeChecksumMismatch(t *testing.T) {
	link, dev := newTestLink(t)

	go func() {
		readN(t, dev, 3)
		dev.WriteByte(ACK)
		readN(t, dev, 2)
		dev.WriteByte(0x55)
	}()

	assert.Equal(t, ErrChecksumMismatch, link.SendRawCode([]byte{1, 2}))
}

func TestSendRawCodeRejected(t *testing.T) {
	link, _ := newTestLink(t)
	assert.Equal(t, ErrBootLoaderRejected, link.SendRawCode([]byte{1, 2}))
}
