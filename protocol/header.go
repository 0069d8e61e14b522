package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Memory selects the external flash a flash command targets.
type Memory byte

const (
	MemQSPI Memory = iota
	MemOQSPI
)

func (m Memory) String() string {
	if m == MemOQSPI {
		return "oqspi"
	}
	return "qspi"
}

func (m Memory) pick(qspi, oqspi Command) Command {
	if m == MemOQSPI {
		return oqspi
	}
	return qspi
}

// Header is the fixed, command specific part that precedes the payload of a
// command. Every command has exactly one header variant.
type Header interface {
	Command() Command
	Size() int
	Encode() []byte
}

// WriteHeader places the payload at Ptr.
type WriteHeader struct {
	Ptr uint32
}

// ReadHeader requests Len bytes from Ptr.
type ReadHeader struct {
	Ptr uint32
	Len uint16
}

// CopyHeader copies Len bytes from Ptr into flash at Addr.
type CopyHeader struct {
	Mem  Memory
	Ptr  uint32
	Len  uint16
	Addr uint32
}

// EraseHeader erases Len bytes of flash starting at Addr.
type EraseHeader struct {
	Mem  Memory
	Addr uint32
	Len  uint32
}

// ChipEraseHeader erases the whole flash mapped at Addr.
type ChipEraseHeader struct {
	Mem  Memory
	Addr uint32
}

// RunHeader jumps to Addr.
type RunHeader struct {
	Addr uint32
}

// WriteOTPHeader programs the payload words starting at OTP cell Addr.
type WriteOTPHeader struct {
	Addr uint32
}

// ReadOTPHeader reads Len 32-bit words starting at OTP cell Addr.
type ReadOTPHeader struct {
	Addr uint32
	Len  uint16
}

// ReadFlashHeader reads Len bytes of flash from Addr.
type ReadFlashHeader struct {
	Mem  Memory
	Addr uint32
	Len  uint16
}

// ReadPartitionHeader reads Len bytes at offset Addr of partition ID.
type ReadPartitionHeader struct {
	Addr uint32
	Len  uint16
	ID   uint8
}

// WritePartitionHeader writes Len bytes from Ptr to offset Addr of partition ID.
type WritePartitionHeader struct {
	Ptr  uint32
	Len  uint16
	Addr uint32
	ID   uint8
}

// IsEmptyHeader checks Span bytes of flash starting at Start.
type IsEmptyHeader struct {
	Mem   Memory
	Span  uint32
	Start uint32
}

// FlashStateHeader asks for the state of a flash driver. ID is only sent for QSPI.
type FlashStateHeader struct {
	Mem Memory
	ID  uint8
}

// GPIOWatchdogHeader configures the pad toggled while the agent waits.
type GPIOWatchdogHeader struct {
	Pad   uint8
	Level uint8
}

// DirectWriteHeader writes the payload straight into flash at Addr.
type DirectWriteHeader struct {
	Mem    Memory
	Verify bool
	Addr   uint32
}

// ChangeBaudrateHeader switches the UART speed after the command completes.
type ChangeBaudrateHeader struct {
	Baud uint32
}

// EmptyHeader is used by commands without header fields.
type EmptyHeader struct {
	Cmd Command
}

func (WriteHeader) Command() Command          { return CmdWrite }
func (ReadHeader) Command() Command           { return CmdRead }
func (h CopyHeader) Command() Command         { return h.Mem.pick(CmdCopyQSPI, CmdCopyOQSPI) }
func (h EraseHeader) Command() Command        { return h.Mem.pick(CmdEraseQSPI, CmdEraseOQSPI) }
func (h ChipEraseHeader) Command() Command    { return h.Mem.pick(CmdChipEraseQSPI, CmdChipEraseOQSPI) }
func (RunHeader) Command() Command            { return CmdRun }
func (WriteOTPHeader) Command() Command       { return CmdWriteOTP }
func (ReadOTPHeader) Command() Command        { return CmdReadOTP }
func (h ReadFlashHeader) Command() Command    { return h.Mem.pick(CmdReadQSPI, CmdReadOQSPI) }
func (ReadPartitionHeader) Command() Command  { return CmdReadPartition }
func (WritePartitionHeader) Command() Command { return CmdWritePartition }
func (h IsEmptyHeader) Command() Command      { return h.Mem.pick(CmdIsEmptyQSPI, CmdIsEmptyOQSPI) }
func (h FlashStateHeader) Command() Command   { return h.Mem.pick(CmdGetQSPIState, CmdGetOQSPIState) }
func (GPIOWatchdogHeader) Command() Command   { return CmdGPIOWatchdog }
func (h DirectWriteHeader) Command() Command  { return h.Mem.pick(CmdDirectWriteQSPI, CmdDirectWriteOQSPI) }
func (ChangeBaudrateHeader) Command() Command { return CmdChangeBaudrate }
func (h EmptyHeader) Command() Command        { return h.Cmd }

func (h WriteHeader) Size() int          { return 4 }
func (h ReadHeader) Size() int           { return 6 }
func (h CopyHeader) Size() int           { return 10 }
func (h EraseHeader) Size() int          { return 8 }
func (h ChipEraseHeader) Size() int      { return 4 }
func (h RunHeader) Size() int            { return 4 }
func (h WriteOTPHeader) Size() int       { return 4 }
func (h ReadOTPHeader) Size() int        { return 6 }
func (h ReadFlashHeader) Size() int      { return 6 }
func (h ReadPartitionHeader) Size() int  { return 7 }
func (h WritePartitionHeader) Size() int { return 11 }
func (h IsEmptyHeader) Size() int        { return 8 }
func (h GPIOWatchdogHeader) Size() int   { return 2 }
func (h DirectWriteHeader) Size() int    { return 5 }
func (h ChangeBaudrateHeader) Size() int { return 4 }
func (h EmptyHeader) Size() int          { return 0 }

func (h FlashStateHeader) Size() int {
	if h.Mem == MemOQSPI {
		return 0
	}
	return 1
}

var le = binary.LittleEndian

func (h WriteHeader) Encode() []byte {
	b := make([]byte, 4)
	le.PutUint32(b, h.Ptr)
	return b
}

func (h ReadHeader) Encode() []byte {
	b := make([]byte, 6)
	le.PutUint32(b, h.Ptr)
	le.PutUint16(b[4:], h.Len)
	return b
}

func (h CopyHeader) Encode() []byte {
	b := make([]byte, 10)
	le.PutUint32(b, h.Ptr)
	le.PutUint16(b[4:], h.Len)
	le.PutUint32(b[6:], h.Addr)
	return b
}

func (h EraseHeader) Encode() []byte {
	b := make([]byte, 8)
	le.PutUint32(b, h.Addr)
	le.PutUint32(b[4:], h.Len)
	return b
}

func (h ChipEraseHeader) Encode() []byte {
	b := make([]byte, 4)
	le.PutUint32(b, h.Addr)
	return b
}

func (h RunHeader) Encode() []byte {
	b := make([]byte, 4)
	le.PutUint32(b, h.Addr)
	return b
}

func (h WriteOTPHeader) Encode() []byte {
	b := make([]byte, 4)
	le.PutUint32(b, h.Addr)
	return b
}

func (h ReadOTPHeader) Encode() []byte {
	b := make([]byte, 6)
	le.PutUint32(b, h.Addr)
	le.PutUint16(b[4:], h.Len)
	return b
}

func (h ReadFlashHeader) Encode() []byte {
	b := make([]byte, 6)
	le.PutUint32(b, h.Addr)
	le.PutUint16(b[4:], h.Len)
	return b
}

func (h ReadPartitionHeader) Encode() []byte {
	b := make([]byte, 7)
	le.PutUint32(b, h.Addr)
	le.PutUint16(b[4:], h.Len)
	b[6] = h.ID
	return b
}

func (h WritePartitionHeader) Encode() []byte {
	b := make([]byte, 11)
	le.PutUint32(b, h.Ptr)
	le.PutUint16(b[4:], h.Len)
	le.PutUint32(b[6:], h.Addr)
	b[10] = h.ID
	return b
}

func (h IsEmptyHeader) Encode() []byte {
	b := make([]byte, 8)
	le.PutUint32(b, h.Span)
	le.PutUint32(b[4:], h.Start)
	return b
}

func (h FlashStateHeader) Encode() []byte {
	if h.Mem == MemOQSPI {
		return nil
	}
	return []byte{h.ID}
}

func (h GPIOWatchdogHeader) Encode() []byte {
	return []byte{h.Pad, h.Level}
}

func (h DirectWriteHeader) Encode() []byte {
	b := make([]byte, 5)
	if h.Verify {
		b[0] = 1
	}
	le.PutUint32(b[1:], h.Addr)
	return b
}

func (h ChangeBaudrateHeader) Encode() []byte {
	b := make([]byte, 4)
	le.PutUint32(b, h.Baud)
	return b
}

func (h EmptyHeader) Encode() []byte {
	return nil
}

// ErrUnknownCommand is returned by HeaderSize and DecodeHeader for command
// codes without a header layout.
var ErrUnknownCommand = errors.New("unknown command")

// HeaderSize returns the fixed header size of cmd.
func HeaderSize(cmd Command) (int, error) {
	h, err := zeroHeader(cmd)
	if err != nil {
		return 0, err
	}
	return h.Size(), nil
}

func zeroHeader(cmd Command) (Header, error) {
	switch cmd {
	case CmdWrite:
		return WriteHeader{}, nil
	case CmdRead:
		return ReadHeader{}, nil
	case CmdCopyQSPI:
		return CopyHeader{Mem: MemQSPI}, nil
	case CmdCopyOQSPI:
		return CopyHeader{Mem: MemOQSPI}, nil
	case CmdEraseQSPI:
		return EraseHeader{Mem: MemQSPI}, nil
	case CmdEraseOQSPI:
		return EraseHeader{Mem: MemOQSPI}, nil
	case CmdChipEraseQSPI:
		return ChipEraseHeader{Mem: MemQSPI}, nil
	case CmdChipEraseOQSPI:
		return ChipEraseHeader{Mem: MemOQSPI}, nil
	case CmdRun:
		return RunHeader{}, nil
	case CmdWriteOTP:
		return WriteOTPHeader{}, nil
	case CmdReadOTP:
		return ReadOTPHeader{}, nil
	case CmdReadQSPI:
		return ReadFlashHeader{Mem: MemQSPI}, nil
	case CmdReadOQSPI:
		return ReadFlashHeader{Mem: MemOQSPI}, nil
	case CmdReadPartition:
		return ReadPartitionHeader{}, nil
	case CmdWritePartition:
		return WritePartitionHeader{}, nil
	case CmdIsEmptyQSPI:
		return IsEmptyHeader{Mem: MemQSPI}, nil
	case CmdIsEmptyOQSPI:
		return IsEmptyHeader{Mem: MemOQSPI}, nil
	case CmdGetQSPIState:
		return FlashStateHeader{Mem: MemQSPI}, nil
	case CmdGetOQSPIState:
		return FlashStateHeader{Mem: MemOQSPI}, nil
	case CmdGPIOWatchdog:
		return GPIOWatchdogHeader{}, nil
	case CmdDirectWriteQSPI:
		return DirectWriteHeader{Mem: MemQSPI}, nil
	case CmdDirectWriteOQSPI:
		return DirectWriteHeader{Mem: MemOQSPI}, nil
	case CmdChangeBaudrate:
		return ChangeBaudrateHeader{}, nil
	case CmdGetVersion, CmdGetProductInfo, CmdReadPartitionTable, CmdDummy:
		return EmptyHeader{Cmd: cmd}, nil
	}

	return nil, ErrUnknownCommand
}

// DecodeHeader parses the header of cmd from b. b must hold exactly the header.
func DecodeHeader(cmd Command, b []byte) (Header, error) {
	h, err := zeroHeader(cmd)
	if err != nil {
		return nil, err
	}

	if len(b) != h.Size() {
		return nil, errors.Errorf("%s: header needs %d bytes, got %d", cmd, h.Size(), len(b))
	}

	switch h := h.(type) {
	case WriteHeader:
		h.Ptr = le.Uint32(b)
		return h, nil
	case ReadHeader:
		h.Ptr = le.Uint32(b)
		h.Len = le.Uint16(b[4:])
		return h, nil
	case CopyHeader:
		h.Ptr = le.Uint32(b)
		h.Len = le.Uint16(b[4:])
		h.Addr = le.Uint32(b[6:])
		return h, nil
	case EraseHeader:
		h.Addr = le.Uint32(b)
		h.Len = le.Uint32(b[4:])
		return h, nil
	case ChipEraseHeader:
		h.Addr = le.Uint32(b)
		return h, nil
	case RunHeader:
		h.Addr = le.Uint32(b)
		return h, nil
	case WriteOTPHeader:
		h.Addr = le.Uint32(b)
		return h, nil
	case ReadOTPHeader:
		h.Addr = le.Uint32(b)
		h.Len = le.Uint16(b[4:])
		return h, nil
	case ReadFlashHeader:
		h.Addr = le.Uint32(b)
		h.Len = le.Uint16(b[4:])
		return h, nil
	case ReadPartitionHeader:
		h.Addr = le.Uint32(b)
		h.Len = le.Uint16(b[4:])
		h.ID = b[6]
		return h, nil
	case WritePartitionHeader:
		h.Ptr = le.Uint32(b)
		h.Len = le.Uint16(b[4:])
		h.Addr = le.Uint32(b[6:])
		h.ID = b[10]
		return h, nil
	case IsEmptyHeader:
		h.Span = le.Uint32(b)
		h.Start = le.Uint32(b[4:])
		return h, nil
	case FlashStateHeader:
		if h.Mem == MemQSPI {
			h.ID = b[0]
		}
		return h, nil
	case GPIOWatchdogHeader:
		h.Pad = b[0]
		h.Level = b[1]
		return h, nil
	case DirectWriteHeader:
		h.Verify = b[0] != 0
		h.Addr = le.Uint32(b[1:])
		return h, nil
	case ChangeBaudrateHeader:
		h.Baud = le.Uint32(b)
		return h, nil
	}

	return h, nil
}

// MaxMessageLength is the most header and payload bytes one command can
// carry, the limit of the 16 bit length field.
const MaxMessageLength = 0xFFFF

// ErrMessageTooLong is returned for commands whose header and payload do not
// fit the length field.
var ErrMessageTooLong = errors.New("command header and payload longer than 0xFFFF bytes")

// EncodeCommand builds the four byte command header SOH, type, length for a
// command with header h and payloadLen bytes of payload.
func EncodeCommand(h Header, payloadLen int) ([]byte, error) {
	n := h.Size() + payloadLen
	if payloadLen < 0 || n > MaxMessageLength {
		return nil, errors.Wrapf(ErrMessageTooLong, "%s with %d bytes", h.Command(), n)
	}
	return []byte{SOH, byte(h.Command()), byte(n), byte(n >> 8)}, nil
}
