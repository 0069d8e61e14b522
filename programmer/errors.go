package programmer

import (
	"fmt"

	"github.com/janch32/uartboot/protocol"
	"github.com/pkg/errors"
)

// ErrorKind groups errors by what went wrong.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindTransport covers lost bytes and a silent device.
	KindTransport
	// KindProtocol covers refused or malformed exchanges.
	KindProtocol
	// KindStorage covers refused or failed writes to flash and OTP.
	KindStorage
	// KindArgument covers requests rejected before anything was sent.
	KindArgument
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindStorage:
		return "storage"
	case KindArgument:
		return "argument"
	}
	return "unknown"
}

// Error is a failure of a programmer operation.
type Error struct {
	Code int
	Kind ErrorKind
	msg  string
}

func (e *Error) Error() string {
	return e.msg
}

func newError(code int, kind ErrorKind, msg string) *Error {
	return &Error{Code: code, Kind: kind, msg: msg}
}

var (
	ErrFailed             = newError(-1, KindUnknown, "operation failed")
	ErrFileTooBig         = newError(-8, KindArgument, "file too big")
	ErrFileEmpty          = newError(-9, KindArgument, "file is empty")
	ErrCmdUnsupported     = newError(-10, KindArgument, "command not supported by the device")
	ErrQSPIWrite          = newError(-300, KindStorage, "QSPI write failed")
	ErrQSPIVerify         = newError(-301, KindStorage, "QSPI verification failed")
	ErrOTPWrite           = newError(-310, KindStorage, "OTP write failed")
	ErrOTPRead            = newError(-311, KindStorage, "OTP read failed")
	ErrOTPVerify          = newError(-312, KindStorage, "OTP verification failed")
	ErrOTPNotEmpty        = newError(-313, KindStorage, "OTP cells already written with different data")
	ErrOTPSame            = newError(-314, KindStorage, "OTP cells already contain the data")
	ErrOQSPIWrite         = newError(-330, KindStorage, "OQSPI write failed")
	ErrOQSPIVerify        = newError(-331, KindStorage, "OQSPI verification failed")
	ErrImageFormat        = newError(-340, KindArgument, "invalid image format")
	ErrUnknownChip        = newError(-341, KindArgument, "unknown chip")
	ErrInvalidArgument    = newError(-342, KindArgument, "invalid argument")
	ErrInsufficientBuffer = newError(-343, KindArgument, "buffer too small")
	ErrNoPartition        = newError(-344, KindArgument, "partition not found")
	ErrUnknownProductID   = newError(-345, KindArgument, "unknown product id")
)

// ChunkError reports the chunk a transfer gave up on.
type ChunkError struct {
	Op     string
	Addr   uint32
	Offset int
	Reason *Error
	Err    error
}

func (e *ChunkError) Error() string {
	msg := fmt.Sprintf("%s at 0x%08x (offset %d)", e.Op, e.Addr, e.Offset)
	if e.Reason != nil {
		msg += ": " + e.Reason.Error()
	}
	return msg + ": " + e.Err.Error()
}

func (e *ChunkError) Unwrap() []error {
	if e.Reason != nil {
		return []error{e.Reason, e.Err}
	}
	return []error{e.Err}
}

// Kind classifies err.
func Kind(err error) ErrorKind {
	if errors.Is(err, protocol.ErrMessageTooLong) {
		return KindArgument
	}

	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}

	var cerr *protocol.Error
	if errors.As(err, &cerr) {
		switch cerr {
		case protocol.ErrNoResponse, protocol.ErrTransmission:
			return KindTransport
		}
		return KindProtocol
	}

	return KindUnknown
}

// Code returns the numeric code of err, or -1 when err carries none.
func Code(err error) int {
	if err == nil {
		return 0
	}

	var perr *Error
	if errors.As(err, &perr) {
		return perr.Code
	}

	var cerr *protocol.Error
	if errors.As(err, &cerr) {
		return int(cerr.Code)
	}

	return ErrFailed.Code
}

// retryable reports whether a chunk that failed with err may be sent again.
func retryable(err error) bool {
	switch Kind(err) {
	case KindTransport, KindProtocol:
		return !errors.Is(err, protocol.ErrUnsupportedVersion)
	}
	return errors.Is(err, ErrQSPIVerify) || errors.Is(err, ErrOQSPIVerify)
}
