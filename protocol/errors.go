package protocol

// ErrorCode is the numeric code of a protocol error.
type ErrorCode int

// Error is a failure of the message exchange with the device.
type Error struct {
	Code ErrorCode
	msg  string
}

func (e *Error) Error() string {
	return e.msg
}

func newError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, msg: msg}
}

var (
	ErrNoResponse         = newError(-100, "timeout waiting for response")
	ErrCmdRejected        = newError(-101, "NAK received when waiting for ACK")
	ErrInvalidResponse    = newError(-102, "invalid data received when waiting for ACK")
	ErrCRCMismatch        = newError(-103, "CRC16 mismatch")
	ErrChecksumMismatch   = newError(-104, "checksum mismatch while uploading executable")
	ErrBootLoaderRejected = newError(-105, "executable rejected by boot loader")
	ErrUnknownResponse    = newError(-106, "invalid announcement message received")
	ErrTransmission       = newError(-107, "failed to transmit data")
	ErrCommandError       = newError(-108, "error executing command")
	ErrUnsupportedVersion = newError(-110, "unsupported version of boot loader detected")
)
