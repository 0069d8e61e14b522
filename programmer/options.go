package programmer

import (
	"time"

	"github.com/janch32/uartboot/protocol"
)

// Defaults of a programmer session.
const (
	DefaultRetries          = 10
	DefaultUploadAttempts   = 5
	DefaultInitialBaudRate  = 57600
	DefaultHandshakeTimeout = 2 * time.Second
	DefaultResetTimeout     = 5 * time.Second
)

type config struct {
	writeChunk       int
	readChunk        int
	retries          int
	transferRetries  int
	uploadAttempts   int
	chip             Chip
	agentImage       []byte
	initialBaud      int
	baud             int
	handshakeTimeout time.Duration
	resetTimeout     time.Duration
	otpBlockMode     bool
	autoReset        bool
	progress         Progress
}

func defaultConfig() config {
	return config{
		writeChunk:       protocol.SerialWriteChunkSize,
		readChunk:        protocol.SerialReadChunkSize,
		retries:          DefaultRetries,
		uploadAttempts:   DefaultUploadAttempts,
		chip:             Chip690AB,
		initialBaud:      DefaultInitialBaudRate,
		handshakeTimeout: DefaultHandshakeTimeout,
		resetTimeout:     DefaultResetTimeout,
		progress:         nopProgress{},
	}
}

// Option configures a Programmer.
type Option func(*config)

// WithWriteChunkSize sets how many bytes one write command carries. Values
// above the transport limit are clamped.
func WithWriteChunkSize(n int) Option {
	return func(c *config) {
		if n > 0 && n <= protocol.SerialWriteChunkSize {
			c.writeChunk = n
		}
	}
}

// WithReadChunkSize sets how many bytes one read command returns.
func WithReadChunkSize(n int) Option {
	return func(c *config) {
		if n > 0 && n <= protocol.SerialReadChunkSize {
			c.readChunk = n
		}
	}
}

// WithRetries bounds how often one chunk is resent.
func WithRetries(n int) Option {
	return func(c *config) { c.retries = n }
}

// WithTransferRetries bounds the resends over a whole transfer. Zero means
// no bound beyond the per chunk one.
func WithTransferRetries(n int) Option {
	return func(c *config) { c.transferRetries = n }
}

// WithUploadAttempts bounds the uploads of an executable to the ROM loader.
func WithUploadAttempts(n int) Option {
	return func(c *config) { c.uploadAttempts = n }
}

// WithChip selects the memory map of the target.
func WithChip(chip Chip) Option {
	return func(c *config) { c.chip = chip }
}

// WithAgentImage sets the executable uploaded when only the ROM loader answers.
func WithAgentImage(image []byte) Option {
	return func(c *config) { c.agentImage = image }
}

// WithInitialBaudRate sets the speed of the ROM loader.
func WithInitialBaudRate(baud int) Option {
	return func(c *config) { c.initialBaud = baud }
}

// WithBaudRate makes Connect switch the agent to baud once it answers.
func WithBaudRate(baud int) Option {
	return func(c *config) { c.baud = baud }
}

// WithHandshakeTimeout sets how long one wait for the announcement lasts.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *config) { c.handshakeTimeout = d }
}

// WithResetTimeout sets how long the user has to reset the board.
func WithResetTimeout(d time.Duration) Option {
	return func(c *config) { c.resetTimeout = d }
}

// WithOTPBlockMode makes OTP writes skip words left at the blank value.
func WithOTPBlockMode(on bool) Option {
	return func(c *config) { c.otpBlockMode = on }
}

// WithAutoReset lets the programmer reset the board through the port
// instead of asking the user, when the port supports it.
func WithAutoReset(on bool) Option {
	return func(c *config) { c.autoReset = on }
}

// WithProgress reports transfers to p.
func WithProgress(p Progress) Option {
	return func(c *config) {
		if p != nil {
			c.progress = p
		}
	}
}
