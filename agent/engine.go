// Package agent implements the device side of the UART boot protocol: the
// second stage loader that announces itself, accepts framed commands and
// executes them against RAM, flash and OTP.
package agent

import (
	"context"
	"time"

	"github.com/janch32/uartboot/protocol"
	"github.com/janch32/uartboot/storage"
	"github.com/janch32/uartboot/transport"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Default geometry of the agent.
const (
	DefaultScratchSize           = 0x28000
	DefaultVirtualMask           = 0xFFF80000
	DefaultPartitionTableAddress = 0x1FF000
	DefaultHelloInterval         = time.Second
	isEmptyChunk                 = 2048
	liveMarker                   = "Live\x00"
)

// Timeouts bound every wait of the agent.
type Timeouts struct {
	Command  time.Duration // command header
	Header   time.Duration // per command header fields
	Payload  time.Duration // payload, on top of the time the bytes take on the line
	Ack      time.Duration // host ACK of the payload CRC
	Response time.Duration // host ACK of the response length and its CRC
}

// DefaultTimeouts are the waits of the agent firmware.
var DefaultTimeouts = Timeouts{
	Command:  2 * time.Second,
	Header:   5 * time.Second,
	Payload:  time.Second,
	Ack:      3 * time.Second,
	Response: 5 * time.Second,
}

// RunRequest describes a jump requested by the host.
type RunRequest struct {
	// Addr is the address from the run command.
	Addr uint32

	// Reboot is set when the image in the scratch buffer is to be moved to
	// address zero and started after a reset. Image holds that image.
	Reboot bool
	Image  []byte
}

// Engine is the command engine of the agent.
type Engine struct {
	conn *protocol.Conn
	port transport.Port
	baud int

	scratch        []byte
	mask           uint32
	ram            storage.RAM
	flash          map[protocol.Memory]storage.Flash
	otp            storage.OTP
	gpio           GPIO
	partitionTable uint32
	productInfo    string
	version        uint16
	versionString  string
	verify         bool
	hello          time.Duration
	timeouts       Timeouts
	clock          protocol.Clock
	runHook        func(RunRequest)
	overrides      map[protocol.Command]Handler

	sohReceived bool
	pendingBaud int
	jumped      bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithScratchSize sets the size of the scratch buffer.
func WithScratchSize(n int) Option {
	return func(e *Engine) { e.scratch = make([]byte, n) }
}

// WithVirtualMask sets the mask selecting the virtual buffer window.
func WithVirtualMask(mask uint32) Option {
	return func(e *Engine) { e.mask = mask }
}

// WithRAM sets the memory behind concrete addresses.
func WithRAM(ram storage.RAM) Option {
	return func(e *Engine) { e.ram = ram }
}

// WithQSPI attaches the QSPI flash.
func WithQSPI(f storage.Flash) Option {
	return func(e *Engine) { e.flash[protocol.MemQSPI] = f }
}

// WithOQSPI attaches the OQSPI flash.
func WithOQSPI(f storage.Flash) Option {
	return func(e *Engine) { e.flash[protocol.MemOQSPI] = f }
}

// WithOTP attaches the OTP.
func WithOTP(o storage.OTP) Option {
	return func(e *Engine) { e.otp = o }
}

// WithGPIO sets the GPIO used by the watchdog command.
func WithGPIO(g GPIO) Option {
	return func(e *Engine) { e.gpio = g }
}

// WithPartitionTableAddress sets where the partition table lives in QSPI flash.
func WithPartitionTableAddress(addr uint32) Option {
	return func(e *Engine) { e.partitionTable = addr }
}

// WithProductInfo sets the text returned by get_product_info.
func WithProductInfo(text string) Option {
	return func(e *Engine) { e.productInfo = text }
}

// WithVersion sets the announced version and the version string.
func WithVersion(v uint16, s string) Option {
	return func(e *Engine) {
		e.version = v
		e.versionString = s
	}
}

// WithVerifyWrites makes copy commands read back what they wrote to flash.
func WithVerifyWrites(verify bool) Option {
	return func(e *Engine) { e.verify = verify }
}

// WithHelloInterval sets how often the agent announces itself while idle.
func WithHelloInterval(d time.Duration) Option {
	return func(e *Engine) { e.hello = d }
}

// WithTimeouts replaces DefaultTimeouts.
func WithTimeouts(t Timeouts) Option {
	return func(e *Engine) { e.timeouts = t }
}

// WithClock sets the clock deadlines are computed from.
func WithClock(c protocol.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithBaudRate sets the speed the port runs at initially.
func WithBaudRate(baud int) Option {
	return func(e *Engine) { e.baud = baud }
}

// WithRunHook is called when the host makes the agent jump. Serve returns
// afterwards.
func WithRunHook(f func(RunRequest)) Option {
	return func(e *Engine) { e.runHook = f }
}

// WithHandler replaces the handler of cmd.
func WithHandler(cmd protocol.Command, h Handler) Option {
	return func(e *Engine) { e.overrides[cmd] = h }
}

// New returns an engine serving port.
func New(port transport.Port, opts ...Option) *Engine {
	e := &Engine{
		port:           port,
		baud:           57600,
		scratch:        make([]byte, DefaultScratchSize),
		mask:           DefaultVirtualMask,
		flash:          make(map[protocol.Memory]storage.Flash),
		gpio:           NewWatchdogPins(DefaultPortPins...),
		partitionTable: DefaultPartitionTableAddress,
		version:        protocol.AgentVersion,
		versionString:  protocol.AgentVersionString,
		hello:          DefaultHelloInterval,
		timeouts:       DefaultTimeouts,
		clock:          protocol.SystemClock,
		runHook:        func(RunRequest) {},
		overrides:      make(map[protocol.Command]Handler),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.conn = protocol.NewConn(port, e.clock)
	return e
}

// Scratch returns the scratch buffer.
func (e *Engine) Scratch() []byte {
	return e.scratch
}

// BaudRate returns the current line speed.
func (e *Engine) BaudRate() int {
	return e.baud
}

type next int

const (
	nextCommand next = iota
	nextHello
)

func isTimeout(err error) bool {
	return errors.Is(err, protocol.ErrNoResponse)
}

// Serve announces the agent and processes commands until ctx is done, the
// port fails or the host makes the agent jump elsewhere.
func (e *Engine) Serve(ctx context.Context) error {
	for {
		if err := e.waitForSOH(ctx); err != nil {
			return err
		}

		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			n, err := e.processCommand()
			if err != nil {
				return err
			}

			if e.jumped {
				return nil
			}

			if n == nextHello {
				break
			}
		}
	}
}

func (e *Engine) sendHello() error {
	v := e.version
	return e.conn.Write([]byte{protocol.STX, protocol.SOH, byte(v >> 8), byte(v)})
}

// waitForSOH announces the agent every hello interval until the host
// answers with SOH.
func (e *Engine) waitForSOH(ctx context.Context) error {
	e.sohReceived = false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := e.sendHello(); err != nil {
			return err
		}

		deadline := e.clock.Now().Add(e.hello)
		for {
			remain := deadline.Sub(e.clock.Now())
			if remain <= 0 {
				break
			}

			c, err := e.conn.ReadChar(remain)
			if isTimeout(err) {
				break
			}
			if err != nil {
				return err
			}

			if c == protocol.SOH {
				e.sohReceived = true
				return nil
			}
		}
	}
}

// processCommand handles one command and tells where to continue.
func (e *Engine) processCommand() (next, error) {
	// the SOH of the first command answers the hello
	hdr := make([]byte, 4)
	skip := 0
	if e.sohReceived {
		hdr[0] = protocol.SOH
		skip = 1
	}
	e.sohReceived = false

	if _, err := e.conn.ReadFull(hdr[skip:], e.timeouts.Command); err != nil {
		if isTimeout(err) {
			return nextHello, nil
		}
		return nextHello, err
	}

	if hdr[0] != protocol.SOH {
		logger.Debugf("agent: lost framing, got 0x%02x", hdr[0])
		return nextHello, nil
	}

	inv := &Invocation{
		Cmd:    protocol.Command(hdr[1]),
		Len:    int(hdr[2]) | int(hdr[3])<<8,
		engine: e,
	}

	log := logger.WithFields(logrus.Fields{"cmd": inv.Cmd, "len": inv.Len})
	log.Debug("agent: command")

	h := e.lookup(inv)
	if h == nil || !h.Handle(StageInit, inv) {
		log.Debug("agent: rejected")
		return nextCommand, e.conn.WriteByte(protocol.NAK)
	}

	if err := e.conn.WriteByte(protocol.ACK); err != nil {
		return nextHello, err
	}

	if inv.Len > 0 {
		n, ok, err := e.loadData(h, inv)
		if err != nil || !ok {
			return n, err
		}
	} else {
		if !h.Handle(StageExec, inv) {
			return nextCommand, e.conn.WriteByte(protocol.NAK)
		}
		if err := e.finishExec(inv); err != nil {
			return nextHello, err
		}
	}

	if e.jumped {
		return nextHello, nil
	}

	return e.sendResponse(h, inv)
}

// lookup finds the handler and fills in the header and payload sizes.
func (e *Engine) lookup(inv *Invocation) Handler {
	size, err := protocol.HeaderSize(inv.Cmd)
	if err != nil || inv.Len < size {
		return nil
	}

	inv.HdrLen = size
	inv.DataLen = inv.Len - size

	// payload is staged in the scratch buffer
	if inv.DataLen > len(e.scratch) {
		return nil
	}

	if h, ok := e.overrides[inv.Cmd]; ok {
		return h
	}
	return e.handler(inv.Cmd)
}

// finishExec acknowledges a successful exec and applies a pending baud rate
// change once the ACK went out at the old speed.
func (e *Engine) finishExec(inv *Invocation) error {
	if !inv.acked {
		if err := e.conn.WriteByte(protocol.ACK); err != nil {
			return err
		}
	}

	if e.pendingBaud != 0 {
		baud := e.pendingBaud
		e.pendingBaud = 0

		if err := e.port.SetBaudRate(baud); err != nil {
			return errors.Wrapf(err, "set baud rate %d", baud)
		}
		e.baud = baud
		logger.Debugf("agent: baud rate %d", baud)
	}

	return nil
}

func (e *Engine) payloadTimeout(n int) time.Duration {
	t := e.timeouts.Payload
	if e.baud > 0 {
		t += time.Duration(int64(n) * 10 * int64(time.Second) / int64(e.baud))
	}
	return t
}

// loadData receives header fields and payload, checks the CRC with the host
// and executes the command. ok is false when processing ended here.
func (e *Engine) loadData(h Handler, inv *Invocation) (next, bool, error) {
	raw := make([]byte, inv.HdrLen)
	if _, err := e.conn.ReadFull(raw, e.timeouts.Header); err != nil {
		return e.abort(err)
	}

	hdr, err := protocol.DecodeHeader(inv.Cmd, raw)
	if err != nil {
		return e.abort(err)
	}
	inv.Header = hdr

	headerOK := h.Handle(StageHeader, inv)

	inv.Payload = make([]byte, inv.DataLen)
	if _, err := e.conn.ReadFull(inv.Payload, e.payloadTimeout(inv.DataLen)); err != nil {
		return e.abort(err)
	}

	crc := protocol.Checksum16(raw, inv.Payload)

	if !headerOK || !h.Handle(StageData, inv) {
		return nextCommand, false, e.conn.WriteByte(protocol.NAK)
	}

	if err := e.conn.Write([]byte{protocol.ACK, byte(crc), byte(crc >> 8)}); err != nil {
		return nextHello, false, err
	}

	c, err := e.conn.ReadChar(e.timeouts.Ack)
	if err != nil {
		return e.abort(err)
	}

	if c != protocol.ACK || !h.Handle(StageExec, inv) {
		return nextCommand, false, e.conn.WriteByte(protocol.NAK)
	}

	if err := e.finishExec(inv); err != nil {
		return nextHello, false, err
	}

	return nextCommand, true, nil
}

// abort ends a command after a failed read. Timeouts go back to announcing
// the agent, other errors end Serve.
func (e *Engine) abort(err error) (next, bool, error) {
	if isTimeout(err) {
		return nextHello, false, nil
	}
	return nextHello, false, err
}

// sendResponse runs the response phase: length, host ACK, data, host CRC.
func (e *Engine) sendResponse(h Handler, inv *Invocation) (next, error) {
	if !h.Handle(StageSendLen, inv) {
		return nextCommand, nil
	}

	n := len(inv.Response)
	if err := e.conn.Write([]byte{byte(n), byte(n >> 8)}); err != nil {
		return nextHello, err
	}

	c, err := e.conn.ReadChar(e.timeouts.Response)
	if err != nil || c != protocol.ACK {
		if err != nil && !isTimeout(err) {
			return nextHello, err
		}
		return nextHello, nil
	}

	if !h.Handle(StageSendData, inv) {
		return nextHello, nil
	}

	if err := e.conn.Write(inv.Response); err != nil {
		return nextHello, err
	}

	var remote [2]byte
	if _, err := e.conn.ReadFull(remote[:], e.timeouts.Response); err != nil {
		if isTimeout(err) {
			return nextHello, nil
		}
		return nextHello, err
	}

	crc := protocol.Checksum16(inv.Response)
	if remote[0] == byte(crc) && remote[1] == byte(crc>>8) {
		return nextCommand, e.conn.WriteByte(protocol.ACK)
	}

	logger.Debugf("agent: %s response CRC mismatch", inv.Cmd)
	return nextCommand, e.conn.WriteByte(protocol.NAK)
}
