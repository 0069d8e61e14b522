// Package programmer drives a device over the UART boot protocol: it uploads
// the agent to the ROM loader, keeps the session with it and turns file sized
// requests into chunked, retried and verified commands.
package programmer

import (
	"context"
	"time"

	"github.com/janch32/uartboot/protocol"
	"github.com/janch32/uartboot/transport"
	"github.com/pkg/errors"
)

// State is the stage of the session with the device.
type State int

const (
	StateDisconnected State = iota
	StateAwaitingHandshake
	StateRomLoader
	StateAgent
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAwaitingHandshake:
		return "awaiting handshake"
	case StateRomLoader:
		return "rom loader"
	case StateAgent:
		return "agent"
	case StateReady:
		return "ready"
	}
	return "invalid"
}

// ErrNotReady is returned by commands issued before Connect succeeded.
var ErrNotReady = errors.New("programmer not connected")

// Programmer is the host side of a session with one device.
type Programmer struct {
	port    transport.Port
	link    *protocol.Link
	cfg     config
	state   State
	version uint16
}

// New returns a programmer talking over port. The port is expected to run at
// the initial baud rate.
func New(port transport.Port, opts ...Option) *Programmer {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Programmer{
		port: port,
		link: protocol.NewLink(port, cfg.initialBaud),
		cfg:  cfg,
	}
}

// State returns the stage of the session.
func (p *Programmer) State() State {
	return p.state
}

// Chip returns the memory map the programmer works with.
func (p *Programmer) Chip() Chip {
	return p.cfg.chip
}

// SetChip replaces the memory map, typically after asking the device for its
// product id.
func (p *Programmer) SetChip(c Chip) {
	p.cfg.chip = c
}

// AgentVersion returns the version the agent announced.
func (p *Programmer) AgentVersion() uint16 {
	return p.version
}

// Link exposes the underlying message exchange.
func (p *Programmer) Link() *protocol.Link {
	return p.link
}

func (p *Programmer) setState(s State) {
	if p.state != s {
		logger.Debugf("programmer: %v -> %v", p.state, s)
	}
	p.state = s
}

func (p *Programmer) ready() error {
	if p.state != StateReady {
		return errors.Wrapf(ErrNotReady, "state %v", p.state)
	}
	return nil
}

// Connect waits for the device to announce itself. When only the ROM loader
// answers, the agent image is uploaded first. Missed announcements are not
// fatal: the wait goes on until ctx is done.
func (p *Programmer) Connect(ctx context.Context) error {
	p.setState(StateAwaitingHandshake)

	for {
		if err := ctx.Err(); err != nil {
			p.setState(StateDisconnected)
			return err
		}

		v, err := p.link.ReadBootStage(p.cfg.handshakeTimeout)
		if errors.Is(err, protocol.ErrUnsupportedVersion) {
			p.setState(StateDisconnected)
			return err
		}
		if err != nil {
			p.askForReset()
			continue
		}

		if v == 0 {
			p.setState(StateRomLoader)
			if err := p.UploadAgent(ctx); err != nil {
				p.setState(StateDisconnected)
				return err
			}

			v, err = p.link.ReadBootStage(p.cfg.handshakeTimeout)
			if err == nil && v == 0 {
				err = protocol.ErrUnsupportedVersion
			}
			if err != nil {
				p.setState(StateDisconnected)
				return err
			}
		}

		p.version = v
		break
	}

	p.setState(StateAgent)
	logger.Infof("Agent version 0x%04x answered.", p.version)

	if p.cfg.baud > 0 && p.cfg.baud != p.link.BaudRate() {
		if err := p.changeBaudRate(p.cfg.baud); err != nil {
			p.setState(StateDisconnected)
			return err
		}
	}

	p.setState(StateReady)
	return nil
}

// UploadAgent uploads the configured agent image to the ROM loader.
func (p *Programmer) UploadAgent(ctx context.Context) error {
	if len(p.cfg.agentImage) == 0 {
		return errors.Wrap(ErrInvalidArgument, "no agent image")
	}
	logger.Info("Uploading boot loader.")
	return p.uploadExecutable(ctx, p.cfg.agentImage)
}

// Boot uploads an application straight to the ROM loader, without the agent.
func (p *Programmer) Boot(ctx context.Context, image []byte) error {
	if len(image) == 0 {
		return ErrFileEmpty
	}
	if len(image) > p.cfg.chip.MaxBootSize {
		return errors.Wrapf(ErrFileTooBig, "%d bytes, %v takes at most %d", len(image), p.cfg.chip, p.cfg.chip.MaxBootSize)
	}

	logger.Info("Uploading application.")
	err := p.uploadExecutable(ctx, image)
	p.setState(StateDisconnected)
	return err
}

// romWaiting reports whether the ROM loader is the one asking.
func (p *Programmer) romWaiting(timeout time.Duration) bool {
	v, err := p.link.ReadBootStage(timeout)
	return err == nil && v == 0
}

// resetter is a port that can reset the board by itself.
type resetter interface {
	PulseReset(hold time.Duration) error
}

const resetPulse = 50 * time.Millisecond

func (p *Programmer) askForReset() {
	if r, ok := p.port.(resetter); ok && p.cfg.autoReset {
		if err := r.PulseReset(resetPulse); err == nil {
			logger.Info("Board reset.")
			return
		}
	}
	logger.Info("Press RESET.")
}

func (p *Programmer) waitForRom(ctx context.Context) error {
	p.askForReset()

	deadline := time.Now().Add(p.cfg.resetTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.romWaiting(time.Until(deadline)) {
			return nil
		}
	}

	return protocol.ErrNoResponse
}

// uploadExecutable sends code to the ROM loader at the initial baud rate. An
// upload that fails on the checksum is repeated.
func (p *Programmer) uploadExecutable(ctx context.Context, code []byte) error {
	prev := p.link.BaudRate()
	if prev != p.cfg.initialBaud {
		if err := p.link.SetBaudRate(p.cfg.initialBaud); err != nil {
			return err
		}
		defer p.link.SetBaudRate(prev)
	}

	var err error
	for attempt := 1; attempt <= p.cfg.uploadAttempts; attempt++ {
		if !p.romWaiting(p.cfg.handshakeTimeout) {
			if err := p.waitForRom(ctx); err != nil {
				return err
			}
		}

		err = p.link.SendRawCode(code)
		if !errors.Is(err, protocol.ErrChecksumMismatch) {
			break
		}
		logger.Warnf("Upload attempt %d failed: %v", attempt, err)
	}

	return err
}

// ChangeBaudRate switches both ends of the line to baud.
func (p *Programmer) ChangeBaudRate(baud int) error {
	if err := p.ready(); err != nil {
		return err
	}
	return p.changeBaudRate(baud)
}

func (p *Programmer) changeBaudRate(baud int) error {
	if baud <= 0 {
		return errors.Wrapf(ErrInvalidArgument, "baud rate %d", baud)
	}

	if err := p.link.Execute(protocol.ChangeBaudrateHeader{Baud: uint32(baud)}, protocol.ExecAckTimeout); err != nil {
		return errors.Wrapf(err, "change baud rate to %d", baud)
	}

	logger.Debugf("programmer: switching to %d baud", baud)
	return p.link.SetBaudRate(baud)
}

// Run loads image into the agent scratch buffer and starts it. The session
// ends: the agent does not come back.
func (p *Programmer) Run(image []byte) error {
	if len(image) == 0 {
		return ErrFileEmpty
	}
	if err := p.WriteRAM(protocol.VirtualBufAddress, image); err != nil {
		return err
	}
	if err := p.link.Execute(protocol.RunHeader{Addr: protocol.VirtualBufAddress}, protocol.ShortExecTimeout); err != nil {
		return errors.Wrap(err, "run")
	}

	p.setState(StateDisconnected)
	return nil
}

// Close ends the session and releases the port.
func (p *Programmer) Close() error {
	p.setState(StateDisconnected)
	return p.port.Close()
}
