package programmer

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/janch32/uartboot/agent"
	"github.com/janch32/uartboot/protocol"
	"github.com/janch32/uartboot/storage"
	"github.com/janch32/uartboot/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTableAddr = 0x3F000

// board is the device side of a test session.
type board struct {
	chip Chip
	qspi *storage.MemFlash
	otp  *storage.MemOTP
	host *transport.PipeEnd
	runs chan agent.RunRequest
}

func newBoard(chip Chip) *board {
	return &board{
		chip: chip,
		qspi: storage.NewMemFlash(0x40000, 0x1000),
		otp:  storage.NewMemOTP(chip.OTPCells(), chip.OTPCellWords, chip.OTPErased),
		runs: make(chan agent.RunRequest, 1),
	}
}

// start runs an agent for b and connects a programmer to it.
func (b *board) start(t *testing.T, opts []Option, aopts ...agent.Option) *Programmer {
	host, dev := transport.Pipe()
	b.host = host

	base := []agent.Option{
		agent.WithQSPI(b.qspi),
		agent.WithOTP(b.otp),
		agent.WithVirtualMask(b.chip.VirtualMask),
		agent.WithPartitionTableAddress(testTableAddr),
		agent.WithRunHook(func(r agent.RunRequest) { b.runs <- r }),
	}
	e := agent.New(dev, append(base, aopts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		host.Close()
		<-done
	})

	p := New(host, append([]Option{WithChip(b.chip)}, opts...)...)

	cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ccancel()
	require.NoError(t, p.Connect(cctx))

	return p
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestConnectToRunningAgent(t *testing.T) {
	p := newBoard(Chip690AB).start(t, nil)

	assert.Equal(t, StateReady, p.State())
	assert.Equal(t, protocol.AgentVersion, p.AgentVersion())

	v, err := p.GetVersion()
	require.NoError(t, err)
	assert.Equal(t, protocol.AgentVersionString, v)
}

func TestConnectRejectsVersionZero(t *testing.T) {
	host, dev := transport.Pipe()
	e := agent.New(dev, agent.WithVersion(0, ""))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx) }()
	defer func() {
		cancel()
		host.Close()
		<-done
	}()

	p := New(host)
	cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ccancel()

	err := p.Connect(cctx)
	assert.ErrorIs(t, err, protocol.ErrUnsupportedVersion)
	assert.Equal(t, StateDisconnected, p.State())
}

func TestConnectGivesUpWithContext(t *testing.T) {
	host, _ := transport.Pipe()
	p := New(host, WithHandshakeTimeout(50*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, p.Connect(ctx), context.DeadlineExceeded)
	assert.Equal(t, StateDisconnected, p.State())
}

// romThenAgent emulates a chip that runs the ROM loader until it receives
// code and then the agent.
func romThenAgent(t *testing.T, dev *transport.PipeEnd, host *transport.PipeEnd, startAgent bool) <-chan []byte {
	got := make(chan []byte, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		code, err := agent.NewRomLoader(dev, agent.DefaultRomInterval).WaitForCode(ctx)
		if err != nil {
			done <- err
			return
		}
		got <- code

		if !startAgent {
			done <- nil
			return
		}
		done <- agent.New(dev).Serve(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		host.Close()
		<-done
	})

	return got
}

func TestConnectUploadsAgent(t *testing.T) {
	host, dev := transport.Pipe()
	image := bytes.Repeat([]byte{0xA5, 0x5A, 0x00, 0x01}, 0x100)
	got := romThenAgent(t, dev, host, true)

	p := New(host, WithAgentImage(image))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, p.Connect(ctx))
	assert.Equal(t, image, <-got)
	assert.Equal(t, StateReady, p.State())
	assert.Equal(t, protocol.AgentVersion, p.AgentVersion())
}

func TestConnectWithoutAgentImage(t *testing.T) {
	host, dev := transport.Pipe()
	romThenAgent(t, dev, host, false)

	p := New(host)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.ErrorIs(t, p.Connect(ctx), ErrInvalidArgument)
}

func TestBootApplication(t *testing.T) {
	host, dev := transport.Pipe()
	image := pattern(0x800)
	got := romThenAgent(t, dev, host, false)

	p := New(host, WithChip(Chip680BB))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, p.Boot(ctx, image))
	assert.Equal(t, image, <-got)
}

func TestBootChecksSize(t *testing.T) {
	host, _ := transport.Pipe()
	p := New(host, WithChip(Chip680BB))

	assert.ErrorIs(t, p.Boot(context.Background(), nil), ErrFileEmpty)
	assert.ErrorIs(t, p.Boot(context.Background(), make([]byte, 0x10001)), ErrFileTooBig)
}

func TestCommandsNeedSession(t *testing.T) {
	host, _ := transport.Pipe()
	p := New(host)

	assert.ErrorIs(t, p.WriteRAM(0, []byte{1}), ErrNotReady)
	_, err := p.ReadFlash(protocol.MemQSPI, 0, 4)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, p.WriteOTP(0, []uint32{1}), ErrNotReady)
}

func TestChangeBaudRate(t *testing.T) {
	b := newBoard(Chip690AB)
	p := b.start(t, nil)

	require.NoError(t, p.ChangeBaudRate(115200))
	assert.Equal(t, 115200, b.host.BaudRate())
	assert.Equal(t, 115200, p.Link().BaudRate())

	_, err := p.GetVersion()
	assert.NoError(t, err)

	assert.Error(t, p.ChangeBaudRate(12345))
}

func TestConnectSwitchesBaudRate(t *testing.T) {
	b := newBoard(Chip690AB)
	p := b.start(t, []Option{WithBaudRate(230400)})

	assert.Equal(t, 230400, p.Link().BaudRate())
	assert.Equal(t, StateReady, p.State())
}

func TestDetectChip(t *testing.T) {
	b := newBoard(Chip690AB)
	p := b.start(t, nil, agent.WithProductInfo("DA1470x-00\nrev AB"))

	info, err := p.ProductInfo()
	require.NoError(t, err)
	assert.Equal(t, "DA1470x-00\nrev AB", info)

	chip, err := p.DetectChip()
	require.NoError(t, err)
	assert.Equal(t, Chip700AB, chip)
	assert.Equal(t, Chip700AB, p.Chip())
}

func TestRunImage(t *testing.T) {
	b := newBoard(Chip690AB)
	p := b.start(t, nil)

	image := pattern(0x300)
	require.NoError(t, p.Run(image))

	req := <-b.runs
	assert.Equal(t, protocol.VirtualBufAddress, req.Addr)
	assert.True(t, req.Reboot)
	assert.Equal(t, image, req.Image[:len(image)])
	assert.Equal(t, StateDisconnected, p.State())
}

func TestGPIOWatchdogArguments(t *testing.T) {
	p := newBoard(Chip690AB).start(t, nil)

	assert.NoError(t, p.GPIOWatchdog(0, 21, false))
	assert.ErrorIs(t, p.GPIOWatchdog(0, 40, false), ErrInvalidArgument)
	assert.ErrorIs(t, p.MassEraseEFlash(), ErrCmdUnsupported)
}

// resettablePort starts the board on the first reset pulse.
type resettablePort struct {
	*transport.PipeEnd
	reset chan struct{}
}

func (r *resettablePort) PulseReset(time.Duration) error {
	select {
	case r.reset <- struct{}{}:
	default:
	}
	return nil
}

func TestConnectResetsBoard(t *testing.T) {
	host, dev := transport.Pipe()
	port := &resettablePort{PipeEnd: host, reset: make(chan struct{}, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		select {
		case <-port.reset:
			done <- agent.New(dev).Serve(ctx)
		case <-ctx.Done():
			done <- ctx.Err()
		}
	}()
	defer func() {
		cancel()
		host.Close()
		<-done
	}()

	p := New(port, WithAutoReset(true), WithHandshakeTimeout(100*time.Millisecond))
	cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ccancel()

	require.NoError(t, p.Connect(cctx))
	assert.Equal(t, StateReady, p.State())
}
