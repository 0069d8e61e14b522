package main

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/janch32/uartboot/discover"
	"github.com/janch32/uartboot/memory"
	"github.com/janch32/uartboot/programmer"
	"github.com/janch32/uartboot/protocol"
	"github.com/janch32/uartboot/transport"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
)

// barProgress shows transfers on a progress bar.
type barProgress struct {
	bar *progressbar.ProgressBar
}

func (b *barProgress) Start(op string, total int) {
	b.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription(op),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
}

func (b *barProgress) Add(n int) {
	if b.bar != nil {
		b.bar.Add(n)
	}
}

func (b *barProgress) Done() {
	if b.bar != nil {
		b.bar.Finish()
		b.bar = nil
	}
}

func portName() (string, error) {
	if flagPort != "" {
		return flagPort, nil
	}

	dev, err := discover.FirstDevice(flagInitialBaud, flagTimeout)
	if err != nil {
		return "", err
	}

	logger.Infof("Found %s on %s", dev.Stage(), dev.Port)
	return dev.Port, nil
}

func sessionOptions() ([]programmer.Option, error) {
	chip, err := programmer.ChipByName(flagChip)
	if err != nil {
		return nil, err
	}

	opts := []programmer.Option{
		programmer.WithChip(chip),
		programmer.WithInitialBaudRate(flagInitialBaud),
		programmer.WithBaudRate(flagBaud),
		programmer.WithHandshakeTimeout(flagTimeout),
		programmer.WithWriteChunkSize(flagWriteChunk),
		programmer.WithReadChunkSize(flagReadChunk),
		programmer.WithRetries(flagRetries),
		programmer.WithTransferRetries(flagTransferRetries),
		programmer.WithAutoReset(flagAutoReset),
	}

	if !flagNoProgress {
		opts = append(opts, programmer.WithProgress(&barProgress{}))
	}

	if flagAgent != "" {
		mem, err := memory.Load(flagAgent, 0)
		if err != nil {
			return nil, err
		}
		_, image := mem.Image()
		opts = append(opts, programmer.WithAgentImage(image))
	}

	return opts, nil
}

// openProgrammer opens the port without talking to the board.
func openProgrammer(extra ...programmer.Option) (*programmer.Programmer, error) {
	name, err := portName()
	if err != nil {
		return nil, err
	}

	opts, err := sessionOptions()
	if err != nil {
		return nil, err
	}

	port, err := transport.Open(flagDriver, name, flagInitialBaud)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", name)
	}

	return programmer.New(port, append(opts, extra...)...), nil
}

// session opens the port and connects to the agent, uploading it when only
// the ROM loader answers.
func session(ctx context.Context, extra ...programmer.Option) (*programmer.Programmer, error) {
	p, err := openProgrammer(extra...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, flagTimeout+programmer.DefaultResetTimeout)
	defer cancel()

	if err := p.Connect(ctx); err != nil {
		p.Close()
		return nil, err
	}

	logger.Infof("Connected to agent 0x%04x", p.AgentVersion())
	return p, nil
}

// withSession runs f on a connected programmer and closes it afterwards.
func withSession(ctx context.Context, f func(p *programmer.Programmer) error, extra ...programmer.Option) error {
	p, err := session(ctx, extra...)
	if err != nil {
		return err
	}
	defer p.Close()

	return f(p)
}

func parseUint(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "bad number %q", s)
	}
	return uint32(v), nil
}

func parseMemory(s string) (protocol.Memory, error) {
	switch strings.ToLower(s) {
	case "qspi":
		return protocol.MemQSPI, nil
	case "oqspi":
		return protocol.MemOQSPI, nil
	}
	return 0, errors.Errorf("unknown memory %q, use qspi or oqspi", s)
}

// loadFile reads a firmware file. Binary files are placed at base, hex files
// carry their own addresses.
func loadFile(path string, base uint32) (*memory.Memory, error) {
	mem, err := memory.Load(path, base)
	if err != nil {
		return nil, err
	}

	if start, end := mem.Span(); start == end {
		return nil, errors.Errorf("%s is empty", path)
	}
	return mem, nil
}
