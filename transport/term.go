package transport

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/term"
)

// TermPort is a tty opened in raw mode through pkg/term. It is the fallback
// driver for adapters go-serial does not configure correctly.
type TermPort struct {
	t       *term.Term
	timeout time.Duration
}

// OpenTerm opens name in raw mode at baud with a one second read timeout.
func OpenTerm(name string, baud int) (*TermPort, error) {
	t, err := term.Open(name,
		term.RawMode,
		term.Speed(baud),
		term.ReadTimeout(time.Second),
	)

	if err != nil {
		return nil, errors.Wrapf(err, "open %s", name)
	}

	if err = t.Flush(); err != nil {
		t.Close()
		return nil, errors.Wrapf(err, "flush %s", name)
	}

	return &TermPort{t: t, timeout: time.Second}, nil
}

// Read returns 0, nil when the read timeout expires.
func (p *TermPort) Read(b []byte) (int, error) {
	n, err := p.t.Read(b)
	if n == 0 && err == io.EOF {
		return 0, nil
	}

	return n, err
}

func (p *TermPort) Write(b []byte) (int, error) {
	return p.t.Write(b)
}

// Close restores the tty and closes it.
func (p *TermPort) Close() error {
	p.t.Restore()
	return p.t.Close()
}

// SetReadTimeout sets the tty read timeout.
func (p *TermPort) SetReadTimeout(d time.Duration) error {
	if d == p.timeout {
		return nil
	}

	err := p.t.SetReadTimeout(d)
	if err == nil {
		p.timeout = d
	}

	return err
}

// SetBaudRate changes the tty speed.
func (p *TermPort) SetBaudRate(baud int) error {
	return p.t.SetSpeed(baud)
}

// ResetInputBuffer discards unread input.
func (p *TermPort) ResetInputBuffer() error {
	return p.t.Flush()
}

// PulseReset drives DTR, wired to the chip reset on development kits, for
// the given time.
func (p *TermPort) PulseReset(hold time.Duration) error {
	err := p.t.SetDTR(true)

	time.Sleep(hold)

	if err == nil {
		err = p.t.SetDTR(false)
	}

	return err
}
