package transport

import (
	"io"
	"sync"
	"time"
)

type pipeBuffer struct {
	mu     sync.Mutex
	data   []byte
	closed bool
	notify chan struct{}
}

func newPipeBuffer() *pipeBuffer {
	return &pipeBuffer{notify: make(chan struct{}, 1)}
}

func (b *pipeBuffer) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *pipeBuffer) write(p []byte) (int, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	b.data = append(b.data, p...)
	b.mu.Unlock()

	b.wake()
	return len(p), nil
}

func (b *pipeBuffer) read(p []byte, timeout time.Duration) (int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		b.mu.Lock()
		if len(b.data) > 0 {
			n := copy(p, b.data)
			b.data = b.data[n:]
			if len(b.data) > 0 {
				b.wake()
			}
			b.mu.Unlock()
			return n, nil
		}
		if b.closed {
			b.mu.Unlock()
			return 0, io.EOF
		}
		b.mu.Unlock()

		select {
		case <-b.notify:
		case <-timer.C:
			return 0, nil
		}
	}
}

func (b *pipeBuffer) reset() {
	b.mu.Lock()
	b.data = nil
	b.mu.Unlock()
}

func (b *pipeBuffer) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.wake()
}

// PipeEnd is one side of an in-memory serial link.
type PipeEnd struct {
	rx *pipeBuffer
	tx *pipeBuffer

	mu      sync.Mutex
	timeout time.Duration
	baud    int
	filter  func([]byte) []byte
}

// Pipe returns both ends of an in-memory link. Everything written to one end
// can be read from the other. Both ends start at 57600 baud with a one second
// read timeout.
func Pipe() (*PipeEnd, *PipeEnd) {
	ab := newPipeBuffer()
	ba := newPipeBuffer()

	a := &PipeEnd{rx: ba, tx: ab, timeout: time.Second, baud: 57600}
	b := &PipeEnd{rx: ab, tx: ba, timeout: time.Second, baud: 57600}

	return a, b
}

func (p *PipeEnd) Read(b []byte) (int, error) {
	p.mu.Lock()
	timeout := p.timeout
	p.mu.Unlock()

	return p.rx.read(b, timeout)
}

func (p *PipeEnd) Write(b []byte) (int, error) {
	p.mu.Lock()
	filter := p.filter
	p.mu.Unlock()

	n := len(b)
	if filter != nil {
		b = filter(append([]byte(nil), b...))
	}

	if _, err := p.tx.write(b); err != nil {
		return 0, err
	}

	return n, nil
}

// Close closes both directions. The peer reads io.EOF once drained.
func (p *PipeEnd) Close() error {
	p.tx.close()
	p.rx.close()
	return nil
}

// SetReadTimeout sets the wait of a single Read.
func (p *PipeEnd) SetReadTimeout(d time.Duration) error {
	p.mu.Lock()
	p.timeout = d
	p.mu.Unlock()
	return nil
}

// SetBaudRate records the line speed. The pipe itself is speed agnostic.
func (p *PipeEnd) SetBaudRate(baud int) error {
	p.mu.Lock()
	p.baud = baud
	p.mu.Unlock()
	return nil
}

// BaudRate returns the last speed set on this end.
func (p *PipeEnd) BaudRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baud
}

// ResetInputBuffer drops unread input.
func (p *PipeEnd) ResetInputBuffer() error {
	p.rx.reset()
	return nil
}

// SetWriteFilter installs a function that may rewrite every outgoing write.
// Tests use it to inject line noise.
func (p *PipeEnd) SetWriteFilter(f func([]byte) []byte) {
	p.mu.Lock()
	p.filter = f
	p.mu.Unlock()
}
