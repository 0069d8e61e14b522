package agent

import (
	"github.com/janch32/uartboot/protocol"
	"github.com/janch32/uartboot/storage"
)

// AddressKind tells how an address from a command header is interpreted.
type AddressKind int

const (
	// Concrete is a bus address used as is.
	Concrete AddressKind = iota

	// ScratchWindow is an offset into the scratch buffer of the agent.
	ScratchWindow
)

// Address is a decoded memory reference.
type Address struct {
	Kind  AddressKind
	Value uint32
}

// ParseAddress classifies raw. AddressTmp is the start of the scratch buffer;
// addresses matching the virtual window under mask are offsets into it.
func ParseAddress(raw uint32, mask uint32) Address {
	if raw == protocol.AddressTmp {
		return Address{Kind: ScratchWindow, Value: 0}
	}

	if raw&mask == protocol.VirtualBufAddress {
		return Address{Kind: ScratchWindow, Value: raw &^ mask}
	}

	return Address{Kind: Concrete, Value: raw}
}

// span is a resolved, bounds checked memory range.
type span struct {
	scratch []byte
	ram     storage.RAM
	addr    uint32
	size    int
}

func (s span) inScratch() bool {
	return s.scratch != nil
}

func (s span) read() ([]byte, error) {
	buf := make([]byte, s.size)
	if s.inScratch() {
		copy(buf, s.scratch)
		return buf, nil
	}

	if err := s.ram.ReadAt(s.addr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s span) write(data []byte) error {
	if s.inScratch() {
		copy(s.scratch, data)
		return nil
	}
	return s.ram.WriteAt(s.addr, data)
}

// resolve checks that size bytes at a are accessible and returns the range.
// Concrete addresses are not checked here, the memory behind them reports
// bad accesses itself.
func (e *Engine) resolve(a Address, size int) (span, bool) {
	if a.Kind == ScratchWindow {
		if uint64(a.Value)+uint64(size) > uint64(len(e.scratch)) {
			return span{}, false
		}
		return span{scratch: e.scratch[a.Value : int(a.Value)+size], size: size}, true
	}

	if e.ram == nil {
		return span{}, false
	}

	return span{ram: e.ram, addr: a.Value, size: size}, true
}

func (e *Engine) resolveRaw(raw uint32, size int) (span, bool) {
	return e.resolve(ParseAddress(raw, e.mask), size)
}
