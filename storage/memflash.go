package storage

import (
	"sync"

	"github.com/boljen/go-bitmap"
	"github.com/pkg/errors"
)

// OpKind tells what a recorded flash operation did.
type OpKind int

const (
	OpErase OpKind = iota
	OpWrite
)

// Op is one erase or write issued to a MemFlash.
type Op struct {
	Kind OpKind
	Addr uint32
	Len  uint32
}

// MemFlash is a NOR flash kept in memory. It records the erase and write
// operations it receives so callers can check how a write was carried out.
type MemFlash struct {
	mu         sync.Mutex
	data       []byte
	sectorSize uint32
	programmed bitmap.Bitmap
	info       FlashInfo
	ops        []Op
}

// NewMemFlash returns an erased flash of size bytes. sectorSize must be a
// power of two dividing size.
func NewMemFlash(size, sectorSize uint32) *MemFlash {
	f := &MemFlash{
		data:       make([]byte, size),
		sectorSize: sectorSize,
		programmed: bitmap.New(int(size / sectorSize)),
		info: FlashInfo{
			Configured:   true,
			Manufacturer: 0xC2,
			Type:         0x25,
			Density:      0x36,
		},
	}

	for i := range f.data {
		f.data[i] = 0xFF
	}

	return f
}

func (f *MemFlash) check(addr uint32, n int) error {
	if uint64(addr)+uint64(n) > uint64(len(f.data)) {
		return errors.Wrapf(ErrOutOfRange, "flash 0x%x+0x%x", addr, n)
	}
	return nil
}

// Size returns the capacity in bytes.
func (f *MemFlash) Size() uint32 {
	return uint32(len(f.data))
}

// SectorSize returns the erase granularity.
func (f *MemFlash) SectorSize() uint32 {
	return f.sectorSize
}

// Info returns the identification reported for the device.
func (f *MemFlash) Info() FlashInfo {
	return f.info
}

// SetInfo changes the identification.
func (f *MemFlash) SetInfo(info FlashInfo) {
	f.info = info
}

func (f *MemFlash) Read(addr uint32, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(addr, len(buf)); err != nil {
		return err
	}

	copy(buf, f.data[addr:])
	return nil
}

// Write programs data at addr. Bits can only be cleared.
func (f *MemFlash) Write(addr uint32, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(addr, len(data)); err != nil {
		return err
	}

	for i, b := range data {
		f.data[addr+uint32(i)] &= b
	}

	if len(data) > 0 {
		first := int(addr / f.sectorSize)
		last := int((addr + uint32(len(data)) - 1) / f.sectorSize)
		for s := first; s <= last; s++ {
			f.programmed.Set(s, true)
		}
	}

	f.ops = append(f.ops, Op{Kind: OpWrite, Addr: addr, Len: uint32(len(data))})
	return nil
}

// EraseRegion erases every sector touched by [addr, addr+size).
func (f *MemFlash) EraseRegion(addr uint32, size uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(addr, int(size)); err != nil {
		return err
	}

	start := addr &^ (f.sectorSize - 1)
	end := addr + size
	for s := start; s < end; s += f.sectorSize {
		f.eraseSector(s)
	}

	f.ops = append(f.ops, Op{Kind: OpErase, Addr: start, Len: end - start})
	return nil
}

func (f *MemFlash) eraseSector(addr uint32) {
	idx := int(addr / f.sectorSize)
	if f.programmed.Get(idx) {
		sector := f.data[addr : addr+f.sectorSize]
		for i := range sector {
			sector[i] = 0xFF
		}
		f.programmed.Set(idx, false)
	}
}

// ChipErase erases the whole device.
func (f *MemFlash) ChipErase() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for s := uint32(0); s < uint32(len(f.data)); s += f.sectorSize {
		f.eraseSector(s)
	}

	f.ops = append(f.ops, Op{Kind: OpErase, Addr: 0, Len: uint32(len(f.data))})
	return nil
}

// UpdatePossible reports whether data can be programmed at addr without erase.
func (f *MemFlash) UpdatePossible(addr uint32, data []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.check(addr, len(data)) != nil {
		return -1
	}

	return UpdatePossible(f.data[addr:], data)
}

// Programmed reports whether the sector containing addr was written since
// its last erase.
func (f *MemFlash) Programmed(addr uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.programmed.Get(int(addr / f.sectorSize))
}

// Ops returns the operations issued so far.
func (f *MemFlash) Ops() []Op {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Op(nil), f.ops...)
}

// ResetOps forgets the recorded operations.
func (f *MemFlash) ResetOps() {
	f.mu.Lock()
	f.ops = nil
	f.mu.Unlock()
}

// Count returns how many operations of kind were issued.
func (f *MemFlash) Count(kind OpKind) int {
	n := 0
	for _, op := range f.Ops() {
		if op.Kind == kind {
			n++
		}
	}
	return n
}
