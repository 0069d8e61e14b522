package storage

import (
	"sync"

	"github.com/pkg/errors"
)

// RAM is memory addressed by absolute bus addresses.
type RAM interface {
	ReadAt(addr uint32, buf []byte) error
	WriteAt(addr uint32, data []byte) error
}

// MemRAM is a block of RAM mapped at Base.
type MemRAM struct {
	mu   sync.Mutex
	Base uint32
	data []byte
}

// NewMemRAM returns size bytes of zeroed RAM mapped at base.
func NewMemRAM(base uint32, size int) *MemRAM {
	return &MemRAM{Base: base, data: make([]byte, size)}
}

func (r *MemRAM) offset(addr uint32, n int) (uint32, error) {
	if addr < r.Base || uint64(addr-r.Base)+uint64(n) > uint64(len(r.data)) {
		return 0, errors.Wrapf(ErrOutOfRange, "ram 0x%x+0x%x", addr, n)
	}
	return addr - r.Base, nil
}

// Contains reports whether [addr, addr+n) is mapped.
func (r *MemRAM) Contains(addr uint32, n int) bool {
	_, err := r.offset(addr, n)
	return err == nil
}

func (r *MemRAM) ReadAt(addr uint32, buf []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	off, err := r.offset(addr, len(buf))
	if err != nil {
		return err
	}

	copy(buf, r.data[off:])
	return nil
}

func (r *MemRAM) WriteAt(addr uint32, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	off, err := r.offset(addr, len(data))
	if err != nil {
		return err
	}

	copy(r.data[off:], data)
	return nil
}
