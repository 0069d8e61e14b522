// Package storage models the raw memories the agent programs: external NOR
// flash, OTP and RAM, together with the algorithms that write them safely.
package storage

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrOutOfRange is returned for accesses outside of a memory.
	ErrOutOfRange = errors.New("address out of range")

	// ErrVerify is returned when read back data differs from what was written.
	ErrVerify = errors.New("verify failed")
)

// Flash is a NOR flash. Programming can only clear bits; setting them needs
// an erase of the whole sector.
type Flash interface {
	Size() uint32
	SectorSize() uint32
	Read(addr uint32, buf []byte) error
	Write(addr uint32, data []byte) error
	EraseRegion(addr uint32, size uint32) error
	ChipErase() error

	// UpdatePossible returns the offset of the first byte of data that differs
	// from flash contents when data can be programmed without erasing, or -1
	// when an erase is needed. len(data) means nothing has to be written.
	UpdatePossible(addr uint32, data []byte) int
}

// FlashInfo identifies the flash device.
type FlashInfo struct {
	Configured   bool
	Manufacturer byte
	Type         byte
	Density      byte
}

// Identifier is implemented by flashes that know their JEDEC identification.
type Identifier interface {
	Info() FlashInfo
}

// UpdatePossible implements Flash.UpdatePossible for a flash whose current
// contents are old.
func UpdatePossible(old, data []byte) int {
	i := 0
	for i < len(data) && old[i] == data[i] {
		i++
	}

	same := i
	for ; i < len(data); i++ {
		if old[i]&data[i] != data[i] {
			return -1
		}
	}

	return same
}

// trimErased returns the span of b that is not 0xFF.
func trimErased(b []byte) (int, int) {
	start := 0
	for start < len(b) && b[start] == 0xFF {
		start++
	}

	end := len(b)
	for end > start && b[end-1] == 0xFF {
		end--
	}

	return start, end
}

// SafeWrite writes data to f at addr touching as few sectors as possible.
//
// Every sector is handled on its own: identical data is skipped, data that
// only clears bits is programmed in place, a fully covered sector is erased
// and written, anything else is merged with the old sector contents first.
// A sector is always completed before the next one is started.
func SafeWrite(f Flash, addr uint32, data []byte) error {
	if uint64(addr)+uint64(len(data)) > uint64(f.Size()) {
		return errors.Wrapf(ErrOutOfRange, "write 0x%x+0x%x", addr, len(data))
	}

	sectorSize := f.SectorSize()
	var sector []byte

	for len(data) > 0 {
		sectorStart := addr &^ (sectorSize - 1)
		sectorOffset := addr - sectorStart

		chunk := sectorSize - sectorOffset
		if chunk > uint32(len(data)) {
			chunk = uint32(len(data))
		}
		buf := data[:chunk]

		log := logger.WithFields(logrus.Fields{"addr": addr, "len": chunk})

		off := f.UpdatePossible(addr, buf)
		switch {
		case off == int(chunk):
			log.Debug("flash: same data")

		case off >= 0:
			log.Debug("flash: update in place")
			if err := f.Write(addr+uint32(off), buf[off:]); err != nil {
				return err
			}

		case addr == sectorStart && chunk == sectorSize:
			log.Debug("flash: rewrite sector")
			if err := f.EraseRegion(sectorStart, sectorSize); err != nil {
				return err
			}
			if err := f.Write(addr, buf); err != nil {
				return err
			}

		default:
			log.Debug("flash: merge sector")
			if sector == nil {
				sector = make([]byte, sectorSize)
			}
			if err := f.Read(sectorStart, sector); err != nil {
				return err
			}
			copy(sector[sectorOffset:], buf)

			if err := f.EraseRegion(sectorStart, sectorSize); err != nil {
				return err
			}

			// erased bytes need no programming
			start, end := trimErased(sector)
			if start < end {
				if err := f.Write(sectorStart+uint32(start), sector[start:end]); err != nil {
					return err
				}
			}
		}

		addr += chunk
		data = data[chunk:]
	}

	return nil
}

// Verify reads len(data) bytes at addr back and compares them with data.
func Verify(f Flash, addr uint32, data []byte) error {
	buf := make([]byte, len(data))
	if err := f.Read(addr, buf); err != nil {
		return err
	}

	if !bytes.Equal(buf, data) {
		return errors.Wrapf(ErrVerify, "flash 0x%x+0x%x", addr, len(data))
	}

	return nil
}
