package programmer

import (
	"strings"

	"github.com/janch32/uartboot/protocol"
)

// Chip describes the memory map of one supported chip revision.
type Chip struct {
	Name string

	// OTP
	OTPStart     uint32
	OTPSize      uint32
	OTPCellWords int    // 32-bit words per programmable cell
	OTPErased    uint32 // word value of a blank cell

	SysRAMStart uint32
	SysRAMEnd   uint32
	QSPIStart   uint32
	QSPIEnd     uint32

	RAMSize   uint32
	QSPISize  uint32
	OQSPISize uint32

	// VirtualMask selects the window that maps onto the agent scratch buffer.
	VirtualMask uint32

	// RAMAt0Size is the part of the image copied to RAM at address zero.
	RAMAt0Size uint32

	// MaxBootSize is the largest executable the ROM loader accepts.
	MaxBootSize int

	// ChipEraseAddr is the address passed to a QSPI chip erase.
	ChipEraseAddr uint32

	// FlashSectorSize is the erase unit of the external flash. Zero means
	// the usual 4 KiB.
	FlashSectorSize uint32
}

// Supported chip revisions.
var (
	Chip680AH = Chip{
		Name:            "DA14680AH",
		OTPStart:        0x07F80000,
		OTPSize:         64 * 1024,
		OTPCellWords:    2,
		OTPErased:       0,
		SysRAMStart:     0x07FC0000,
		SysRAMEnd:       0x07FE4000,
		QSPIStart:       0x07F80000,
		QSPIEnd:         0xA0000000,
		RAMSize:         144 * 1024,
		QSPISize:        32 * 1024 * 1024,
		VirtualMask:     0xFFFC0000,
		RAMAt0Size:      0x100,
		MaxBootSize:     0x10000,
		ChipEraseAddr:   0,
		FlashSectorSize: 0x1000,
	}

	Chip680BB = Chip{
		Name:            "DA14680BB",
		OTPStart:        0x07F80000,
		OTPSize:         64 * 1024,
		OTPCellWords:    2,
		OTPErased:       0,
		SysRAMStart:     0x07FC0000,
		SysRAMEnd:       0x07FE4000,
		QSPIStart:       0x07F80000,
		QSPIEnd:         0xA0000000,
		RAMSize:         144 * 1024,
		QSPISize:        32 * 1024 * 1024,
		VirtualMask:     0xFFFC0000,
		RAMAt0Size:      0x200,
		MaxBootSize:     0x10000,
		ChipEraseAddr:   0,
		FlashSectorSize: 0x1000,
	}

	Chip690AB = Chip{
		Name:            "DA14690AB",
		OTPStart:        0x10080000,
		OTPSize:         4 * 1024,
		OTPCellWords:    1,
		OTPErased:       0xFFFFFFFF,
		SysRAMStart:     0x20000000,
		SysRAMEnd:       0x20080000,
		QSPIStart:       0x16000000,
		QSPIEnd:         0x18000000,
		RAMSize:         512 * 1024,
		QSPISize:        32 * 1024 * 1024,
		VirtualMask:     0xFFF80000,
		RAMAt0Size:      0x200,
		MaxBootSize:     0x1FFFF,
		ChipEraseAddr:   0,
		FlashSectorSize: 0x1000,
	}

	Chip700AB = Chip{
		Name:            "DA14700AB",
		OTPStart:        0x10080000,
		OTPSize:         4 * 1024,
		OTPCellWords:    1,
		OTPErased:       0xFFFFFFFF,
		SysRAMStart:     0x20000000,
		SysRAMEnd:       0x20180000,
		QSPIStart:       0x18000000,
		QSPIEnd:         0x20000000,
		RAMSize:         1536 * 1024,
		QSPISize:        128 * 1024 * 1024,
		OQSPISize:       128 * 1024 * 1024,
		VirtualMask:     0xFFF00000,
		RAMAt0Size:      0x200,
		MaxBootSize:     0x120000,
		ChipEraseAddr:   0x08000000,
		FlashSectorSize: 0x1000,
	}
)

var chips = []Chip{Chip680AH, Chip680BB, Chip690AB, Chip700AB}

// ChipByName finds a chip by its revision name, with or without the DA1
// prefix: "680BB", "DA14690AB" and "da14700ab" all match.
func ChipByName(name string) (Chip, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, c := range chips {
		if name == c.Name || "DA14"+name == c.Name {
			return c, nil
		}
	}
	return Chip{}, ErrUnknownChip
}

// Chips lists the supported revisions.
func Chips() []Chip {
	return append([]Chip(nil), chips...)
}

var productChips = map[string]Chip{
	"DA14681-01": Chip680AH,
	"DA14680-01": Chip680AH,
	"DA14682-00": Chip680BB,
	"DA14683-00": Chip680BB,
	"DA15000-00": Chip680BB,
	"DA15001-00": Chip680BB,
	"DA15100-00": Chip680BB,
	"DA15101-00": Chip680BB,
	"DA1469x-00": Chip690AB,
	"DA1470x-00": Chip700AB,
}

// ChipByProductID maps the product id reported by the agent to a chip.
func ChipByProductID(id string) (Chip, error) {
	if c, ok := productChips[strings.TrimSpace(id)]; ok {
		return c, nil
	}
	return Chip{}, ErrUnknownProductID
}

func (c Chip) sectorSize() uint32 {
	if c.FlashSectorSize == 0 {
		return protocol.FlashEraseMask + 1
	}
	return c.FlashSectorSize
}

// InSysRAM reports whether addr lies in system RAM.
func (c Chip) InSysRAM(addr uint32) bool {
	return addr >= c.SysRAMStart && addr < c.SysRAMEnd
}

// InQSPI reports whether addr lies in the memory mapped flash.
func (c Chip) InQSPI(addr uint32) bool {
	return addr >= c.QSPIStart && addr < c.QSPIEnd
}

// OTPCells is the number of programmable cells.
func (c Chip) OTPCells() uint32 {
	return c.OTPSize / uint32(4*c.OTPCellWords)
}

// FlashSize returns the size of the flash behind mem.
func (c Chip) FlashSize(mem protocol.Memory) uint32 {
	if mem == protocol.MemOQSPI {
		return c.OQSPISize
	}
	return c.QSPISize
}

func (c Chip) String() string {
	return c.Name
}
