package programmer

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/janch32/uartboot/protocol"
	"github.com/janch32/uartboot/storage"
	"github.com/pkg/errors"
)

// GetVersion asks the agent for its version string.
func (p *Programmer) GetVersion() (string, error) {
	if err := p.ready(); err != nil {
		return "", err
	}

	resp, err := p.link.QueryDynamic(protocol.EmptyHeader{Cmd: protocol.CmdGetVersion}, protocol.ExecAckTimeout)
	if err != nil {
		return "", errors.Wrap(err, "get version")
	}
	return string(bytes.TrimRight(resp, "\x00")), nil
}

// ProductInfo returns the identification text of the device.
func (p *Programmer) ProductInfo() (string, error) {
	if err := p.ready(); err != nil {
		return "", err
	}

	resp, err := p.link.QueryDynamic(protocol.EmptyHeader{Cmd: protocol.CmdGetProductInfo}, protocol.ExecAckTimeout)
	if err != nil {
		return "", errors.Wrap(err, "get product info")
	}
	if len(resp) < 2 || int(binary.LittleEndian.Uint16(resp)) != len(resp) {
		return "", errors.Wrap(protocol.ErrInvalidResponse, "product info length")
	}

	return string(bytes.TrimRight(resp[2:], "\x00")), nil
}

// DetectChip reads the product id of the device and selects the matching
// memory map.
func (p *Programmer) DetectChip() (Chip, error) {
	info, err := p.ProductInfo()
	if err != nil {
		return Chip{}, err
	}

	id := info
	if i := strings.IndexByte(id, '\n'); i >= 0 {
		id = id[:i]
	}

	chip, err := ChipByProductID(id)
	if err != nil {
		return Chip{}, errors.Wrapf(err, "%q", id)
	}

	p.SetChip(chip)
	return chip, nil
}

// Erase erases size bytes of flash at addr, rounded out to whole sectors by
// the device.
func (p *Programmer) Erase(mem protocol.Memory, addr, size uint32) error {
	if err := p.ready(); err != nil {
		return err
	}
	if size == 0 {
		return errors.Wrap(ErrInvalidArgument, "erase of zero bytes")
	}
	if err := p.checkFlashRange(mem, addr, int(size)); err != nil {
		return err
	}

	logger.Infof("Erasing %v 0x%x-0x%x.", mem, addr, addr+size)
	err := p.link.Execute(protocol.EraseHeader{Mem: mem, Addr: addr, Len: size}, protocol.EraseTimeout(size))
	return errors.Wrapf(err, "erase %v 0x%x+0x%x", mem, addr, size)
}

// ChipErase erases the whole flash.
func (p *Programmer) ChipErase(mem protocol.Memory) error {
	if err := p.ready(); err != nil {
		return err
	}

	timeout := protocol.ChipEraseTimeout
	addr := p.cfg.chip.ChipEraseAddr
	if mem == protocol.MemOQSPI {
		timeout = protocol.OChipEraseTimeout
		addr = 0
	}

	logger.Infof("Erasing whole %v.", mem)
	err := p.link.Execute(protocol.ChipEraseHeader{Mem: mem, Addr: addr}, timeout)
	return errors.Wrapf(err, "chip erase %v", mem)
}

// IsEmpty checks size bytes of flash from start. It returns the number of
// bytes checked when all of them are erased, or minus the offset of the
// first programmed byte.
func (p *Programmer) IsEmpty(mem protocol.Memory, start, size uint32) (int32, error) {
	if err := p.ready(); err != nil {
		return 0, err
	}
	if size == 0 {
		return 0, errors.Wrap(ErrInvalidArgument, "empty check of zero bytes")
	}

	resp, err := p.link.Query(protocol.IsEmptyHeader{Mem: mem, Span: size, Start: start}, protocol.IsEmptyExecTimeout, 4)
	if err != nil {
		return 0, errors.Wrapf(err, "is empty %v 0x%x+0x%x", mem, start, size)
	}
	return int32(binary.LittleEndian.Uint32(resp)), nil
}

// FlashInfo reads the identification of the flash behind mem.
func (p *Programmer) FlashInfo(mem protocol.Memory) (storage.FlashInfo, error) {
	if err := p.ready(); err != nil {
		return storage.FlashInfo{}, err
	}

	resp, err := p.link.Query(protocol.FlashStateHeader{Mem: mem}, protocol.ExecAckTimeout, 4)
	if err != nil {
		return storage.FlashInfo{}, errors.Wrapf(err, "get %v state", mem)
	}

	return storage.FlashInfo{
		Configured:   resp[0] != 0,
		Manufacturer: resp[1],
		Type:         resp[2],
		Density:      resp[3],
	}, nil
}

// CopyToFlash makes the agent program size bytes from src in its memory to
// flash at dst.
func (p *Programmer) CopyToFlash(mem protocol.Memory, src uint32, size int, dst uint32) error {
	if err := p.ready(); err != nil {
		return err
	}
	if size <= 0 || size > 0xFFFF {
		return errors.Wrapf(ErrInvalidArgument, "copy of %d bytes", size)
	}
	if err := p.checkFlashRange(mem, dst, size); err != nil {
		return err
	}

	h := protocol.CopyHeader{Mem: mem, Ptr: src, Len: uint16(size), Addr: dst}
	return errors.Wrapf(p.link.Execute(h, protocol.ExecAckTimeout), "copy 0x%x to %v 0x%x", src, mem, dst)
}

// GPIOWatchdog makes the agent toggle a pad while it waits for commands.
func (p *Programmer) GPIOWatchdog(port, pin int, lowVoltage bool) error {
	if err := p.ready(); err != nil {
		return err
	}
	if port < 0 || port > 7 || pin < 0 || pin > 31 {
		return errors.Wrapf(ErrInvalidArgument, "pad P%d_%02d", port, pin)
	}

	level := uint8(0)
	if lowVoltage {
		level = 1
	}

	h := protocol.GPIOWatchdogHeader{Pad: uint8(port<<5 | pin), Level: level}
	return errors.Wrap(p.link.Execute(h, protocol.ExecAckTimeout), "gpio watchdog")
}

// MassEraseEFlash is not available over this agent.
func (p *Programmer) MassEraseEFlash() error {
	return ErrCmdUnsupported
}

func (p *Programmer) checkFlashRange(mem protocol.Memory, addr uint32, size int) error {
	limit := uint64(p.cfg.chip.FlashSize(mem))
	if limit == 0 {
		return errors.Wrapf(ErrInvalidArgument, "%v has no %v", p.cfg.chip, mem)
	}
	if uint64(addr)+uint64(size) > limit {
		return errors.Wrapf(ErrInvalidArgument, "%v 0x%x+0x%x beyond 0x%x", mem, addr, size, limit)
	}
	return nil
}
