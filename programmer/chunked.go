package programmer

import (
	"bytes"
	"fmt"

	"github.com/janch32/uartboot/protocol"
	"github.com/janch32/uartboot/storage"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// bootMagic marks a bootable image at flash address zero. It is written last
// so that an interrupted transfer never leaves a half image the ROM would
// start.
var bootMagic = []byte("qQ")

// transfer walks size bytes in chunks. next returns the length of the chunk
// at offset off, send moves it. A failed chunk is sent again while the error
// allows it and the retry budget lasts. reason is attached to the error once
// the budget is spent.
func (p *Programmer) transfer(op string, addr uint32, size int, reason *Error,
	next func(off int) int, send func(off, n int) error) error {

	p.cfg.progress.Start(op, size)
	defer p.cfg.progress.Done()

	retries, total := 0, 0
	for off := 0; off < size; {
		n := next(off)

		err := send(off, n)
		if err == nil {
			retries = 0
			off += n
			p.cfg.progress.Add(n)
			continue
		}

		fail := &ChunkError{Op: op, Addr: addr + uint32(off), Offset: off, Err: err}
		if !retryable(err) {
			return fail
		}

		retries++
		total++
		if retries > p.cfg.retries || (p.cfg.transferRetries > 0 && total > p.cfg.transferRetries) {
			fail.Reason = reason
			return fail
		}

		logger.WithFields(logrus.Fields{
			"addr":   fmt.Sprintf("0x%08x", addr+uint32(off)),
			"offset": off,
			"chunk":  n,
			"retry":  retries,
		}).Warnf("%s failed: %v", op, err)
	}

	return nil
}

func (p *Programmer) fixedChunk(size, chunk int) func(int) int {
	return func(off int) int {
		if size-off < chunk {
			return size - off
		}
		return chunk
	}
}

// sectorChunk returns chunks of at most chunk bytes that do not end inside a
// flash sector other than the one they start in.
func (p *Programmer) sectorChunk(addr uint32, size, chunk int) func(int) int {
	fixed := p.fixedChunk(size, chunk)
	sector := uint64(p.cfg.chip.sectorSize())
	return func(off int) int {
		start := uint64(addr) + uint64(off)
		end := start + uint64(fixed(off))

		if boundary := end - end%sector; boundary > start {
			end = boundary
		}
		return int(end - start)
	}
}

// WriteRAM writes data to device memory at addr.
func (p *Programmer) WriteRAM(addr uint32, data []byte) error {
	if err := p.ready(); err != nil {
		return err
	}
	if len(data) == 0 {
		return ErrFileEmpty
	}

	return p.transfer("write", addr, len(data), nil, p.fixedChunk(len(data), p.cfg.writeChunk),
		func(off, n int) error {
			return p.link.Execute(protocol.WriteHeader{Ptr: addr + uint32(off)}, protocol.ExecAckTimeout, data[off:off+n])
		})
}

// ReadMemory reads size bytes of device memory at addr.
func (p *Programmer) ReadMemory(addr uint32, size int) ([]byte, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "read of %d bytes", size)
	}

	out := make([]byte, size)
	err := p.transfer("read", addr, size, nil, p.fixedChunk(size, p.cfg.readChunk),
		func(off, n int) error {
			h := protocol.ReadHeader{Ptr: addr + uint32(off), Len: uint16(n)}
			resp, err := p.link.Query(h, protocol.ExecAckTimeout, n)
			if err == nil {
				copy(out[off:], resp)
			}
			return err
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func flashErrors(mem protocol.Memory) (write, verify *Error) {
	if mem == protocol.MemOQSPI {
		return ErrOQSPIWrite, ErrOQSPIVerify
	}
	return ErrQSPIWrite, ErrQSPIVerify
}

// WriteFlash programs data to flash at addr. Every chunk is verified by the
// agent. An image at address zero gets its boot magic written last.
func (p *Programmer) WriteFlash(mem protocol.Memory, addr uint32, data []byte) error {
	if err := p.ready(); err != nil {
		return err
	}
	if len(data) == 0 {
		return ErrFileEmpty
	}
	if err := p.checkFlashRange(mem, addr, len(data)); err != nil {
		return err
	}

	if addr == 0 && bytes.HasPrefix(data, bootMagic) {
		body := append([]byte(nil), data...)
		body[0], body[1] = 0xFF, 0xFF

		if err := p.writeFlash(mem, addr, body); err != nil {
			return err
		}
		return p.writeFlash(mem, addr, bootMagic)
	}

	return p.writeFlash(mem, addr, data)
}

func (p *Programmer) writeFlash(mem protocol.Memory, addr uint32, data []byte) error {
	reason, _ := flashErrors(mem)
	op := "write " + mem.String()

	return p.transfer(op, addr, len(data), reason, p.sectorChunk(addr, len(data), p.cfg.writeChunk),
		func(off, n int) error {
			h := protocol.DirectWriteHeader{Mem: mem, Verify: true, Addr: addr + uint32(off)}
			return p.link.Execute(h, protocol.ExecAckTimeout, data[off:off+n])
		})
}

// ReadFlash reads size bytes of flash at addr.
func (p *Programmer) ReadFlash(mem protocol.Memory, addr uint32, size int) ([]byte, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "read of %d bytes", size)
	}
	if err := p.checkFlashRange(mem, addr, size); err != nil {
		return nil, err
	}

	out := make([]byte, size)
	err := p.transfer("read "+mem.String(), addr, size, nil, p.fixedChunk(size, p.cfg.readChunk),
		func(off, n int) error {
			h := protocol.ReadFlashHeader{Mem: mem, Addr: addr + uint32(off), Len: uint16(n)}
			resp, err := p.link.Query(h, protocol.ExecAckTimeout, n)
			if err == nil {
				copy(out[off:], resp)
			}
			return err
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func partitionUsable(id storage.PartitionID) error {
	if id == 0 || id == 0xFF {
		return errors.Wrapf(ErrInvalidArgument, "partition id %d", id)
	}
	return nil
}

// ReadPartition reads size bytes at offset addr inside partition id.
func (p *Programmer) ReadPartition(id storage.PartitionID, addr uint32, size int) ([]byte, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if err := partitionUsable(id); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "read of %d bytes", size)
	}

	out := make([]byte, size)
	err := p.transfer("read "+id.String(), addr, size, nil, p.fixedChunk(size, p.cfg.readChunk),
		func(off, n int) error {
			resp, err := p.readPartitionChunk(id, addr+uint32(off), n)
			if err == nil {
				copy(out[off:], resp)
			}
			return err
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Programmer) readPartitionChunk(id storage.PartitionID, addr uint32, n int) ([]byte, error) {
	h := protocol.ReadPartitionHeader{Addr: addr, Len: uint16(n), ID: uint8(id)}
	return p.link.Query(h, protocol.ExecAckTimeout, n)
}

// WritePartition writes data at offset addr inside partition id. Each chunk
// goes to the agent scratch buffer, is copied into the partition and read
// back.
func (p *Programmer) WritePartition(id storage.PartitionID, addr uint32, data []byte) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := partitionUsable(id); err != nil {
		return err
	}
	if len(data) == 0 {
		return ErrFileEmpty
	}

	chunk := p.cfg.writeChunk
	if p.cfg.readChunk < chunk {
		chunk = p.cfg.readChunk
	}

	return p.transfer("write "+id.String(), addr, len(data), ErrQSPIWrite, p.sectorChunk(addr, len(data), chunk),
		func(off, n int) error {
			buf := data[off : off+n]
			dst := addr + uint32(off)

			if err := p.link.Execute(protocol.WriteHeader{Ptr: protocol.AddressTmp}, protocol.ExecAckTimeout, buf); err != nil {
				return err
			}

			h := protocol.WritePartitionHeader{Ptr: protocol.AddressTmp, Len: uint16(n), Addr: dst, ID: uint8(id)}
			if err := p.link.Execute(h, protocol.ExecAckTimeout); err != nil {
				return err
			}

			back, err := p.readPartitionChunk(id, dst, n)
			if err != nil {
				return err
			}
			if !bytes.Equal(back, buf) {
				return errors.Wrapf(ErrQSPIVerify, "%v 0x%x", id, dst)
			}
			return nil
		})
}
