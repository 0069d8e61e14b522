package agent

import (
	"encoding/binary"

	"github.com/janch32/uartboot/protocol"
	"github.com/janch32/uartboot/storage"
)

func memoryOf(cmd protocol.Command) protocol.Memory {
	switch cmd {
	case protocol.CmdCopyOQSPI, protocol.CmdEraseOQSPI, protocol.CmdChipEraseOQSPI,
		protocol.CmdReadOQSPI, protocol.CmdIsEmptyOQSPI, protocol.CmdGetOQSPIState,
		protocol.CmdDirectWriteOQSPI:
		return protocol.MemOQSPI
	}
	return protocol.MemQSPI
}

func (e *Engine) flashOf(inv *Invocation) storage.Flash {
	return e.flash[memoryOf(inv.Cmd)]
}

// flashWrite writes data into f with the safe write algorithm and optionally
// reads it back.
func flashWrite(f storage.Flash, addr uint32, data []byte, verify bool) bool {
	if uint64(addr)+uint64(len(data)) > uint64(f.Size()) {
		return false
	}

	if err := storage.SafeWrite(f, addr, data); err != nil {
		logger.Debugf("agent: flash write: %v", err)
		return false
	}

	if verify {
		if err := storage.Verify(f, addr, data); err != nil {
			logger.Debugf("agent: %v", err)
			return false
		}
	}

	return true
}

func (e *Engine) cmdCopy(stage Stage, inv *Invocation) bool {
	switch stage {
	case StageInit:
		return inv.DataLen == 0 && e.flashOf(inv) != nil

	case StageHeader:
		return true

	case StageData:
		h := inv.Header.(protocol.CopyHeader)
		s, ok := e.resolveRaw(h.Ptr, int(h.Len))
		inv.target = s
		return ok

	case StageExec:
		h := inv.Header.(protocol.CopyHeader)
		data, err := inv.target.read()
		if err != nil {
			return false
		}
		return flashWrite(e.flashOf(inv), h.Addr, data, e.verify)
	}

	return false
}

func (e *Engine) cmdDirectWrite(stage Stage, inv *Invocation) bool {
	switch stage {
	case StageInit:
		return inv.DataLen > 0 && e.flashOf(inv) != nil

	case StageHeader, StageData:
		return true

	case StageExec:
		h := inv.Header.(protocol.DirectWriteHeader)
		return flashWrite(e.flashOf(inv), h.Addr, inv.Payload, h.Verify)
	}

	return false
}

func (e *Engine) cmdErase(stage Stage, inv *Invocation) bool {
	switch stage {
	case StageInit:
		return inv.DataLen == 0 && e.flashOf(inv) != nil

	case StageHeader:
		return true

	case StageData:
		return inv.Header.(protocol.EraseHeader).Len > 0

	case StageExec:
		h := inv.Header.(protocol.EraseHeader)
		return e.flashOf(inv).EraseRegion(h.Addr, h.Len) == nil
	}

	return false
}

func (e *Engine) cmdChipErase(stage Stage, inv *Invocation) bool {
	switch stage {
	case StageInit:
		return inv.DataLen == 0 && e.flashOf(inv) != nil

	case StageHeader, StageData:
		return true

	case StageExec:
		return e.flashOf(inv).ChipErase() == nil
	}

	return false
}

func (e *Engine) cmdReadFlash(stage Stage, inv *Invocation) bool {
	switch stage {
	case StageInit:
		return inv.DataLen == 0 && e.flashOf(inv) != nil

	case StageHeader:
		return true

	case StageData:
		// read into the scratch buffer
		return int(inv.Header.(protocol.ReadFlashHeader).Len) <= len(e.scratch)

	case StageExec:
		h := inv.Header.(protocol.ReadFlashHeader)
		buf := make([]byte, h.Len)
		if err := e.flashOf(inv).Read(h.Addr, buf); err != nil {
			return false
		}
		inv.Response = buf
		return true

	case StageSendLen, StageSendData:
		return true
	}

	return false
}

// isEmpty returns size when the range is erased, otherwise the negated offset
// of the first programmed byte.
func isEmpty(f storage.Flash, start, size uint32) (int32, error) {
	buf := make([]byte, isEmptyChunk)

	for i := uint32(0); i < size; {
		n := size - i
		if n > isEmptyChunk {
			n = isEmptyChunk
		}

		if err := f.Read(start+i, buf[:n]); err != nil {
			return 0, err
		}

		for j, b := range buf[:n] {
			if b != 0xFF {
				return -int32(i + uint32(j)), nil
			}
		}

		i += n
	}

	return int32(size), nil
}

func (e *Engine) cmdIsEmpty(stage Stage, inv *Invocation) bool {
	switch stage {
	case StageInit:
		return inv.DataLen == 0 && e.flashOf(inv) != nil

	case StageHeader:
		return true

	case StageData:
		return inv.Header.(protocol.IsEmptyHeader).Span != 0

	case StageExec:
		h := inv.Header.(protocol.IsEmptyHeader)
		res, err := isEmpty(e.flashOf(inv), h.Start, h.Span)
		if err != nil {
			return false
		}

		inv.Response = make([]byte, 4)
		binary.LittleEndian.PutUint32(inv.Response, uint32(res))
		return true

	case StageSendLen, StageSendData:
		return true
	}

	return false
}

func (e *Engine) cmdFlashState(stage Stage, inv *Invocation) bool {
	switch stage {
	case StageInit:
		return inv.DataLen == 0 && e.flashOf(inv) != nil

	case StageHeader, StageData:
		return true

	case StageExec:
		// only the first QSPI controller is present
		if h, ok := inv.Header.(protocol.FlashStateHeader); ok && h.ID != 0 {
			return false
		}

		info := storage.FlashInfo{Configured: true}
		if id, ok := e.flashOf(inv).(storage.Identifier); ok {
			info = id.Info()
		}

		configured := byte(0)
		if info.Configured {
			configured = 1
		}
		inv.Response = []byte{configured, info.Manufacturer, info.Type, info.Density}
		return true

	case StageSendLen, StageSendData:
		return true
	}

	return false
}

func (e *Engine) partition(id uint8) (storage.Partition, bool) {
	parts, err := storage.ReadPartitionTable(e.flash[protocol.MemQSPI], e.partitionTable)
	if err != nil {
		return storage.Partition{}, false
	}
	return storage.FindPartition(parts, storage.PartitionID(id))
}

func (e *Engine) cmdReadPartitionTable(stage Stage, inv *Invocation) bool {
	switch stage {
	case StageInit:
		return inv.DataLen == 0 && e.flash[protocol.MemQSPI] != nil

	case StageHeader, StageData:
		return true

	case StageExec:
		f := e.flash[protocol.MemQSPI]
		parts, err := storage.ReadPartitionTable(f, e.partitionTable)
		if err != nil {
			return false
		}

		inv.Response = EncodePartitionTable(parts, f.SectorSize())
		return len(inv.Response) <= len(e.scratch)

	case StageSendLen, StageSendData:
		return true
	}

	return false
}

func (e *Engine) cmdReadPartition(stage Stage, inv *Invocation) bool {
	switch stage {
	case StageInit:
		return inv.DataLen == 0 && e.flash[protocol.MemQSPI] != nil

	case StageHeader:
		return true

	case StageData:
		return int(inv.Header.(protocol.ReadPartitionHeader).Len) <= len(e.scratch)

	case StageExec:
		h := inv.Header.(protocol.ReadPartitionHeader)
		p, ok := e.partition(h.ID)
		if !ok || !p.Contains(h.Addr, uint32(h.Len)) {
			return false
		}

		buf := make([]byte, h.Len)
		if err := e.flash[protocol.MemQSPI].Read(p.Start+h.Addr, buf); err != nil {
			return false
		}
		inv.Response = buf
		return true

	case StageSendLen, StageSendData:
		return true
	}

	return false
}

func (e *Engine) cmdWritePartition(stage Stage, inv *Invocation) bool {
	switch stage {
	case StageInit:
		return inv.DataLen == 0 && e.flash[protocol.MemQSPI] != nil

	case StageHeader:
		return true

	case StageData:
		h := inv.Header.(protocol.WritePartitionHeader)
		s, ok := e.resolveRaw(h.Ptr, int(h.Len))
		inv.target = s
		return ok

	case StageExec:
		h := inv.Header.(protocol.WritePartitionHeader)
		p, ok := e.partition(h.ID)
		if !ok || !p.Contains(h.Addr, uint32(h.Len)) {
			return false
		}

		data, err := inv.target.read()
		if err != nil {
			return false
		}

		return storage.SafeWrite(e.flash[protocol.MemQSPI], p.Start+h.Addr, data) == nil
	}

	return false
}
