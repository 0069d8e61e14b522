package agent

import (
	"encoding/binary"

	"github.com/janch32/uartboot/protocol"
)

func (e *Engine) cmdWrite(stage Stage, inv *Invocation) bool {
	switch stage {
	case StageInit:
		// nothing to write without payload
		return inv.DataLen > 0

	case StageHeader:
		h := inv.Header.(protocol.WriteHeader)
		s, ok := e.resolveRaw(h.Ptr, inv.DataLen)
		inv.target = s
		return ok

	case StageData:
		return true

	case StageExec:
		return inv.target.write(inv.Payload) == nil
	}

	return false
}

func (e *Engine) cmdRead(stage Stage, inv *Invocation) bool {
	switch stage {
	case StageInit:
		return inv.DataLen == 0

	case StageHeader:
		return true

	case StageData:
		h := inv.Header.(protocol.ReadHeader)
		s, ok := e.resolveRaw(h.Ptr, int(h.Len))
		inv.target = s
		return ok

	case StageExec:
		data, err := inv.target.read()
		if err != nil {
			logger.Debugf("agent: read: %v", err)
			return false
		}
		inv.Response = data
		return true

	case StageSendLen, StageSendData:
		return true
	}

	return false
}

func (e *Engine) cmdRun(stage Stage, inv *Invocation) bool {
	switch stage {
	case StageInit:
		return inv.DataLen == 0

	case StageHeader, StageData:
		return true

	case StageExec:
		h := inv.Header.(protocol.RunHeader)
		addr := ParseAddress(h.Addr, e.mask)
		if _, ok := e.resolve(addr, 1); !ok {
			return false
		}

		// control does not come back after the jump
		if err := inv.Ack(); err != nil {
			return false
		}

		req := RunRequest{Addr: h.Addr}
		if addr.Kind == ScratchWindow && addr.Value == 0 {
			req.Reboot = true
			req.Image = append([]byte(nil), e.scratch...)
		}

		logger.Infof("agent: run 0x%08x", h.Addr)
		e.jumped = true
		e.runHook(req)
		return true
	}

	return false
}

func (e *Engine) cmdGetVersion(stage Stage, inv *Invocation) bool {
	switch stage {
	case StageInit:
		return inv.DataLen == 0

	case StageHeader, StageData, StageExec:
		return true

	case StageSendLen:
		inv.Response = []byte(e.versionString)
		return true

	case StageSendData:
		return true
	}

	return false
}

func (e *Engine) cmdGetProductInfo(stage Stage, inv *Invocation) bool {
	switch stage {
	case StageInit:
		return inv.DataLen == 0

	case StageHeader, StageData:
		return true

	case StageExec:
		if e.productInfo == "" {
			return false
		}

		// length counts itself and the terminating NUL
		n := 2 + len(e.productInfo) + 1
		if n > len(e.scratch) {
			return false
		}

		buf := make([]byte, n)
		binary.LittleEndian.PutUint16(buf, uint16(n))
		copy(buf[2:], e.productInfo)
		inv.Response = buf
		return true

	case StageSendLen, StageSendData:
		return true
	}

	return false
}

func (e *Engine) cmdChangeBaudrate(stage Stage, inv *Invocation) bool {
	switch stage {
	case StageInit:
		return inv.DataLen == 0

	case StageHeader:
		return true

	case StageData:
		h := inv.Header.(protocol.ChangeBaudrateHeader)
		return protocol.BaudRateSupported(h.Baud)

	case StageExec:
		// applied once the ACK of this command is out
		e.pendingBaud = int(inv.Header.(protocol.ChangeBaudrateHeader).Baud)
		return true
	}

	return false
}

func (e *Engine) cmdGPIOWatchdog(stage Stage, inv *Invocation) bool {
	switch stage {
	case StageInit:
		return inv.DataLen == 0

	case StageHeader:
		return true

	case StageData, StageExec:
		h := inv.Header.(protocol.GPIOWatchdogHeader)
		port := int(h.Pad&0xE0) >> 5
		pin := int(h.Pad & 0x1F)

		if pin >= e.gpio.Pins(port) || h.Level > 1 {
			return false
		}

		if stage == StageData {
			return true
		}

		return e.gpio.StartWatchdog(port, pin, h.Level == 1) == nil
	}

	return false
}

func (e *Engine) cmdDummy(stage Stage, inv *Invocation) bool {
	switch stage {
	case StageInit:
		return inv.DataLen == 0

	case StageHeader, StageData:
		return true

	case StageExec:
		if len(e.scratch) < len(liveMarker) {
			return false
		}
		copy(e.scratch, liveMarker)
		return true
	}

	return false
}
