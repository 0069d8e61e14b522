package agent

import (
	"encoding/binary"

	"github.com/janch32/uartboot/protocol"
)

func (e *Engine) cmdWriteOTP(stage Stage, inv *Invocation) bool {
	switch stage {
	case StageInit:
		// whole words only
		return inv.DataLen > 0 && inv.DataLen&0x03 == 0 && e.otp != nil

	case StageHeader:
		return true

	case StageData:
		return inv.Header.(protocol.WriteOTPHeader).Addr < e.otp.Cells()

	case StageExec:
		h := inv.Header.(protocol.WriteOTPHeader)
		words := make([]uint32, inv.DataLen/4)
		for i := range words {
			words[i] = binary.LittleEndian.Uint32(inv.Payload[i*4:])
		}

		if err := e.otp.Program(h.Addr, words); err != nil {
			logger.Debugf("agent: otp: %v", err)
			return false
		}
		return true
	}

	return false
}

func (e *Engine) cmdReadOTP(stage Stage, inv *Invocation) bool {
	switch stage {
	case StageInit:
		return inv.DataLen == 0 && e.otp != nil

	case StageHeader:
		return true

	case StageData:
		h := inv.Header.(protocol.ReadOTPHeader)
		return h.Addr < e.otp.Cells() && int(h.Len)*4 <= len(e.scratch)

	case StageExec:
		h := inv.Header.(protocol.ReadOTPHeader)
		words, err := e.otp.Read(h.Addr, int(h.Len))
		if err != nil {
			logger.Debugf("agent: otp: %v", err)
			return false
		}

		buf := make([]byte, len(words)*4)
		for i, w := range words {
			binary.LittleEndian.PutUint32(buf[i*4:], w)
		}
		inv.Response = buf
		return true

	case StageSendLen, StageSendData:
		return true
	}

	return false
}
