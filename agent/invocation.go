package agent

import (
	"github.com/janch32/uartboot/protocol"
)

// Stage is a step of the processing of one command.
type Stage int

const (
	StageInit Stage = iota
	StageHeader
	StageData
	StageExec
	StageSendLen
	StageSendData
)

var stageNames = [...]string{"init", "header", "data", "exec", "send_len", "send_data"}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

// Invocation is the state of one command from its header to its response.
// A new one is created for every command.
type Invocation struct {
	Cmd     protocol.Command
	Len     int
	HdrLen  int
	DataLen int

	Header  protocol.Header
	Payload []byte

	// Response is sent back to the host when the handler accepts StageSendLen.
	Response []byte

	target span
	acked  bool
	engine *Engine
}

// Ack sends the execution ACK right away. Handlers that may not return use it.
func (inv *Invocation) Ack() error {
	inv.acked = true
	return inv.engine.conn.WriteByte(protocol.ACK)
}

// Handler processes a command one stage at a time. Returning false from
// init, header, data or exec rejects the command with NAK; from send_len it
// means there is no response.
type Handler interface {
	Handle(stage Stage, inv *Invocation) bool
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(stage Stage, inv *Invocation) bool

// Handle calls f.
func (f HandlerFunc) Handle(stage Stage, inv *Invocation) bool {
	return f(stage, inv)
}

// handler returns the handler of cmd, nil for commands the agent rejects.
func (e *Engine) handler(cmd protocol.Command) Handler {
	switch cmd {
	case protocol.CmdWrite:
		return HandlerFunc(e.cmdWrite)
	case protocol.CmdRead:
		return HandlerFunc(e.cmdRead)
	case protocol.CmdCopyQSPI, protocol.CmdCopyOQSPI:
		return HandlerFunc(e.cmdCopy)
	case protocol.CmdEraseQSPI, protocol.CmdEraseOQSPI:
		return HandlerFunc(e.cmdErase)
	case protocol.CmdChipEraseQSPI, protocol.CmdChipEraseOQSPI:
		return HandlerFunc(e.cmdChipErase)
	case protocol.CmdRun:
		return HandlerFunc(e.cmdRun)
	case protocol.CmdWriteOTP:
		return HandlerFunc(e.cmdWriteOTP)
	case protocol.CmdReadOTP:
		return HandlerFunc(e.cmdReadOTP)
	case protocol.CmdReadQSPI, protocol.CmdReadOQSPI:
		return HandlerFunc(e.cmdReadFlash)
	case protocol.CmdReadPartitionTable:
		return HandlerFunc(e.cmdReadPartitionTable)
	case protocol.CmdGetVersion:
		return HandlerFunc(e.cmdGetVersion)
	case protocol.CmdIsEmptyQSPI, protocol.CmdIsEmptyOQSPI:
		return HandlerFunc(e.cmdIsEmpty)
	case protocol.CmdReadPartition:
		return HandlerFunc(e.cmdReadPartition)
	case protocol.CmdWritePartition:
		return HandlerFunc(e.cmdWritePartition)
	case protocol.CmdGetQSPIState, protocol.CmdGetOQSPIState:
		return HandlerFunc(e.cmdFlashState)
	case protocol.CmdGPIOWatchdog:
		return HandlerFunc(e.cmdGPIOWatchdog)
	case protocol.CmdDirectWriteQSPI, protocol.CmdDirectWriteOQSPI:
		return HandlerFunc(e.cmdDirectWrite)
	case protocol.CmdGetProductInfo:
		return HandlerFunc(e.cmdGetProductInfo)
	case protocol.CmdChangeBaudrate:
		return HandlerFunc(e.cmdChangeBaudrate)
	case protocol.CmdDummy:
		return HandlerFunc(e.cmdDummy)
	}

	return nil
}
