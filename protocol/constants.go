// Package protocol implements the framing of the UART boot protocol: control
// bytes, command codes, per-command headers, the CRC16 used on payloads and
// the host side of the message exchange.
package protocol

import (
	"fmt"
	"time"
)

// Control bytes.
const (
	SOH byte = 0x01
	STX byte = 0x02
	ACK byte = 0x06
	NAK byte = 0x15
)

// Version announced by the agent in its hello message.
const (
	AgentVersion       uint16 = 0x0004
	AgentVersionString        = "0.0.0.4"
)

// Reserved addresses.
const (
	// AddressTmp selects the private scratch buffer of the agent.
	AddressTmp uint32 = 0xFFFFFFFF

	// VirtualBufAddress is the base of the window that maps onto the scratch buffer.
	VirtualBufAddress uint32 = 0x80000000
)

// Chunk sizes of the serial transport.
const (
	SerialReadChunkSize  = 0xC000
	SerialWriteChunkSize = 0x6000
)

// FlashEraseMask masks the offset inside a 4 KiB flash sector.
const FlashEraseMask = 0xFFF

// Host side timeouts.
const (
	HeaderAckTimeout   = 300 * time.Millisecond
	DataAckTimeout     = 5000 * time.Millisecond
	CRCByteTimeout     = 30 * time.Millisecond
	ExecAckTimeout     = 5000 * time.Millisecond
	ShortExecTimeout   = 150 * time.Millisecond
	IsEmptyExecTimeout = 30 * time.Second
	ChipEraseTimeout   = 100 * time.Second
	OChipEraseTimeout  = 180 * time.Second
	LengthFirstTimeout = 250 * time.Millisecond
	LengthNextTimeout  = 30 * time.Millisecond
	ResponseTimeout    = 1000 * time.Millisecond
	ResponseAckTimeout = 5000 * time.Millisecond
	DynamicAckTimeout  = 150 * time.Millisecond
)

// EraseTimeout returns how long an erase of size bytes may take on the device.
func EraseTimeout(size uint32) time.Duration {
	return time.Duration(200+50*int64(size)/0x1000) * time.Millisecond
}

// Command is the type byte of a command header.
type Command byte

// Commands known to the agent.
const (
	CmdWrite              Command = 0x01
	CmdRead               Command = 0x02
	CmdCopyQSPI           Command = 0x03
	CmdEraseQSPI          Command = 0x04
	CmdRun                Command = 0x05
	CmdWriteOTP           Command = 0x06
	CmdReadOTP            Command = 0x07
	CmdReadQSPI           Command = 0x08
	CmdCustomerSpecific   Command = 0x09
	CmdReadPartitionTable Command = 0x0A
	CmdGetVersion         Command = 0x0B
	CmdChipEraseQSPI      Command = 0x0C
	CmdIsEmptyQSPI        Command = 0x0D
	CmdReadPartition      Command = 0x0E
	CmdWritePartition     Command = 0x0F
	CmdGetQSPIState       Command = 0x10
	CmdGPIOWatchdog       Command = 0x11
	CmdDirectWriteQSPI    Command = 0x12
	CmdMassEraseEFlash    Command = 0x13
	CmdCopyOQSPI          Command = 0x14
	CmdEraseOQSPI         Command = 0x15
	CmdReadOQSPI          Command = 0x16
	CmdChipEraseOQSPI     Command = 0x17
	CmdIsEmptyOQSPI       Command = 0x18
	CmdGetOQSPIState      Command = 0x19
	CmdDirectWriteOQSPI   Command = 0x1A
	CmdGetProductInfo     Command = 0x1B
	CmdChangeBaudrate     Command = 0x30
	CmdDummy              Command = 0xFF
)

var commandNames = map[Command]string{
	CmdWrite:              "write",
	CmdRead:               "read",
	CmdCopyQSPI:           "copy_qspi",
	CmdEraseQSPI:          "erase_qspi",
	CmdRun:                "run",
	CmdWriteOTP:           "write_otp",
	CmdReadOTP:            "read_otp",
	CmdReadQSPI:           "read_qspi",
	CmdCustomerSpecific:   "customer_specific",
	CmdReadPartitionTable: "read_partition_table",
	CmdGetVersion:         "get_version",
	CmdChipEraseQSPI:      "chip_erase_qspi",
	CmdIsEmptyQSPI:        "is_empty_qspi",
	CmdReadPartition:      "read_partition",
	CmdWritePartition:     "write_partition",
	CmdGetQSPIState:       "get_qspi_state",
	CmdGPIOWatchdog:       "gpio_wd",
	CmdDirectWriteQSPI:    "direct_write_qspi",
	CmdMassEraseEFlash:    "mass_erase_eflash",
	CmdCopyOQSPI:          "copy_oqspi",
	CmdEraseOQSPI:         "erase_oqspi",
	CmdReadOQSPI:          "read_oqspi",
	CmdChipEraseOQSPI:     "chip_erase_oqspi",
	CmdIsEmptyOQSPI:       "is_empty_oqspi",
	CmdGetOQSPIState:      "get_oqspi_state",
	CmdDirectWriteOQSPI:   "direct_write_oqspi",
	CmdGetProductInfo:     "get_product_info",
	CmdChangeBaudrate:     "change_baudrate",
	CmdDummy:              "dummy",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("cmd_0x%02x", byte(c))
}

// Known reports whether c belongs to the command set.
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// Baud rates the agent accepts in a change_baudrate command.
var SupportedBaudRates = []uint32{
	4800, 9600, 14400, 19200, 28800, 38400, 57600, 115200, 230400, 500000, 1000000,
}

// BaudRateSupported reports whether baud is one of SupportedBaudRates.
func BaudRateSupported(baud uint32) bool {
	for _, b := range SupportedBaudRates {
		if b == baud {
			return true
		}
	}
	return false
}
