package programmer

import (
	"encoding/binary"
	"fmt"

	"github.com/janch32/uartboot/protocol"
	"github.com/janch32/uartboot/storage"
	"github.com/pkg/errors"
)

// PartitionInfo is one entry of the partition table reported by the agent.
type PartitionInfo struct {
	ID         storage.PartitionID
	Name       string
	Start      uint32
	Size       uint32
	SectorSize uint16
}

func (pi PartitionInfo) String() string {
	return fmt.Sprintf("%-26s 0x%08x-0x%08x (%d KiB)", pi.Name, pi.Start, pi.Start+pi.Size, pi.Size/1024)
}

const partitionEntryFixed = 13

// ParsePartitionTable decodes the response of read_partition_table.
func ParsePartitionTable(b []byte) ([]PartitionInfo, error) {
	if len(b) < 2 || int(binary.LittleEndian.Uint16(b)) != len(b) {
		return nil, errors.Wrap(protocol.ErrInvalidResponse, "partition table length")
	}

	var parts []PartitionInfo
	for off := 2; off < len(b); {
		if len(b)-off < partitionEntryFixed {
			return nil, errors.Wrapf(protocol.ErrInvalidResponse, "partition entry at %d truncated", off)
		}

		e := b[off:]
		nameLen := int(binary.LittleEndian.Uint16(e[11:]))
		padded := (nameLen + 3) &^ 3
		if len(e) < partitionEntryFixed+padded {
			return nil, errors.Wrapf(protocol.ErrInvalidResponse, "partition name at %d truncated", off)
		}

		name := e[partitionEntryFixed : partitionEntryFixed+nameLen]
		for i, c := range name {
			if c == 0 {
				name = name[:i]
				break
			}
		}

		parts = append(parts, PartitionInfo{
			ID:         storage.PartitionID(e[10]),
			Name:       string(name),
			Start:      binary.LittleEndian.Uint32(e[0:]),
			Size:       binary.LittleEndian.Uint32(e[4:]),
			SectorSize: binary.LittleEndian.Uint16(e[8:]),
		})
		off += partitionEntryFixed + padded
	}

	return parts, nil
}

// ReadPartitionTable asks the agent for the partition table of the QSPI flash.
func (p *Programmer) ReadPartitionTable() ([]PartitionInfo, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	resp, err := p.link.QueryDynamic(protocol.EmptyHeader{Cmd: protocol.CmdReadPartitionTable}, protocol.ExecAckTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "read partition table")
	}
	return ParsePartitionTable(resp)
}

// FindPartitionInfo returns the entry of id.
func FindPartitionInfo(parts []PartitionInfo, id storage.PartitionID) (PartitionInfo, error) {
	for _, pi := range parts {
		if pi.ID == id {
			return pi, nil
		}
	}
	return PartitionInfo{}, errors.Wrapf(ErrNoPartition, "%v", id)
}
