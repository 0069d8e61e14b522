package agent

import (
	"encoding/binary"
	"testing"

	"github.com/janch32/uartboot/protocol"
	"github.com/janch32/uartboot/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPartitions = []storage.Partition{
	{ID: storage.PartitionFirmware, Start: 0x2000, Size: 0x8000},
	{ID: storage.PartitionParam, Start: 0xA000, Size: 0x1000},
	{ID: storage.PartitionImageHeader, Start: 0xB000, Size: 0x1000},
	{ID: 0x42, Start: 0xC000, Size: 0x1000},
}

func TestEncodePartitionTable(t *testing.T) {
	b := EncodePartitionTable(testPartitions, 0x1000)

	require.EqualValues(t, len(b), binary.LittleEndian.Uint16(b))

	off := 2
	for _, p := range testPartitions {
		require.LessOrEqual(t, off+partitionEntryFixed, len(b))

		assert.Equal(t, p.Start, binary.LittleEndian.Uint32(b[off:]))
		assert.Equal(t, p.Size, binary.LittleEndian.Uint32(b[off+4:]))
		assert.EqualValues(t, 0x1000, binary.LittleEndian.Uint16(b[off+8:]))
		assert.EqualValues(t, p.ID, b[off+10])

		nameLen := int(binary.LittleEndian.Uint16(b[off+11:]))
		name := p.ID.String()
		assert.Equal(t, len(name)+1, nameLen)

		start := off + partitionEntryFixed
		assert.Equal(t, name+"\x00", string(b[start:start+nameLen]))

		off = start + (nameLen+3)&^3
	}

	assert.Equal(t, len(b), off)
}

func TestEncodeEmptyPartitionTable(t *testing.T) {
	assert.Equal(t, []byte{2, 0}, EncodePartitionTable(nil, 0x1000))
}

func partitionAgent(t *testing.T) (*testDevice, *storage.MemFlash) {
	flash := storage.NewMemFlash(0x20000, 0x1000)
	require.NoError(t, storage.WritePartitionTable(flash, 0x1F000, testPartitions))

	return startAgent(t, WithQSPI(flash), WithPartitionTableAddress(0x1F000)), flash
}

func TestReadPartitionTableCommand(t *testing.T) {
	d, _ := partitionAgent(t)

	resp, err := d.link.QueryDynamic(protocol.EmptyHeader{Cmd: protocol.CmdReadPartitionTable}, protocol.ExecAckTimeout)
	require.NoError(t, err)
	assert.Equal(t, EncodePartitionTable(testPartitions, 0x1000), resp)
}

func TestWriteAndReadPartition(t *testing.T) {
	d, flash := partitionAgent(t)

	data := []byte("parameters")
	require.NoError(t, d.link.Execute(protocol.WriteHeader{Ptr: protocol.AddressTmp}, protocol.ExecAckTimeout, data))
	require.NoError(t, d.link.Execute(protocol.WritePartitionHeader{
		Ptr:  protocol.AddressTmp,
		Len:  uint16(len(data)),
		Addr: 0x10,
		ID:   uint8(storage.PartitionParam),
	}, protocol.ExecAckTimeout))

	got := make([]byte, len(data))
	require.NoError(t, flash.Read(0xA010, got))
	assert.Equal(t, data, got)

	resp, err := d.link.Query(protocol.ReadPartitionHeader{Addr: 0x10, Len: uint16(len(data)), ID: uint8(storage.PartitionParam)},
		protocol.ExecAckTimeout, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, resp)
}

func TestPartitionBounds(t *testing.T) {
	d, _ := partitionAgent(t)

	// past the end of the partition
	_, err := d.link.Query(protocol.ReadPartitionHeader{Addr: 0xFF0, Len: 0x20, ID: uint8(storage.PartitionParam)},
		protocol.ExecAckTimeout, 0x20)
	assert.ErrorIs(t, err, protocol.ErrCmdRejected)

	// no such partition
	_, err = d.link.Query(protocol.ReadPartitionHeader{Addr: 0, Len: 4, ID: uint8(storage.PartitionLog)},
		protocol.ExecAckTimeout, 4)
	assert.ErrorIs(t, err, protocol.ErrCmdRejected)
}
