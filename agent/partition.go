package agent

import (
	"encoding/binary"

	"github.com/janch32/uartboot/storage"
)

// partitionEntryFixed is the size of an encoded entry without its name.
const partitionEntryFixed = 13

// EncodePartitionTable builds the response of read_partition_table: the
// total length followed by one entry per partition. Each entry carries its
// start, size, sector size, type and the NUL terminated name padded to a
// multiple of four bytes; the name length field counts the NUL but not the
// padding.
func EncodePartitionTable(parts []storage.Partition, sectorSize uint32) []byte {
	buf := make([]byte, 2)

	for _, p := range parts {
		name := p.ID.String()
		nameLen := len(name) + 1
		padded := (nameLen + 3) &^ 3

		entry := make([]byte, partitionEntryFixed+padded)
		binary.LittleEndian.PutUint32(entry[0:], p.Start)
		binary.LittleEndian.PutUint32(entry[4:], p.Size)
		binary.LittleEndian.PutUint16(entry[8:], uint16(sectorSize))
		entry[10] = byte(p.ID)
		binary.LittleEndian.PutUint16(entry[11:], uint16(nameLen))
		copy(entry[partitionEntryFixed:], name)

		buf = append(buf, entry...)
	}

	binary.LittleEndian.PutUint16(buf, uint16(len(buf)))
	return buf
}
