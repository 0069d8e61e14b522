package storage

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// PartitionID identifies an NVMS partition.
type PartitionID uint8

const (
	PartitionFirmware       PartitionID = 1
	PartitionParam          PartitionID = 2
	PartitionBin            PartitionID = 3
	PartitionLog            PartitionID = 4
	PartitionGeneric        PartitionID = 5
	PartitionPlatformParams PartitionID = 15
	PartitionTable          PartitionID = 16
	PartitionFWExec         PartitionID = 17
	PartitionFWUpdate       PartitionID = 18
	PartitionProductHeader  PartitionID = 19
	PartitionImageHeader    PartitionID = 20
)

var partitionNames = map[PartitionID]string{
	PartitionFirmware:       "NVMS_FIRMWARE_PART",
	PartitionParam:          "NVMS_PARAM_PART",
	PartitionBin:            "NVMS_BIN_PART",
	PartitionLog:            "NVMS_LOG_PART",
	PartitionGeneric:        "NVMS_GENERIC_PART",
	PartitionPlatformParams: "NVMS_PLATFORM_PARAMS_PART",
	PartitionTable:          "NVMS_PARTITION_TABLE",
	PartitionFWExec:         "NVMS_FW_EXEC_PART",
	PartitionFWUpdate:       "NVMS_FW_UPDATE_PART",
	PartitionProductHeader:  "NVMS_PRODUCT_HEADER_PART",
	PartitionImageHeader:    "NVMS_IMAGE_HEADER_PART",
}

func (id PartitionID) String() string {
	if name, ok := partitionNames[id]; ok {
		return name
	}
	return "UNKNOWN_PARTITION_ID"
}

// PartitionIDByName is the inverse of PartitionID.String.
func PartitionIDByName(name string) (PartitionID, bool) {
	for id, n := range partitionNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// Partition is a region of flash dedicated to one purpose.
type Partition struct {
	ID    PartitionID
	Start uint32
	Size  uint32
	Flags uint8
}

// Contains reports whether [off, off+n) lies inside the partition.
func (p Partition) Contains(off uint32, n uint32) bool {
	return uint64(off)+uint64(n) <= uint64(p.Size)
}

// Flash layout of one table entry.
const (
	PartitionEntrySize  = 16
	partitionEntryMagic = 0xEA
	partitionEntryValid = 0xFF
)

// EncodeEntry returns the flash form of p.
func EncodeEntry(p Partition) []byte {
	b := make([]byte, PartitionEntrySize)
	b[0] = partitionEntryMagic
	b[1] = byte(p.ID)
	b[2] = partitionEntryValid
	b[3] = p.Flags
	binary.LittleEndian.PutUint32(b[4:], p.Start)
	binary.LittleEndian.PutUint32(b[8:], p.Size)
	for i := 12; i < 16; i++ {
		b[i] = 0xFF
	}
	return b
}

// tableEnd is one past the last byte the table at addr may use: the end of
// the sector holding addr.
func tableEnd(f Flash, addr uint32) uint32 {
	end := uint64(addr) + uint64(f.SectorSize()) - uint64(addr%f.SectorSize())
	if end > uint64(f.Size()) {
		return f.Size()
	}
	return uint32(end)
}

// ReadPartitionTable scans the table stored at addr. Entries that are
// invalidated or damaged are skipped; the table ends at the first unwritten
// entry or with its sector.
func ReadPartitionTable(f Flash, addr uint32) ([]Partition, error) {
	var parts []Partition
	entry := make([]byte, PartitionEntrySize)

	end := tableEnd(f, addr)
	for ; addr+PartitionEntrySize <= end; addr += PartitionEntrySize {
		if err := f.Read(addr, entry); err != nil {
			return nil, err
		}

		typ := entry[1]
		if typ == 0xFF {
			break
		}

		if typ == 0 || entry[0] != partitionEntryMagic || entry[2] != partitionEntryValid {
			continue
		}

		parts = append(parts, Partition{
			ID:    PartitionID(typ),
			Flags: entry[3],
			Start: binary.LittleEndian.Uint32(entry[4:]),
			Size:  binary.LittleEndian.Uint32(entry[8:]),
		})
	}

	return parts, nil
}

// WritePartitionTable stores parts at addr followed by the end marker.
func WritePartitionTable(f Flash, addr uint32, parts []Partition) error {
	buf := make([]byte, 0, (len(parts)+1)*PartitionEntrySize)
	for _, p := range parts {
		if p.ID == 0 || p.ID == 0xFF {
			return errors.Errorf("invalid partition id %d", p.ID)
		}
		buf = append(buf, EncodeEntry(p)...)
	}

	end := make([]byte, PartitionEntrySize)
	for i := range end {
		end[i] = 0xFF
	}
	buf = append(buf, end...)

	if uint64(addr)+uint64(len(buf)) > uint64(tableEnd(f, addr)) {
		return errors.Errorf("partition table of %d entries does not fit the sector at 0x%x", len(parts), addr)
	}

	return SafeWrite(f, addr, buf)
}

// FindPartition returns the partition with id.
func FindPartition(parts []Partition, id PartitionID) (Partition, bool) {
	for _, p := range parts {
		if p.ID == id {
			return p, true
		}
	}
	return Partition{}, false
}
