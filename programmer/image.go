package programmer

import (
	"encoding/binary"
	"hash/crc32"
	"time"

	"github.com/janch32/uartboot/protocol"
	"github.com/janch32/uartboot/storage"
	"github.com/pkg/errors"
)

// ImageType selects where a flashable image boots from.
type ImageType int

const (
	ImageQSPI ImageType = iota
	ImageQSPISecure
	ImageOTP
)

func (t ImageType) String() string {
	switch t {
	case ImageQSPI:
		return "qspi"
	case ImageQSPISecure:
		return "qspi-secure"
	case ImageOTP:
		return "otp"
	}
	return "invalid"
}

// ImageMode selects how the boot ROM starts the image.
type ImageMode int

const (
	// ImageMirrored images are copied to RAM before they run.
	ImageMirrored ImageMode = iota
	// ImageCached images run from flash through the cache.
	ImageCached
)

// ImageHeaderSize is the header of a flash image. OTP images use half of it.
const ImageHeaderSize = 8

const cachedFlag = 0x80000000

// FillImageHeader returns the boot header of an image of size bytes.
func FillImageHeader(size int, typ ImageType, mode ImageMode) ([]byte, error) {
	switch typ {
	case ImageQSPI:
		h := []byte{'q', 'Q', 0, 0, 0, 0, 0, 0}
		length := uint32(size)
		if mode == ImageCached {
			length = cachedFlag | uint32(size-ImageHeaderSize)
		}
		binary.BigEndian.PutUint32(h[4:], length)
		return h, nil

	case ImageQSPISecure:
		h := []byte{'p', 'P', 0, 0, 0, 0, 0, 0}
		binary.BigEndian.PutUint32(h[4:], uint32(size))
		return h, nil

	case ImageOTP:
		// length in words of the image padded to eight bytes
		length := uint32((size+7)&^7) >> 2
		if mode == ImageCached {
			length |= cachedFlag
		}
		h := make([]byte, ImageHeaderSize/2)
		binary.LittleEndian.PutUint32(h, length)
		return h, nil
	}

	return nil, errors.Wrapf(ErrInvalidArgument, "image type %d", typ)
}

// checkVectors looks at the initial stack pointer and the reset handler of
// the vector table at the start of bin.
func checkVectors(bin []byte, chip Chip) error {
	if len(bin) < 8 {
		return errors.Wrap(ErrImageFormat, "no vector table")
	}

	sp := le32(bin[0:])
	reset := le32(bin[4:])
	ramSize := chip.SysRAMEnd - chip.SysRAMStart

	if !(sp > 0x100 && sp < ramSize) && !(sp > chip.SysRAMStart && sp < chip.SysRAMEnd) {
		return errors.Wrapf(ErrImageFormat, "stack pointer 0x%08x", sp)
	}
	if !(reset > 0x100 && reset < ramSize) && !(reset > chip.SysRAMStart && reset < chip.SysRAMEnd) &&
		!(reset > chip.QSPIStart && reset < chip.QSPIEnd) {
		return errors.Wrapf(ErrImageFormat, "reset handler 0x%08x", reset)
	}

	return nil
}

func le32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// MakeImage turns a raw binary into a bootable image for chip. A cached QSPI
// image keeps its size: the vector table moves down to make room for the
// header. Other images grow by the header, OTP images are also zero padded
// to eight bytes.
func MakeImage(bin []byte, chip Chip, typ ImageType, mode ImageMode) ([]byte, error) {
	header, err := FillImageHeader(len(bin), typ, mode)
	if err != nil {
		return nil, err
	}
	if err := checkVectors(bin, chip); err != nil {
		return nil, err
	}

	if typ == ImageQSPI && mode == ImageCached {
		if len(bin) < int(chip.RAMAt0Size) {
			return nil, errors.Wrapf(ErrInsufficientBuffer, "cached image of %d bytes, need at least 0x%x", len(bin), chip.RAMAt0Size)
		}

		out := append([]byte(nil), bin...)
		copy(out[len(header):chip.RAMAt0Size], bin[:int(chip.RAMAt0Size)-len(header)])
		copy(out, header)
		return out, nil
	}

	size := len(header) + len(bin)
	if typ == ImageOTP {
		size += (len(bin)+7)&^7 - len(bin)
	}

	out := make([]byte, size)
	copy(out, header)
	copy(out[len(header):], bin)
	return out, nil
}

// SUOTA image header layout.
const (
	SUOTAHeaderSize  = 36
	suotaVersionSize = 16
	suotaSignature0  = 0x70
	suotaSignature1  = 0x51
)

// SUOTAHeader precedes a firmware image that the on-chip updater manages.
type SUOTAHeader struct {
	Flags        uint16
	CodeSize     uint32
	CRC          uint32
	Version      string
	Timestamp    uint32
	ExecLocation uint32
}

// NewSUOTAHeader describes code built as version at time ts.
func NewSUOTAHeader(code []byte, version string, ts time.Time, flags uint16) SUOTAHeader {
	return SUOTAHeader{
		Flags:        flags,
		CodeSize:     uint32(len(code)),
		CRC:          crc32.ChecksumIEEE(code),
		Version:      version,
		Timestamp:    uint32(ts.Unix()),
		ExecLocation: SUOTAHeaderSize,
	}
}

// Encode returns the flash form of h. Versions longer than the field are
// cut, the field always ends with a NUL.
func (h SUOTAHeader) Encode() []byte {
	b := make([]byte, SUOTAHeaderSize)
	b[0], b[1] = suotaSignature0, suotaSignature1
	binary.LittleEndian.PutUint16(b[2:], h.Flags)
	binary.LittleEndian.PutUint32(b[4:], h.CodeSize)
	binary.LittleEndian.PutUint32(b[8:], h.CRC)

	v := h.Version
	if len(v) > suotaVersionSize-1 {
		v = v[:suotaVersionSize-1]
	}
	copy(b[12:12+suotaVersionSize], v)

	binary.LittleEndian.PutUint32(b[28:], h.Timestamp)
	binary.LittleEndian.PutUint32(b[32:], h.ExecLocation)
	return b
}

// DecodeSUOTAHeader parses the flash form of a SUOTA header.
func DecodeSUOTAHeader(b []byte) (SUOTAHeader, error) {
	if len(b) < SUOTAHeaderSize || b[0] != suotaSignature0 || b[1] != suotaSignature1 {
		return SUOTAHeader{}, errors.Wrap(ErrImageFormat, "no SUOTA signature")
	}

	v := b[12 : 12+suotaVersionSize]
	for i, c := range v {
		if c == 0 {
			v = v[:i]
			break
		}
	}

	return SUOTAHeader{
		Flags:        binary.LittleEndian.Uint16(b[2:]),
		CodeSize:     le32(b[4:]),
		CRC:          le32(b[8:]),
		Version:      string(v),
		Timestamp:    le32(b[28:]),
		ExecLocation: le32(b[32:]),
	}, nil
}

// WriteSUOTAImage writes code to the firmware execution partition and its
// header to the image header partition.
func (p *Programmer) WriteSUOTAImage(code []byte, version string, ts time.Time, flags uint16) error {
	if len(code) == 0 {
		return ErrFileEmpty
	}

	parts, err := p.ReadPartitionTable()
	if err != nil {
		return err
	}

	hdrPart, err := FindPartitionInfo(parts, storage.PartitionImageHeader)
	if err != nil {
		return err
	}
	execPart, err := FindPartitionInfo(parts, storage.PartitionFWExec)
	if err != nil {
		return err
	}
	if uint32(len(code)) > execPart.Size {
		return errors.Wrapf(ErrFileTooBig, "%d bytes, %v holds %d", len(code), execPart.Name, execPart.Size)
	}

	header := NewSUOTAHeader(code, version, ts, flags)
	logger.Infof("Writing SUOTA image %q, %d bytes, crc 0x%08x.", version, len(code), header.CRC)

	if err := p.WriteFlash(protocol.MemQSPI, hdrPart.Start, header.Encode()); err != nil {
		return err
	}
	return p.WriteFlash(protocol.MemQSPI, execPart.Start, code)
}
