package programmer

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// vectorImage returns a binary whose vector table points into system RAM.
func vectorImage(chip Chip, n int) []byte {
	b := pattern(n)
	binary.LittleEndian.PutUint32(b[0:], chip.SysRAMStart+0x8000)
	binary.LittleEndian.PutUint32(b[4:], chip.SysRAMStart+0x201)
	return b
}

func TestFillImageHeader(t *testing.T) {
	h, err := FillImageHeader(0x1234, ImageQSPI, ImageMirrored)
	require.NoError(t, err)
	assert.Equal(t, []byte{'q', 'Q', 0, 0, 0, 0, 0x12, 0x34}, h)

	h, err = FillImageHeader(0x1234, ImageQSPI, ImageCached)
	require.NoError(t, err)
	assert.Equal(t, []byte{'q', 'Q', 0, 0, 0x80, 0, 0x12, 0x2C}, h)

	h, err = FillImageHeader(0x1234, ImageQSPISecure, ImageMirrored)
	require.NoError(t, err)
	assert.Equal(t, []byte{'p', 'P', 0, 0, 0, 0, 0x12, 0x34}, h)

	// 13 bytes pad to 16, which is 4 words
	h, err = FillImageHeader(13, ImageOTP, ImageMirrored)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 0, 0, 0}, h)

	h, err = FillImageHeader(13, ImageOTP, ImageCached)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 0, 0, 0x80}, h)

	_, err = FillImageHeader(13, ImageType(9), ImageMirrored)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMakeMirroredImage(t *testing.T) {
	bin := vectorImage(Chip690AB, 0x400)

	img, err := MakeImage(bin, Chip690AB, ImageQSPI, ImageMirrored)
	require.NoError(t, err)
	require.Len(t, img, len(bin)+ImageHeaderSize)
	assert.Equal(t, []byte("qQ"), img[:2])
	assert.EqualValues(t, len(bin), binary.BigEndian.Uint32(img[4:]))
	assert.Equal(t, bin, img[ImageHeaderSize:])
}

func TestMakeCachedImage(t *testing.T) {
	bin := vectorImage(Chip690AB, 0x400)

	img, err := MakeImage(bin, Chip690AB, ImageQSPI, ImageCached)
	require.NoError(t, err)
	require.Len(t, img, len(bin))

	// the vector table moved behind the header, the rest stayed
	assert.Equal(t, bin[:Chip690AB.RAMAt0Size-ImageHeaderSize], img[ImageHeaderSize:Chip690AB.RAMAt0Size])
	assert.Equal(t, bin[Chip690AB.RAMAt0Size:], img[Chip690AB.RAMAt0Size:])

	_, err = MakeImage(vectorImage(Chip690AB, 0x100), Chip690AB, ImageQSPI, ImageCached)
	assert.ErrorIs(t, err, ErrInsufficientBuffer)
}

func TestMakeOTPImage(t *testing.T) {
	bin := vectorImage(Chip680BB, 0x105)

	img, err := MakeImage(bin, Chip680BB, ImageOTP, ImageMirrored)
	require.NoError(t, err)
	require.Len(t, img, 4+0x108)
	assert.EqualValues(t, 0x108/4, binary.LittleEndian.Uint32(img))
	assert.Equal(t, bin, img[4:4+len(bin)])
	assert.Equal(t, []byte{0, 0, 0}, img[4+len(bin):])
}

func TestMakeImageChecksVectors(t *testing.T) {
	bin := vectorImage(Chip690AB, 0x400)
	binary.LittleEndian.PutUint32(bin[0:], 0x50)

	_, err := MakeImage(bin, Chip690AB, ImageQSPI, ImageMirrored)
	assert.ErrorIs(t, err, ErrImageFormat)

	bin = vectorImage(Chip690AB, 0x400)
	binary.LittleEndian.PutUint32(bin[4:], 0x90000000)
	_, err = MakeImage(bin, Chip690AB, ImageQSPI, ImageMirrored)
	assert.ErrorIs(t, err, ErrImageFormat)

	// reset handler in memory mapped flash
	binary.LittleEndian.PutUint32(bin[4:], Chip690AB.QSPIStart+0x1001)
	_, err = MakeImage(bin, Chip690AB, ImageQSPI, ImageMirrored)
	assert.NoError(t, err)

	_, err = MakeImage([]byte{1, 2}, Chip690AB, ImageQSPI, ImageMirrored)
	assert.ErrorIs(t, err, ErrImageFormat)
}

func TestSUOTAHeaderEncoding(t *testing.T) {
	h := SUOTAHeader{
		Flags:        0x0102,
		CodeSize:     0x1000,
		CRC:          0xCAFEBABE,
		Version:      "a-very-long-version-string",
		Timestamp:    42,
		ExecLocation: SUOTAHeaderSize,
	}

	b := h.Encode()
	require.Len(t, b, SUOTAHeaderSize)
	assert.Equal(t, []byte{0x70, 0x51, 0x02, 0x01}, b[:4])
	assert.Equal(t, byte(0), b[27])

	got, err := DecodeSUOTAHeader(b)
	require.NoError(t, err)
	assert.Equal(t, "a-very-long-ver", got.Version)
	got.Version = h.Version
	assert.Equal(t, h, got)

	_, err = DecodeSUOTAHeader(make([]byte, SUOTAHeaderSize))
	assert.ErrorIs(t, err, ErrImageFormat)
}

func TestChipLookup(t *testing.T) {
	c, err := ChipByName("690ab")
	require.NoError(t, err)
	assert.Equal(t, Chip690AB, c)

	c, err = ChipByName("DA14680AH")
	require.NoError(t, err)
	assert.EqualValues(t, 0x100, c.RAMAt0Size)

	_, err = ChipByName("585")
	assert.ErrorIs(t, err, ErrUnknownChip)

	c, err = ChipByProductID("DA15001-00")
	require.NoError(t, err)
	assert.Equal(t, Chip680BB, c)

	_, err = ChipByProductID("DA14585-00")
	assert.ErrorIs(t, err, ErrUnknownProductID)
	assert.Equal(t, -345, Code(err))

	assert.EqualValues(t, 1024, Chip690AB.OTPCells())
	assert.EqualValues(t, 8192, Chip680AH.OTPCells())
}
