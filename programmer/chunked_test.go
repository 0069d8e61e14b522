package programmer

import (
	"testing"

	"github.com/janch32/uartboot/protocol"
	"github.com/janch32/uartboot/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// corruptPayloads flips a byte of every payload write of size n for which
// bad returns true. bad gets the running count of such writes.
func corruptPayloads(b *board, n int, bad func(i int) bool) {
	i := 0
	b.host.SetWriteFilter(func(p []byte) []byte {
		if len(p) != n {
			return p
		}
		i++
		if !bad(i) {
			return p
		}
		c := append([]byte(nil), p...)
		c[0] ^= 0xFF
		return c
	})
}

func TestWriteRAMAndReadMemory(t *testing.T) {
	b := newBoard(Chip690AB)
	p := b.start(t, []Option{WithWriteChunkSize(0x100), WithReadChunkSize(0x80)})

	data := pattern(0x250)
	require.NoError(t, p.WriteRAM(protocol.VirtualBufAddress+0x10, data))

	got, err := p.ReadMemory(protocol.VirtualBufAddress+0x10, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestSectorChunks(t *testing.T) {
	p := New(nil, WithWriteChunkSize(0x6000))

	var sizes []int
	next := p.sectorChunk(0x800, 0xD000, 0x6000)
	for off := 0; off < 0xD000; {
		n := next(off)
		sizes = append(sizes, n)
		off += n
	}
	assert.Equal(t, []int{0x5800, 0x6000, 0x1000, 0x800}, sizes)

	next = p.sectorChunk(0xF80, 0x100, 0x100)
	assert.Equal(t, 0x80, next(0))
	assert.Equal(t, 0x80, next(0x80))
}

func TestSectorChunksFollowChipSector(t *testing.T) {
	chunks := func(chip Chip, addr uint32, size, chunk int) []int {
		p := New(nil, WithChip(chip))
		next := p.sectorChunk(addr, size, chunk)

		var sizes []int
		for off := 0; off < size; {
			n := next(off)
			require.Positive(t, n)
			sizes = append(sizes, n)
			off += n
		}
		return sizes
	}

	big := Chip690AB
	big.FlashSectorSize = 0x10000
	assert.Equal(t, []int{0x6000, 0x6000, 0x4000, 0x6000}, chunks(big, 0, 0x16000, 0x6000))
	assert.Equal(t, []int{0x1000, 0x4}, chunks(big, 0xF000, 0x1004, 0x6000))

	small := Chip690AB
	small.FlashSectorSize = 0x800
	assert.Equal(t, []int{0x1000, 0x4}, chunks(small, 0, 0x1004, 0x6000))
	assert.Equal(t, []int{0x400, 0x4}, chunks(small, 0x400, 0x404, 0x6000))

	odd := Chip690AB
	odd.FlashSectorSize = 0x3000
	assert.Equal(t, []int{0x5000, 0x1000}, chunks(odd, 0x1000, 0x6000, 0x6000))

	assert.Equal(t, []int{0x1000, 0x4}, chunks(Chip690AB, 0, 0x1004, 0x6000))
}

func TestWriteFlashSplitsAtSector(t *testing.T) {
	b := newBoard(Chip690AB)
	// programmed cells force erases in both sectors
	require.NoError(t, b.qspi.Write(0, make([]byte, 0x1004)))
	b.qspi.ResetOps()
	p := b.start(t, nil)

	data := pattern(4100)
	require.NoError(t, p.WriteFlash(protocol.MemQSPI, 0, data))

	assert.Equal(t, 2, b.qspi.Count(storage.OpErase))

	var writes []uint32
	for _, op := range b.qspi.Ops() {
		if op.Kind == storage.OpWrite {
			writes = append(writes, op.Len)
		}
	}
	assert.Equal(t, []uint32{4096, 4}, writes)

	got, err := p.ReadFlash(protocol.MemQSPI, 0, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWriteFlashSameDataSkipsErase(t *testing.T) {
	b := newBoard(Chip690AB)
	p := b.start(t, nil)

	data := pattern(0x1800)
	require.NoError(t, p.WriteFlash(protocol.MemQSPI, 0x2000, data))
	b.qspi.ResetOps()

	require.NoError(t, p.WriteFlash(protocol.MemQSPI, 0x2000, data))
	assert.Empty(t, b.qspi.Ops())
}

func TestWriteFlashBootMagicLast(t *testing.T) {
	b := newBoard(Chip690AB)
	p := b.start(t, nil)

	image := append([]byte("qQ\x00\x00"), pattern(0x200)...)
	require.NoError(t, p.WriteFlash(protocol.MemQSPI, 0, image))

	ops := b.qspi.Ops()
	require.NotEmpty(t, ops)
	assert.Equal(t, storage.Op{Kind: storage.OpWrite, Addr: 0, Len: 2}, ops[len(ops)-1])

	got := make([]byte, len(image))
	require.NoError(t, b.qspi.Read(0, got))
	assert.Equal(t, image, got)
}

func TestWriteFlashRetriesChunk(t *testing.T) {
	b := newBoard(Chip690AB)
	p := b.start(t, []Option{WithWriteChunkSize(0x100)})

	corruptPayloads(b, 0x100, func(i int) bool { return i == 2 })

	data := pattern(0x300)
	require.NoError(t, p.WriteFlash(protocol.MemQSPI, 0x4000, data))

	got := make([]byte, len(data))
	require.NoError(t, b.qspi.Read(0x4000, got))
	assert.Equal(t, data, got)
}

func TestWriteFlashGivesUp(t *testing.T) {
	b := newBoard(Chip690AB)
	p := b.start(t, []Option{WithWriteChunkSize(0x100), WithRetries(2)})

	corruptPayloads(b, 0x100, func(int) bool { return true })

	err := p.WriteFlash(protocol.MemQSPI, 0x4000, pattern(0x200))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQSPIWrite)
	assert.ErrorIs(t, err, protocol.ErrCRCMismatch)
	assert.Equal(t, KindStorage, Kind(err))
	assert.Equal(t, -300, Code(err))

	var ce *ChunkError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 0, ce.Offset)
	assert.EqualValues(t, 0x4000, ce.Addr)
	assert.False(t, b.qspi.Programmed(0x4000))
}

func TestTransferRetryCeiling(t *testing.T) {
	b := newBoard(Chip690AB)
	p := b.start(t, []Option{WithWriteChunkSize(0x100), WithTransferRetries(1)})

	// the first attempt of every chunk fails
	corruptPayloads(b, 0x100, func(i int) bool { return i%2 == 1 })

	err := p.WriteRAM(protocol.VirtualBufAddress, pattern(0x300))
	var ce *ChunkError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 0x100, ce.Offset)
	assert.Equal(t, KindProtocol, Kind(err))
}

func TestFlashRangeChecked(t *testing.T) {
	p := newBoard(Chip690AB).start(t, nil)

	_, err := p.ReadFlash(protocol.MemQSPI, Chip690AB.QSPISize-4, 8)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	err = p.WriteFlash(protocol.MemOQSPI, 0, []byte{1})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, KindArgument, Kind(err))
}

func TestEraseAndIsEmpty(t *testing.T) {
	b := newBoard(Chip690AB)
	p := b.start(t, nil)

	require.NoError(t, p.WriteFlash(protocol.MemQSPI, 0x1800, []byte{0x00}))

	n, err := p.IsEmpty(protocol.MemQSPI, 0x1000, 0x2000)
	require.NoError(t, err)
	assert.EqualValues(t, -0x800, n)

	require.NoError(t, p.Erase(protocol.MemQSPI, 0x1000, 0x2000))

	n, err = p.IsEmpty(protocol.MemQSPI, 0x1000, 0x2000)
	require.NoError(t, err)
	assert.EqualValues(t, 0x2000, n)

	assert.ErrorIs(t, p.Erase(protocol.MemQSPI, 0, 0), ErrInvalidArgument)
}

func TestChipErase(t *testing.T) {
	b := newBoard(Chip690AB)
	require.NoError(t, b.qspi.Write(0x8000, pattern(0x100)))
	p := b.start(t, nil)

	require.NoError(t, p.ChipErase(protocol.MemQSPI))

	got, err := p.ReadFlash(protocol.MemQSPI, 0x8000, 0x100)
	require.NoError(t, err)
	for _, c := range got {
		require.Equal(t, byte(0xFF), c)
	}
}

func TestFlashInfo(t *testing.T) {
	p := newBoard(Chip690AB).start(t, nil)

	info, err := p.FlashInfo(protocol.MemQSPI)
	require.NoError(t, err)
	assert.Equal(t, storage.FlashInfo{Configured: true, Manufacturer: 0xC2, Type: 0x25, Density: 0x36}, info)
}

func TestCopyToFlash(t *testing.T) {
	b := newBoard(Chip690AB)
	p := b.start(t, nil)

	data := pattern(0x180)
	require.NoError(t, p.WriteRAM(protocol.VirtualBufAddress, data))
	require.NoError(t, p.CopyToFlash(protocol.MemQSPI, protocol.VirtualBufAddress, len(data), 0x3000))

	got := make([]byte, len(data))
	require.NoError(t, b.qspi.Read(0x3000, got))
	assert.Equal(t, data, got)

	assert.ErrorIs(t, p.CopyToFlash(protocol.MemQSPI, 0, 0x10000, 0), ErrInvalidArgument)
}

func TestOverlongChunkIsNotRetried(t *testing.T) {
	err := errors.Wrap(protocol.ErrMessageTooLong, "write 0xFFFD bytes")
	assert.Equal(t, KindArgument, Kind(err))
	assert.False(t, retryable(err))
}
