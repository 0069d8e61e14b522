package programmer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var otpWords = []uint32{
	0x01234567, 0x89ABCDEF, 0xDEADBEEF, 0x00000000,
	0x11111111, 0x22222222, 0x33333333, 0x44444444,
}

func TestWriteOTPOnce(t *testing.T) {
	b := newBoard(Chip690AB)
	p := b.start(t, nil)

	require.NoError(t, p.WriteOTP(16, otpWords))

	got, err := p.ReadOTP(16, len(otpWords))
	require.NoError(t, err)
	assert.Equal(t, otpWords, got)
	assert.Equal(t, 1, b.otp.Programs())

	// the same data again is reported, not written
	err = p.WriteOTP(16, otpWords)
	assert.ErrorIs(t, err, ErrOTPSame)
	assert.NotErrorIs(t, err, ErrOTPNotEmpty)
	assert.Equal(t, 1, b.otp.Programs())
}

func TestWriteOTPRefusesProgrammedCells(t *testing.T) {
	b := newBoard(Chip690AB)
	p := b.start(t, nil)

	require.NoError(t, p.WriteOTP(0, otpWords))
	before, err := p.ReadOTP(0, len(otpWords))
	require.NoError(t, err)

	other := append([]uint32(nil), otpWords...)
	other[5] = 0x12345678

	err = p.WriteOTP(0, other)
	assert.ErrorIs(t, err, ErrOTPNotEmpty)
	assert.Equal(t, KindStorage, Kind(err))
	assert.Equal(t, -313, Code(err))

	after, err := p.ReadOTP(0, len(otpWords))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, b.otp.Programs())
}

func TestWriteOTPBlockMode(t *testing.T) {
	b := newBoard(Chip690AB)
	p := b.start(t, []Option{WithOTPBlockMode(true)})

	require.NoError(t, p.WriteOTP(0, []uint32{0xAAAAAAAA}))

	// the first word is left blank and so not compared
	require.NoError(t, p.WriteOTP(0, []uint32{0xFFFFFFFF, 0x55555555}))

	got, err := p.ReadOTP(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0xAAAAAAAA, 0x55555555}, got)
}

func TestWriteOTP64BitCells(t *testing.T) {
	b := newBoard(Chip680BB)
	p := b.start(t, nil)

	words := []uint32{0x11, 0x22, 0x33}
	require.NoError(t, p.WriteOTP(4, words))

	got, err := p.ReadOTP(4, 4)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x11, 0x22, 0x33, 0}, got)

	assert.ErrorIs(t, p.WriteOTP(4, words), ErrOTPSame)
	assert.ErrorIs(t, p.WriteOTP(5, []uint32{0x44, 0x55}), ErrOTPNotEmpty)
}

func TestOTPRangeChecked(t *testing.T) {
	p := newBoard(Chip690AB).start(t, nil)

	assert.ErrorIs(t, p.WriteOTP(Chip690AB.OTPCells()-1, []uint32{1, 2}), ErrInvalidArgument)
	_, err := p.ReadOTP(Chip690AB.OTPCells(), 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, p.WriteOTP(0, nil), ErrFileEmpty)
}

func TestOTPWords(t *testing.T) {
	words, err := OTPWords([]byte{1, 2, 3, 4, 5}, Chip690AB)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x04030201, 0xFFFFFF05}, words)

	words, err = OTPWords([]byte{1, 2, 3, 4, 5, 6}, Chip700AB)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x04030201, 0xFFFF0605}, words)

	// blank 680 cells read as zero
	words, err = OTPWords([]byte{1, 2, 3, 4, 5}, Chip680BB)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x04030201, 0x00000005}, words)

	words, err = OTPWords([]byte{1, 2, 3, 4}, Chip690AB)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x04030201}, words)

	_, err = OTPWords(nil, Chip690AB)
	assert.ErrorIs(t, err, ErrFileEmpty)

	_, err = OTPWords(make([]byte, Chip690AB.OTPSize+1), Chip690AB)
	assert.ErrorIs(t, err, ErrFileTooBig)
}
