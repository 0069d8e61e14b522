package transport

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPipeDeliversBytes(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	_, err := a.Write([]byte{1, 2, 3})
	require.NoError(t, err)

	buf := make([]byte, 8)
	n, err := b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, buf[:n])
}

func TestPipeReadTimeout(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	require.NoError(t, b.SetReadTimeout(20*time.Millisecond))

	start := time.Now()
	n, err := b.Read(make([]byte, 1))
	require.NoError(t, err)
	require.Zero(t, n)
	require.True(t, time.Since(start) >= 20*time.Millisecond)
}

func TestPipeCloseGivesEOF(t *testing.T) {
	a, b := Pipe()

	_, err := a.Write([]byte{0x42})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	buf := make([]byte, 1)
	n, err := b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = b.Read(buf)
	require.Equal(t, io.EOF, err)
}

func TestPipeWriteFilterAndReset(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	a.SetWriteFilter(func(p []byte) []byte {
		p[0] ^= 0xFF
		return p
	})

	_, err := a.Write([]byte{0x0F, 0x01})
	require.NoError(t, err)

	buf := make([]byte, 2)
	n, err := b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0xF0, 0x01}, buf[:n])

	_, err = a.Write([]byte{0x00})
	require.NoError(t, err)
	require.NoError(t, b.ResetInputBuffer())
	require.NoError(t, b.SetReadTimeout(10*time.Millisecond))

	n, err = b.Read(buf)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("usb", "/dev/null", 9600)
	require.Equal(t, ErrUnknownDriver, err)
}
