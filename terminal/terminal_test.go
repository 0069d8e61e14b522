package terminal

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/janch32/uartboot/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAttachRelaysBothWays(t *testing.T) {
	host, dev := transport.Pipe()
	require.NoError(t, host.SetReadTimeout(20*time.Millisecond))

	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	inR, inW := io.Pipe()
	go func() { done <- Attach(ctx, host, inR, out) }()

	_, err := dev.Write([]byte("boot ok\r\n"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return strings.Contains(out.String(), "boot ok") }, time.Second, 10*time.Millisecond)

	_, err = inW.Write([]byte("help\n"))
	require.NoError(t, err)

	got := make([]byte, 5)
	n := 0
	deadline := time.Now().Add(time.Second)
	for n < len(got) && time.Now().Before(deadline) {
		m, err := dev.Read(got[n:])
		require.NoError(t, err)
		n += m
	}
	assert.Equal(t, "help\n", string(got[:n]))

	inW.Close()
	assert.NoError(t, <-done)
}

func TestAttachStopsWithContext(t *testing.T) {
	host, _ := transport.Pipe()
	require.NoError(t, host.SetReadTimeout(20*time.Millisecond))

	inR, _ := io.Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.NoError(t, Attach(ctx, host, inR, &syncBuffer{}))
}
