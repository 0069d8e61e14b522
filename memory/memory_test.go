package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeFillsGaps(t *testing.T) {
	m := New()
	require.NoError(t, m.AddBinary(0x10, []byte{1, 2, 3}))
	require.NoError(t, m.AddBinary(0x20, []byte{4}))

	assert.Equal(t, []byte{0xFF, 1, 2, 3, 0xFF}, m.Range(0x0F, 0x14))
	assert.Equal(t, []byte{2, 3}, m.Range(0x11, 0x13))
	assert.Nil(t, m.Range(0x20, 0x20))

	start, data := m.Image()
	assert.EqualValues(t, 0x10, start)
	assert.Len(t, data, 0x11)
	assert.Equal(t, byte(4), data[0x10])
}

func TestBlocks(t *testing.T) {
	m := New()
	require.NoError(t, m.AddBinary(0x0FFE, []byte{1, 2, 3, 4}))
	require.NoError(t, m.AddBinary(0x5000, []byte{5}))

	blocks, err := m.Blocks(0x1000, 0x2000)
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	assert.EqualValues(t, 0x0000, blocks[0].Address)
	assert.Len(t, blocks[0].Data, 0x2000)
	assert.Equal(t, []byte{1, 2, 3, 4}, blocks[0].Data[0x0FFE:0x1002])
	assert.Equal(t, byte(0xFF), blocks[0].Data[0])

	assert.EqualValues(t, 0x5000, blocks[1].Address)
	assert.Len(t, blocks[1].Data, 0x1000)

	_, err = m.Blocks(0x1000, 0x1800)
	assert.Error(t, err)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	data := []byte("firmware image contents")

	hexPath := filepath.Join(dir, "fw.hex")
	require.NoError(t, Save(hexPath, 0x8000, data))

	m, err := Load(hexPath, 0)
	require.NoError(t, err)
	start, got := m.Image()
	assert.EqualValues(t, 0x8000, start)
	assert.Equal(t, data, got)

	binPath := filepath.Join(dir, "fw.bin")
	require.NoError(t, Save(binPath, 0x8000, data))
	raw, err := os.ReadFile(binPath)
	require.NoError(t, err)
	assert.Equal(t, data, raw)

	m, err = Load(binPath, 0x100)
	require.NoError(t, err)
	start, got = m.Image()
	assert.EqualValues(t, 0x100, start)
	assert.Equal(t, data, got)
}
