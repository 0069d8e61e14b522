// Package memory loads and saves firmware images as sparse memory contents.
package memory

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
)

// Memory is the content of a firmware file: segments of data at addresses.
type Memory struct {
	*gohex.Memory
}

// Block is a contiguous piece of memory ready to be written.
type Block struct {
	Address uint32
	Data    []byte
}

// New returns an empty memory.
func New() *Memory {
	return &Memory{gohex.NewMemory()}
}

func (m *Memory) segments() []gohex.DataSegment {
	segs := m.GetDataSegments()
	sort.Slice(segs, func(i, j int) bool { return segs[i].Address < segs[j].Address })
	return segs
}

// Range returns the bytes in [from, to). Addresses no segment covers read
// as 0xFF, the value of erased flash.
func (m *Memory) Range(from, to uint32) []byte {
	if to <= from {
		return nil
	}

	res := make([]byte, to-from)
	for i := range res {
		res[i] = 0xFF
	}

	for _, seg := range m.segments() {
		segEnd := seg.Address + uint32(len(seg.Data))
		if segEnd <= from || seg.Address >= to {
			continue
		}

		start := seg.Address
		if start < from {
			start = from
		}
		end := segEnd
		if end > to {
			end = to
		}

		copy(res[start-from:end-from], seg.Data[start-seg.Address:end-seg.Address])
	}

	return res
}

// Span returns the lowest and one past the highest used address.
func (m *Memory) Span() (uint32, uint32) {
	segs := m.segments()
	if len(segs) == 0 {
		return 0, 0
	}

	start := segs[0].Address
	end := start
	for _, seg := range segs {
		if e := seg.Address + uint32(len(seg.Data)); e > end {
			end = e
		}
	}
	return start, end
}

// Image flattens the memory into one buffer starting at the lowest used
// address.
func (m *Memory) Image() (uint32, []byte) {
	start, end := m.Span()
	return start, m.Range(start, end)
}

// Blocks covers the used memory with blocks aligned to blockSize. Adjacent
// blocks are merged until they reach maxBlockSize, gaps inside a block read
// as 0xFF.
func (m *Memory) Blocks(blockSize, maxBlockSize int) ([]Block, error) {
	if blockSize <= 0 || maxBlockSize%blockSize != 0 {
		return nil, errors.Errorf("block size %d does not divide %d", blockSize, maxBlockSize)
	}

	bs := uint32(blockSize)
	used := map[uint32]bool{}
	for _, seg := range m.segments() {
		if len(seg.Data) == 0 {
			continue
		}
		first := seg.Address / bs * bs
		last := (seg.Address + uint32(len(seg.Data)) - 1) / bs * bs
		for b := first; b <= last; b += bs {
			used[b] = true
		}
	}

	addrs := make([]uint32, 0, len(used))
	for b := range used {
		addrs = append(addrs, b)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	var blocks []Block
	for i := 0; i < len(addrs); {
		start := addrs[i]
		end := start + bs
		i++
		for i < len(addrs) && addrs[i] == end && int(end-start) < maxBlockSize {
			end += bs
			i++
		}

		blocks = append(blocks, Block{Address: start, Data: m.Range(start, end)})
	}

	return blocks, nil
}

// LoadHexFile reads an Intel HEX file.
func LoadHexFile(path string) (*Memory, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer file.Close()

	mem := New()
	if err := mem.ParseIntelHex(file); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}

	return mem, nil
}

// LoadBinFile reads a raw binary placed at base.
func LoadBinFile(path string, base uint32) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	mem := New()
	if len(data) > 0 {
		if err := mem.AddBinary(base, data); err != nil {
			return nil, err
		}
	}
	return mem, nil
}

// IsHexFile tells Intel HEX files from raw binaries by their extension.
func IsHexFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex", ".ihx":
		return true
	}
	return false
}

// Load reads an Intel HEX file or a raw binary placed at base.
func Load(path string, base uint32) (*Memory, error) {
	if IsHexFile(path) {
		return LoadHexFile(path)
	}
	return LoadBinFile(path, base)
}

// Save writes data at base to path, as Intel HEX when the extension says so
// and as a raw binary otherwise.
func Save(path string, base uint32, data []byte) error {
	if !IsHexFile(path) {
		return os.WriteFile(path, data, 0644)
	}

	mem := New()
	if err := mem.AddBinary(base, data); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := mem.DumpIntelHex(file, 16); err != nil {
		file.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return file.Close()
}
