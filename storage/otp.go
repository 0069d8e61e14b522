package storage

import (
	"sync"

	"github.com/pkg/errors"
)

// OTP is one-time programmable memory addressed in cells of one or two
// 32-bit words.
type OTP interface {
	// Cells returns the number of addressable cells.
	Cells() uint32

	// WordsPerCell is 1 for 32-bit and 2 for 64-bit cells.
	WordsPerCell() int

	// Erased is the value of a word that was never programmed.
	Erased() uint32

	// Read returns n words starting at the first word of cell.
	Read(cell uint32, n int) ([]uint32, error)

	// Program writes words starting at the first word of cell.
	Program(cell uint32, words []uint32) error
}

// MemOTP keeps OTP contents in memory. Programming moves bits away from the
// erased value only: with an erased value of all ones bits can be cleared,
// with zero they can be set.
type MemOTP struct {
	mu           sync.Mutex
	words        []uint32
	wordsPerCell int
	erased       uint32
	programs     int
}

// NewMemOTP returns an erased OTP of cells cells.
func NewMemOTP(cells uint32, wordsPerCell int, erased uint32) *MemOTP {
	o := &MemOTP{
		words:        make([]uint32, int(cells)*wordsPerCell),
		wordsPerCell: wordsPerCell,
		erased:       erased,
	}

	for i := range o.words {
		o.words[i] = erased
	}

	return o
}

// Cells returns the number of cells.
func (o *MemOTP) Cells() uint32 {
	return uint32(len(o.words) / o.wordsPerCell)
}

// WordsPerCell returns the cell width in words.
func (o *MemOTP) WordsPerCell() int {
	return o.wordsPerCell
}

// Erased returns the value of an unprogrammed word.
func (o *MemOTP) Erased() uint32 {
	return o.erased
}

func (o *MemOTP) span(cell uint32, n int) (int, error) {
	first := int(cell) * o.wordsPerCell
	if n < 0 || first+n > len(o.words) {
		return 0, errors.Wrapf(ErrOutOfRange, "otp cell 0x%x+%d words", cell, n)
	}
	return first, nil
}

func (o *MemOTP) Read(cell uint32, n int) ([]uint32, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	first, err := o.span(cell, n)
	if err != nil {
		return nil, err
	}

	return append([]uint32(nil), o.words[first:first+n]...), nil
}

// Program burns words into the OTP.
func (o *MemOTP) Program(cell uint32, words []uint32) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	first, err := o.span(cell, len(words))
	if err != nil {
		return err
	}

	for i, w := range words {
		if o.erased == 0 {
			o.words[first+i] |= w
		} else {
			o.words[first+i] &= w
		}
	}

	o.programs++
	return nil
}

// Programs returns how many Program calls were made.
func (o *MemOTP) Programs() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.programs
}
