package programmer

import (
	"encoding/binary"

	"github.com/janch32/uartboot/protocol"
	"github.com/pkg/errors"
)

// OTPWords turns a file into OTP words. The last word is padded with the
// blank value of the chip so no extra bits get programmed.
func OTPWords(data []byte, chip Chip) ([]uint32, error) {
	if len(data) == 0 {
		return nil, ErrFileEmpty
	}
	if len(data) > int(chip.OTPSize) {
		return nil, errors.Wrapf(ErrFileTooBig, "%d bytes, %v has %d bytes of OTP", len(data), chip, chip.OTPSize)
	}

	padded := make([]byte, (len(data)+3)&^3)
	n := copy(padded, data)
	for i := n; i < len(padded); i++ {
		padded[i] = byte(chip.OTPErased)
	}

	words := make([]uint32, len(padded)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(padded[i*4:])
	}
	return words, nil
}

// WriteOTP programs words into OTP from cell on.
//
// The cells are read first. When they already hold the data ErrOTPSame is
// returned, when any of them holds something else ErrOTPNotEmpty; nothing is
// programmed in either case. With block mode on, groups of words left at the
// blank value in words are not compared.
func (p *Programmer) WriteOTP(cell uint32, words []uint32) error {
	if err := p.ready(); err != nil {
		return err
	}
	if len(words) == 0 {
		return ErrFileEmpty
	}

	chip := p.cfg.chip
	g := chip.OTPCellWords

	want := append([]uint32(nil), words...)
	for len(want)%g != 0 {
		want = append(want, chip.OTPErased)
	}
	if uint64(cell)+uint64(len(want)/g) > uint64(chip.OTPCells()) {
		return errors.Wrapf(ErrInvalidArgument, "OTP cells %d+%d beyond %d", cell, len(want)/g, chip.OTPCells())
	}

	have, err := p.readOTP(cell, len(want))
	if err != nil {
		return err
	}

	same := true
	for i := 0; i < len(want); i += g {
		if p.dontCare(want[i : i+g]) || equalWords(want[i:i+g], have[i:i+g]) {
			continue
		}

		same = false
		if !blank(have[i:i+g], chip.OTPErased) {
			return errors.Wrapf(ErrOTPNotEmpty, "cell %d holds 0x%08x", cell+uint32(i/g), have[i])
		}
	}
	if same {
		return ErrOTPSame
	}

	if err := p.writeOTP(cell, words); err != nil {
		return err
	}

	back, err := p.readOTP(cell, len(want))
	if err != nil {
		return err
	}
	for i := 0; i < len(want); i += g {
		if !p.dontCare(want[i:i+g]) && !equalWords(want[i:i+g], back[i:i+g]) {
			return errors.Wrapf(ErrOTPVerify, "cell %d reads 0x%08x", cell+uint32(i/g), back[i])
		}
	}

	return nil
}

// ReadOTP reads n words from cell on.
func (p *Programmer) ReadOTP(cell uint32, n int) ([]uint32, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "read of %d OTP words", n)
	}

	g := p.cfg.chip.OTPCellWords
	cells := (n + g - 1) / g
	if uint64(cell)+uint64(cells) > uint64(p.cfg.chip.OTPCells()) {
		return nil, errors.Wrapf(ErrInvalidArgument, "OTP cells %d+%d beyond %d", cell, cells, p.cfg.chip.OTPCells())
	}

	words, err := p.readOTP(cell, n)
	if err != nil {
		return nil, err
	}
	return words, nil
}

func (p *Programmer) dontCare(group []uint32) bool {
	return p.cfg.otpBlockMode && blank(group, p.cfg.chip.OTPErased)
}

// otpChunk is the largest transfer that keeps whole cells inside chunk bytes.
func (p *Programmer) otpChunk(chunk int) int {
	cellBytes := 4 * p.cfg.chip.OTPCellWords
	return chunk / cellBytes * cellBytes
}

func (p *Programmer) otpAddr(cell uint32) uint32 {
	return p.cfg.chip.OTPStart + cell*uint32(4*p.cfg.chip.OTPCellWords)
}

func (p *Programmer) readOTP(cell uint32, n int) ([]uint32, error) {
	cellBytes := 4 * p.cfg.chip.OTPCellWords
	out := make([]uint32, n)

	err := p.transfer("read OTP", p.otpAddr(cell), n*4, ErrOTPRead, p.fixedChunk(n*4, p.otpChunk(p.cfg.readChunk)),
		func(off, size int) error {
			h := protocol.ReadOTPHeader{Addr: cell + uint32(off/cellBytes), Len: uint16(size / 4)}
			resp, err := p.link.Query(h, protocol.ShortExecTimeout, size)
			if err != nil {
				return err
			}
			for i := 0; i < size/4; i++ {
				out[off/4+i] = binary.LittleEndian.Uint32(resp[i*4:])
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Programmer) writeOTP(cell uint32, words []uint32) error {
	cellBytes := 4 * p.cfg.chip.OTPCellWords

	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}

	return p.transfer("write OTP", p.otpAddr(cell), len(buf), ErrOTPWrite, p.fixedChunk(len(buf), p.otpChunk(p.cfg.writeChunk)),
		func(off, size int) error {
			h := protocol.WriteOTPHeader{Addr: cell + uint32(off/cellBytes)}
			return p.link.Execute(h, protocol.ShortExecTimeout, buf[off:off+size])
		})
}

func blank(group []uint32, erased uint32) bool {
	for _, w := range group {
		if w != erased {
			return false
		}
	}
	return true
}

func equalWords(a, b []uint32) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
