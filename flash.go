package main

import (
	"fmt"

	"github.com/janch32/uartboot/memory"
	"github.com/janch32/uartboot/programmer"
	"github.com/spf13/cobra"
)

var (
	flagMem  string
	flagAddr string
)

// Hex records are merged into writes of whole 16 byte lines. A contiguous
// image becomes one write, so the boot magic of an image at 0 is held back
// until the rest is in flash.
const (
	hexLine       = 16
	maxFlashBlock = 1 << 26
)

func memFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagMem, "mem", "qspi", "flash to use: qspi or oqspi")
}

var writeFlashCmd = &cobra.Command{
	Use:   "write-flash FILE",
	Short: "Write a .bin or .hex file to flash, erasing only what changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mem, err := parseMemory(flagMem)
		if err != nil {
			return err
		}
		base, err := parseUint(flagAddr)
		if err != nil {
			return err
		}
		content, err := loadFile(args[0], base)
		if err != nil {
			return err
		}
		blocks, err := content.Blocks(hexLine, maxFlashBlock)
		if err != nil {
			return err
		}

		return withSession(cmd.Context(), func(p *programmer.Programmer) error {
			for _, b := range blocks {
				logger.Infof("Writing %d bytes to %v at 0x%x", len(b.Data), mem, b.Address)
				if err := p.WriteFlash(mem, b.Address, b.Data); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

var readFlashCmd = &cobra.Command{
	Use:   "read-flash ADDR SIZE FILE",
	Short: "Read flash into a .bin or .hex file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		mem, err := parseMemory(flagMem)
		if err != nil {
			return err
		}
		addr, err := parseUint(args[0])
		if err != nil {
			return err
		}
		size, err := parseUint(args[1])
		if err != nil {
			return err
		}

		return withSession(cmd.Context(), func(p *programmer.Programmer) error {
			data, err := p.ReadFlash(mem, addr, int(size))
			if err != nil {
				return err
			}
			return memory.Save(args[2], addr, data)
		})
	},
}

var eraseFlashCmd = &cobra.Command{
	Use:   "erase-flash ADDR SIZE",
	Short: "Erase the sectors covering a range of flash",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mem, err := parseMemory(flagMem)
		if err != nil {
			return err
		}
		addr, err := parseUint(args[0])
		if err != nil {
			return err
		}
		size, err := parseUint(args[1])
		if err != nil {
			return err
		}

		return withSession(cmd.Context(), func(p *programmer.Programmer) error {
			return p.Erase(mem, addr, size)
		})
	},
}

var chipEraseCmd = &cobra.Command{
	Use:   "chip-erase",
	Short: "Erase the whole flash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mem, err := parseMemory(flagMem)
		if err != nil {
			return err
		}

		return withSession(cmd.Context(), func(p *programmer.Programmer) error {
			return p.ChipErase(mem)
		})
	},
}

var isEmptyCmd = &cobra.Command{
	Use:   "is-empty START SIZE",
	Short: "Check whether a range of flash is erased",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mem, err := parseMemory(flagMem)
		if err != nil {
			return err
		}
		start, err := parseUint(args[0])
		if err != nil {
			return err
		}
		size, err := parseUint(args[1])
		if err != nil {
			return err
		}

		return withSession(cmd.Context(), func(p *programmer.Programmer) error {
			n, err := p.IsEmpty(mem, start, size)
			if err != nil {
				return err
			}
			if n <= 0 {
				fmt.Printf("not empty, first programmed byte at 0x%x\n", start+uint32(-n))
			} else {
				fmt.Printf("empty, %d bytes checked\n", n)
			}
			return nil
		})
	},
}

var flashInfoCmd = &cobra.Command{
	Use:   "flash-info",
	Short: "Show the JEDEC identification of the flash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mem, err := parseMemory(flagMem)
		if err != nil {
			return err
		}

		return withSession(cmd.Context(), func(p *programmer.Programmer) error {
			info, err := p.FlashInfo(mem)
			if err != nil {
				return err
			}
			fmt.Printf("configured:   %v\n", info.Configured)
			fmt.Printf("manufacturer: 0x%02x\n", info.Manufacturer)
			fmt.Printf("type:         0x%02x\n", info.Type)
			fmt.Printf("density:      0x%02x\n", info.Density)
			return nil
		})
	},
}

var copyFlashCmd = &cobra.Command{
	Use:   "copy-flash SRC SIZE DST",
	Short: "Copy agent memory to flash",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		mem, err := parseMemory(flagMem)
		if err != nil {
			return err
		}
		var v [3]uint32
		for i := range v {
			if v[i], err = parseUint(args[i]); err != nil {
				return err
			}
		}

		return withSession(cmd.Context(), func(p *programmer.Programmer) error {
			return p.CopyToFlash(mem, v[0], int(v[1]), v[2])
		})
	},
}

func init() {
	writeFlashCmd.Flags().StringVar(&flagAddr, "addr", "0", "address of a .bin file")

	for _, c := range []*cobra.Command{writeFlashCmd, readFlashCmd, eraseFlashCmd, chipEraseCmd, isEmptyCmd, flashInfoCmd, copyFlashCmd} {
		memFlag(c)
		rootCmd.AddCommand(c)
	}
}
