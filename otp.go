package main

import (
	"fmt"
	"os"

	"github.com/janch32/uartboot/programmer"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var flagBlock bool

// writeOTP programs words and treats cells already holding them as done.
func writeOTP(cmd *cobra.Command, cell uint32, words []uint32) error {
	return withSession(cmd.Context(), func(p *programmer.Programmer) error {
		err := p.WriteOTP(cell, words)
		if errors.Is(err, programmer.ErrOTPSame) {
			logger.Info("OTP already holds the data.")
			return nil
		}
		return err
	}, programmer.WithOTPBlockMode(flagBlock))
}

var writeOTPCmd = &cobra.Command{
	Use:   "write-otp CELL WORD...",
	Short: "Program 32 bit words into OTP",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cell, err := parseUint(args[0])
		if err != nil {
			return err
		}

		words := make([]uint32, len(args)-1)
		for i, a := range args[1:] {
			if words[i], err = parseUint(a); err != nil {
				return err
			}
		}
		return writeOTP(cmd, cell, words)
	},
}

var writeOTPFileCmd = &cobra.Command{
	Use:   "write-otp-file CELL FILE",
	Short: "Program a binary file into OTP",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cell, err := parseUint(args[0])
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		chip, err := programmer.ChipByName(flagChip)
		if err != nil {
			return err
		}

		words, err := programmer.OTPWords(data, chip)
		if err != nil {
			return err
		}
		return writeOTP(cmd, cell, words)
	},
}

var readOTPCmd = &cobra.Command{
	Use:   "read-otp CELL WORDS",
	Short: "Read 32 bit words from OTP",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cell, err := parseUint(args[0])
		if err != nil {
			return err
		}
		n, err := parseUint(args[1])
		if err != nil {
			return err
		}

		return withSession(cmd.Context(), func(p *programmer.Programmer) error {
			words, err := p.ReadOTP(cell, int(n))
			if err != nil {
				return err
			}

			per := p.Chip().OTPCellWords
			for i := 0; i < len(words); i += per {
				fmt.Printf("%4d:", int(cell)+i/per)
				for _, w := range words[i:min(i+per, len(words))] {
					fmt.Printf(" %08x", w)
				}
				fmt.Println()
			}
			return nil
		})
	},
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func init() {
	for _, c := range []*cobra.Command{writeOTPCmd, writeOTPFileCmd} {
		c.Flags().BoolVar(&flagBlock, "block", false, "leave blank word groups of the data unchecked")
	}
	rootCmd.AddCommand(writeOTPCmd, writeOTPFileCmd, readOTPCmd)
}
