package main

import (
	"context"

	"github.com/janch32/uartboot/memory"
	"github.com/janch32/uartboot/programmer"
	"github.com/spf13/cobra"
)

var writeRAMCmd = &cobra.Command{
	Use:   "write-ram ADDR FILE",
	Short: "Write a file to RAM",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseUint(args[0])
		if err != nil {
			return err
		}
		content, err := loadFile(args[1], addr)
		if err != nil {
			return err
		}

		return withSession(cmd.Context(), func(p *programmer.Programmer) error {
			start, data := content.Image()
			return p.WriteRAM(start, data)
		})
	},
}

var readRAMCmd = &cobra.Command{
	Use:   "read-ram ADDR SIZE FILE",
	Short: "Read RAM into a .bin or .hex file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseUint(args[0])
		if err != nil {
			return err
		}
		size, err := parseUint(args[1])
		if err != nil {
			return err
		}

		return withSession(cmd.Context(), func(p *programmer.Programmer) error {
			data, err := p.ReadMemory(addr, int(size))
			if err != nil {
				return err
			}
			return memory.Save(args[2], addr, data)
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run FILE",
	Short: "Load an executable through the agent and start it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := loadFile(args[0], 0)
		if err != nil {
			return err
		}

		return withSession(cmd.Context(), func(p *programmer.Programmer) error {
			_, image := content.Image()
			return p.Run(image)
		})
	},
}

var bootCmd = &cobra.Command{
	Use:   "boot FILE",
	Short: "Hand an executable straight to the ROM loader",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := loadFile(args[0], 0)
		if err != nil {
			return err
		}

		p, err := openProgrammer()
		if err != nil {
			return err
		}
		defer p.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout+programmer.DefaultResetTimeout)
		defer cancel()

		_, image := content.Image()
		return p.Boot(ctx, image)
	},
}

func init() {
	rootCmd.AddCommand(writeRAMCmd, readRAMCmd, runCmd, bootCmd)
}
