package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/janch32/uartboot/programmer"
	"github.com/janch32/uartboot/storage"
	"github.com/spf13/cobra"
)

var (
	flagSUOTAVersion string
	flagSUOTAFlags   uint16
)

// parsePartition accepts a partition number or its NVMS name, with or
// without the NVMS_ prefix.
func parsePartition(s string) (storage.PartitionID, error) {
	name := strings.ToUpper(s)
	if id, ok := storage.PartitionIDByName(name); ok {
		return id, nil
	}
	if id, ok := storage.PartitionIDByName("NVMS_" + name); ok {
		return id, nil
	}

	v, err := parseUint(s)
	if err != nil {
		return 0, err
	}
	return storage.PartitionID(v), nil
}

var partitionsCmd = &cobra.Command{
	Use:   "partitions",
	Short: "Show the partition table of the QSPI flash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(p *programmer.Programmer) error {
			parts, err := p.ReadPartitionTable()
			if err != nil {
				return err
			}
			for _, pi := range parts {
				fmt.Printf("%3d %v\n", pi.ID, pi)
			}
			return nil
		})
	},
}

var readPartitionCmd = &cobra.Command{
	Use:   "read-partition ID OFFSET SIZE FILE",
	Short: "Read part of a partition into a file",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePartition(args[0])
		if err != nil {
			return err
		}
		off, err := parseUint(args[1])
		if err != nil {
			return err
		}
		size, err := parseUint(args[2])
		if err != nil {
			return err
		}

		return withSession(cmd.Context(), func(p *programmer.Programmer) error {
			data, err := p.ReadPartition(id, off, int(size))
			if err != nil {
				return err
			}
			return os.WriteFile(args[3], data, 0644)
		})
	},
}

var writePartitionCmd = &cobra.Command{
	Use:   "write-partition ID OFFSET FILE",
	Short: "Write a binary file into a partition",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePartition(args[0])
		if err != nil {
			return err
		}
		off, err := parseUint(args[1])
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[2])
		if err != nil {
			return err
		}

		return withSession(cmd.Context(), func(p *programmer.Programmer) error {
			return p.WritePartition(id, off, data)
		})
	},
}

var writeSUOTACmd = &cobra.Command{
	Use:   "write-suota FILE",
	Short: "Write firmware with its SUOTA header into the update partitions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		return withSession(cmd.Context(), func(p *programmer.Programmer) error {
			return p.WriteSUOTAImage(code, flagSUOTAVersion, time.Now(), flagSUOTAFlags)
		})
	},
}

func init() {
	writeSUOTACmd.Flags().StringVar(&flagSUOTAVersion, "version", "0.0.0.0", "version string stored in the header")
	writeSUOTACmd.Flags().Uint16Var(&flagSUOTAFlags, "flags", 0, "header flags")

	rootCmd.AddCommand(partitionsCmd, readPartitionCmd, writePartitionCmd, writeSUOTACmd)
}
