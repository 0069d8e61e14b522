package main

import (
	"context"

	"github.com/janch32/uartboot/agent"
	"github.com/janch32/uartboot/programmer"
	"github.com/janch32/uartboot/storage"
	"github.com/janch32/uartboot/transport"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	flagEmulateROM   bool
	flagEmulateTable string
)

const (
	// emulatedSector is the alignment of the emulated partition layout.
	emulatedSector   = 0x1000
	maxEmulatedFlash = 4 * 1024 * 1024
)

// Product ids the emulated agent reports, one per chip revision.
var emulatedProducts = map[string]string{
	programmer.Chip680AH.Name: "DA14681-01",
	programmer.Chip680BB.Name: "DA14683-00",
	programmer.Chip690AB.Name: "DA1469x-00",
	programmer.Chip700AB.Name: "DA1470x-00",
}

func emulatedSize(size uint32) uint32 {
	if size > maxEmulatedFlash {
		return maxEmulatedFlash
	}
	return size
}

// emulatedPartitions is the layout written when the emulated flash gets a
// partition table.
func emulatedPartitions(size uint32) []storage.Partition {
	return []storage.Partition{
		{ID: storage.PartitionFirmware, Start: 0x2000, Size: 0x7E000},
		{ID: storage.PartitionImageHeader, Start: 0x80000, Size: 0x1000},
		{ID: storage.PartitionParam, Start: 0x81000, Size: 0x2000},
		{ID: storage.PartitionFWExec, Start: 0x100000, Size: size/2 - 0x100000},
		{ID: storage.PartitionFWUpdate, Start: size / 2, Size: size/2 - 0x10000},
	}
}

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Act as a board with the agent running, backed by memory",
	Long: `emulate serves the agent protocol on the port with RAM, flash and OTP kept
in memory. With --rom it first acts as the ROM loader and waits for an agent
upload. It is meant for testing hosts over a null modem cable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagPort == "" {
			return errors.New("emulate needs --port")
		}
		chip, err := programmer.ChipByName(flagChip)
		if err != nil {
			return err
		}

		port, err := transport.Open(flagDriver, flagPort, flagInitialBaud)
		if err != nil {
			return err
		}
		defer port.Close()

		ctx := cmd.Context()

		if flagEmulateROM {
			logger.Info("ROM loader waiting for code.")
			code, err := agent.NewRomLoader(port, agent.DefaultRomInterval).WaitForCode(ctx)
			if err != nil {
				return err
			}
			logger.Infof("Received %d bytes, starting the agent.", len(code))
		}

		qspi := storage.NewMemFlash(emulatedSize(chip.QSPISize), chip.FlashSectorSize)
		opts := []agent.Option{
			agent.WithQSPI(qspi),
			agent.WithOTP(storage.NewMemOTP(chip.OTPCells(), chip.OTPCellWords, chip.OTPErased)),
			agent.WithGPIO(agent.NewWatchdogPins(agent.DefaultPortPins...)),
			agent.WithVirtualMask(chip.VirtualMask),
			agent.WithBaudRate(flagInitialBaud),
			agent.WithProductInfo(emulatedProducts[chip.Name] + "\nemulated " + chip.Name),
			agent.WithRunHook(func(r agent.RunRequest) {
				logger.Infof("Host started code at 0x%08x", r.Addr)
			}),
		}

		if chip.OQSPISize > 0 {
			opts = append(opts, agent.WithOQSPI(storage.NewMemFlash(emulatedSize(chip.OQSPISize), chip.FlashSectorSize)))
		}

		if flagEmulateTable != "" {
			addr, err := parseUint(flagEmulateTable)
			if err != nil {
				return err
			}
			if err := storage.WritePartitionTable(qspi, addr, emulatedPartitions(qspi.Size())); err != nil {
				return err
			}
			opts = append(opts, agent.WithPartitionTableAddress(addr))
		}

		err = agent.New(port, opts...).Serve(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	emulateCmd.Flags().BoolVar(&flagEmulateROM, "rom", false, "start as the ROM loader")
	emulateCmd.Flags().StringVar(&flagEmulateTable, "table", "", "write a partition table at this flash address")

	rootCmd.AddCommand(emulateCmd)
}
