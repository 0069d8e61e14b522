package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/janch32/uartboot/agent"
	"github.com/janch32/uartboot/discover"
	"github.com/janch32/uartboot/programmer"
	"github.com/janch32/uartboot/protocol"
	"github.com/janch32/uartboot/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var (
	logger *logrus.Logger

	flagPort            string
	flagDriver          string
	flagInitialBaud     int
	flagBaud            int
	flagTimeout         time.Duration
	flagWriteChunk      int
	flagReadChunk       int
	flagRetries         int
	flagTransferRetries int
	flagChip            string
	flagAgent           string
	flagAutoReset       bool
	flagNoProgress      bool
	flagVerbose         bool
)

var rootCmd = &cobra.Command{
	Use:   "uartboot",
	Short: "Program RAM, OTP and flash of a board over its UART boot loader",
	Long: `uartboot talks to the ROM loader and the uploaded boot agent of a board over
a serial line. It writes and reads RAM, QSPI and OQSPI flash, OTP and flash
partitions, and boots or runs executables.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagVerbose {
			logger.SetLevel(logrus.DebugLevel)
		}
	},
}

func initLogger() {
	formatter := &prefixed.TextFormatter{
		DisableColors:   false,
		TimestampFormat: "15:04:05",
		FullTimestamp:   true,
		ForceFormatting: true,
	}

	logger = logrus.New()

	logger.SetFormatter(formatter)
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.InfoLevel)

	protocol.SetLogger(logger)
	storage.SetLogger(logger)
	agent.SetLogger(logger)
	programmer.SetLogger(logger)
}

func init() {
	initLogger()

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&flagPort, "port", "p", "", "serial port of the board (found automatically when empty)")
	flags.StringVar(&flagDriver, "driver", "serial", "port driver: serial or term")
	flags.IntVar(&flagInitialBaud, "initial-baud", programmer.DefaultInitialBaudRate, "baud rate of the ROM loader")
	flags.IntVar(&flagBaud, "baud", programmer.DefaultInitialBaudRate, "baud rate to switch the agent to")
	flags.DurationVar(&flagTimeout, "timeout", 5*time.Second, "how long to wait for the board")
	flags.IntVar(&flagWriteChunk, "write-chunk", protocol.SerialWriteChunkSize, "bytes per write command")
	flags.IntVar(&flagReadChunk, "read-chunk", protocol.SerialReadChunkSize, "bytes per read command")
	flags.IntVar(&flagRetries, "retries", programmer.DefaultRetries, "resends of one chunk")
	flags.IntVar(&flagTransferRetries, "transfer-retries", 0, "resends over a whole transfer, 0 for no limit")
	flags.StringVar(&flagChip, "chip", "690AB", "chip revision: 680AH, 680BB, 690AB or 700AB")
	flags.StringVar(&flagAgent, "agent", "", "boot agent image (.bin or .hex) uploaded when only the ROM answers")
	flags.BoolVar(&flagAutoReset, "reset", false, "reset the board through DTR instead of asking")
	flags.BoolVar(&flagNoProgress, "no-progress", false, "hide progress bars")
	flags.BoolVarP(&flagVerbose, "verbose", "v", false, "log protocol traces")

	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List serial ports a board announces itself on",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices := discover.AllDevices(flagInitialBaud, flagTimeout)
		if len(devices) == 0 {
			return discover.ErrNoDevice
		}

		for _, d := range devices {
			fmt.Printf("%s\t%s\n", d.Port, d.Stage())
		}
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}
