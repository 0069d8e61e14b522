package main

import (
	"fmt"
	"strings"

	"github.com/janch32/uartboot/programmer"
	"github.com/spf13/cobra"
)

var flagLowVoltage bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the version of the running agent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(p *programmer.Programmer) error {
			v, err := p.GetVersion()
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		})
	},
}

var productInfoCmd = &cobra.Command{
	Use:   "product-info",
	Short: "Show the product information the agent reports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(p *programmer.Programmer) error {
			info, err := p.ProductInfo()
			if err != nil {
				return err
			}
			fmt.Println(strings.TrimRight(info, "\n"))
			return nil
		})
	},
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Identify the chip revision of the board",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(p *programmer.Programmer) error {
			chip, err := p.DetectChip()
			if err != nil {
				return err
			}
			fmt.Println(chip)
			return nil
		})
	},
}

var gpioWatchdogCmd = &cobra.Command{
	Use:   "gpio-wd PORT PIN",
	Short: "Make the agent toggle a pad while it waits for commands",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := parseUint(args[0])
		if err != nil {
			return err
		}
		pin, err := parseUint(args[1])
		if err != nil {
			return err
		}

		return withSession(cmd.Context(), func(p *programmer.Programmer) error {
			return p.GPIOWatchdog(int(port), int(pin), flagLowVoltage)
		})
	},
}

var chipsCmd = &cobra.Command{
	Use:   "chips",
	Short: "List the supported chip revisions",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, c := range programmer.Chips() {
			fmt.Printf("%-10s OTP %6d B  RAM %7d B  QSPI %9d B\n", c.Name, c.OTPSize, c.RAMSize, c.QSPISize)
		}
	},
}

func init() {
	gpioWatchdogCmd.Flags().BoolVar(&flagLowVoltage, "1v8", false, "drive the pad at 1.8 V")

	rootCmd.AddCommand(versionCmd, productInfoCmd, detectCmd, gpioWatchdogCmd, chipsCmd)
}
