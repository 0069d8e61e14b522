package main

import (
	"os"

	"github.com/janch32/uartboot/terminal"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Attach the console to the application running on the board",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := portName()
		if err != nil {
			return err
		}

		logger.Infof("Console on %s at %d baud, end with Ctrl+C.", name, flagBaud)
		return terminal.Open(cmd.Context(), name, flagBaud, os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
