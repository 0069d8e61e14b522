package main

import (
	"os"

	"github.com/janch32/uartboot/programmer"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	flagImageType string
	flagImageMode string
)

var imageTypes = map[string]programmer.ImageType{
	"qspi":        programmer.ImageQSPI,
	"qspi-secure": programmer.ImageQSPISecure,
	"otp":         programmer.ImageOTP,
}

var imageModes = map[string]programmer.ImageMode{
	"mirrored": programmer.ImageMirrored,
	"cached":   programmer.ImageCached,
}

var makeImageCmd = &cobra.Command{
	Use:   "make-image IN OUT",
	Short: "Add the boot header to a raw binary",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, ok := imageTypes[flagImageType]
		if !ok {
			return errors.Errorf("unknown image type %q", flagImageType)
		}
		mode, ok := imageModes[flagImageMode]
		if !ok {
			return errors.Errorf("unknown image mode %q", flagImageMode)
		}
		chip, err := programmer.ChipByName(flagChip)
		if err != nil {
			return err
		}

		bin, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		image, err := programmer.MakeImage(bin, chip, typ, mode)
		if err != nil {
			return err
		}

		logger.Infof("%v %s image of %d bytes", typ, flagImageMode, len(image))
		return os.WriteFile(args[1], image, 0644)
	},
}

func init() {
	makeImageCmd.Flags().StringVar(&flagImageType, "type", "qspi", "qspi, qspi-secure or otp")
	makeImageCmd.Flags().StringVar(&flagImageMode, "mode", "mirrored", "mirrored or cached")

	rootCmd.AddCommand(makeImageCmd)
}
