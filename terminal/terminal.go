// Package terminal relays a console between the user and the application a
// board runs after it was booted.
package terminal

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// Open opens the serial port name and attaches in and out to it.
func Open(ctx context.Context, name string, baud int, in io.Reader, out io.Writer) error {
	conn, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})

	if err != nil {
		return errors.Wrapf(err, "open %s", name)
	}

	defer conn.Close()

	return Attach(ctx, conn, in, out)
}

// Attach copies the device output to out and in to the device until in ends,
// the device fails or ctx is done.
func Attach(ctx context.Context, port io.ReadWriter, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErr := make(chan error, 1)
	go func() { readErr <- readDevice(ctx, port, out) }()

	writeErr := make(chan error, 1)
	go func() { writeErr <- writeDevice(port, in) }()

	select {
	case err := <-readErr:
		return err
	case err := <-writeErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

// readDevice prints what the device sends. A read that returns nothing is a
// timeout of the port, not the end of the stream.
func readDevice(ctx context.Context, port io.Reader, out io.Writer) error {
	buffer := make([]byte, 100)

	for ctx.Err() == nil {
		n, err := port.Read(buffer)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		if _, err := out.Write(buffer[:n]); err != nil {
			return err
		}
	}

	return nil
}

// writeDevice sends the user input to the device.
func writeDevice(port io.Writer, in io.Reader) error {
	buffer := make([]byte, 100)

	for {
		n, err := in.Read(buffer)
		if n > 0 {
			if _, werr := port.Write(buffer[:n]); werr != nil {
				return werr
			}
		}

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
