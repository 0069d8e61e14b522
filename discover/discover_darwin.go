package discover

import (
	"github.com/albenik/go-serial/v2"
	"github.com/pkg/errors"
)

// candidates lists every serial port; the enumerator gives no USB details
// here.
func candidates() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate ports")
	}
	return ports, nil
}
