//go:build !darwin

package discover

import (
	"github.com/albenik/go-serial/v2/enumerator"
	"github.com/pkg/errors"
)

// candidates lists the USB serial ports a board can sit behind.
func candidates() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate ports")
	}

	var names []string
	for _, port := range ports {
		if port.IsUSB {
			names = append(names, port.Name)
		}
	}
	return names, nil
}
