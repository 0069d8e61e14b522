package agent

import (
	"sync"
)

// GPIO drives the pin an external watchdog listens to while the agent runs.
type GPIO interface {
	// Pins returns the number of pins of port, 0 for ports that do not exist.
	Pins(port int) int

	// StartWatchdog starts toggling the pin. lowVoltage selects the 1.8 V rail.
	StartWatchdog(port, pin int, lowVoltage bool) error
}

// DefaultPortPins is the pin count of each GPIO port.
var DefaultPortPins = []int{32, 23}

// WatchdogPins is a GPIO that only remembers which pin it toggles.
type WatchdogPins struct {
	mu         sync.Mutex
	pins       []int
	Port       int
	Pin        int
	LowVoltage bool
	Active     bool
}

// NewWatchdogPins returns a GPIO with the given pin count per port.
func NewWatchdogPins(pins ...int) *WatchdogPins {
	return &WatchdogPins{pins: pins}
}

// Pins returns the pin count of port.
func (w *WatchdogPins) Pins(port int) int {
	if port < 0 || port >= len(w.pins) {
		return 0
	}
	return w.pins[port]
}

// StartWatchdog records the selected pin.
func (w *WatchdogPins) StartWatchdog(port, pin int, lowVoltage bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.Port = port
	w.Pin = pin
	w.LowVoltage = lowVoltage
	w.Active = true

	logger.Debugf("agent: watchdog on P%d_%02d", port, pin)
	return nil
}
