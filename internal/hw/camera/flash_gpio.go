package camera

import (
	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/hw/gpio"
)

// Flash is a physical flash cue that follows the capture flash signal.
type Flash interface {
	On() error
	Off() error
}

// NoFlash is used when no lamp is wired.
type NoFlash struct{}

func (NoFlash) On() error  { return nil }
func (NoFlash) Off() error { return nil }

// GPIOFlash drives a lamp (LED strip behind a relay or MOSFET) from a
// single GPIO line:
// - pin HIGH: lamp lit
// - pin LOW: lamp off (idle state)
type GPIOFlash struct {
	gpio gpio.Driver
	pin  int
}

// NewGPIOFlash configures pin as an output and switches the lamp off.
func NewGPIOFlash(g gpio.Driver, pin int) *GPIOFlash {
	_ = g.SetupPin(pin, gpio.Output)
	_ = g.WritePin(pin, gpio.Low)

	return &GPIOFlash{gpio: g, pin: pin}
}

// On lights the lamp.
func (f *GPIOFlash) On() error {
	debug.Verbose("Flash: lamp on (pin %d -> HIGH)", f.pin)
	return f.gpio.WritePin(f.pin, gpio.High)
}

// Off switches the lamp off.
func (f *GPIOFlash) Off() error {
	debug.Verbose("Flash: lamp off (pin %d -> LOW)", f.pin)
	return f.gpio.WritePin(f.pin, gpio.Low)
}
