// Package periphpin resolves the HX711 clock and data lines through the
// periph.io host drivers.
package periphpin

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Pins holds the clock and data lines.
type Pins struct {
	Clock gpio.PinIO
	Data  gpio.PinIO
}

// Open initializes the host and looks up both pins by name, e.g. "GPIO6"
// for the clock and "GPIO5" for data.
func Open(clockName, dataName string) (*Pins, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	clk, err := byName(clockName)
	if err != nil {
		return nil, fmt.Errorf("clock pin: %w", err)
	}
	data, err := byName(dataName)
	if err != nil {
		return nil, fmt.Errorf("data pin: %w", err)
	}
	return &Pins{Clock: clk, Data: data}, nil
}

func byName(name string) (gpio.PinIO, error) {
	if name == "" {
		return nil, errors.New("no pin name")
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("unknown pin %q", name)
	}
	return p, nil
}

// Close halts both pins, stopping any pending edge detection.
func (p *Pins) Close() error {
	return errors.Join(p.Data.Halt(), p.Clock.Halt())
}
