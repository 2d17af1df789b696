//go:build linux

// Package gpiodpin drives the HX711 clock and data lines through the Linux
// GPIO character device.
package gpiodpin

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/warthog618/gpiod"
	"periph.io/x/conn/v3/gpio"
)

// Clock is an output line driving PD_SCK.
type Clock struct {
	l *gpiod.Line
}

// OpenClock requests offset on chip as an output, initially low.
func OpenClock(chip string, offset int) (*Clock, error) {
	l, err := gpiod.RequestLine(chip, offset, gpiod.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request clock line %s:%d: %w", chip, offset, err)
	}
	return &Clock{l: l}, nil
}

// Out sets the line level.
func (c *Clock) Out(l gpio.Level) error {
	v := 0
	if l == gpio.High {
		v = 1
	}
	return c.l.SetValue(v)
}

// Close releases the line.
func (c *Clock) Close() error {
	return c.l.Close()
}

// Data is an input line sampling DOUT. Falling edges are always requested
// from the kernel and forwarded only while armed through In.
type Data struct {
	l     *gpiod.Line
	armed atomic.Bool
	edges chan struct{}
}

// OpenData requests offset on chip as an input with falling edge events.
func OpenData(chip string, offset int) (*Data, error) {
	d := &Data{edges: make(chan struct{}, 1)}
	l, err := gpiod.RequestLine(chip, offset,
		gpiod.AsInput,
		gpiod.WithFallingEdge,
		gpiod.WithEventHandler(d.handle))
	if err != nil {
		return nil, fmt.Errorf("request data line %s:%d: %w", chip, offset, err)
	}
	d.l = l
	return d, nil
}

func (d *Data) handle(gpiod.LineEvent) {
	if !d.armed.Load() {
		return
	}
	select {
	case d.edges <- struct{}{}:
	default:
	}
}

// In arms or disarms edge forwarding. Pull is left to the board.
func (d *Data) In(pull gpio.Pull, edge gpio.Edge) error {
	switch edge {
	case gpio.NoEdge:
		d.armed.Store(false)
		select {
		case <-d.edges:
		default:
		}
	case gpio.FallingEdge, gpio.BothEdges:
		d.armed.Store(true)
	default:
		return errors.New("gpiodpin: only falling edges are supported")
	}
	return nil
}

// Read returns the line level. A read error reports High, which the driver
// treats as not ready.
func (d *Data) Read() gpio.Level {
	v, err := d.l.Value()
	if err != nil {
		return gpio.High
	}
	return v != 0
}

// WaitForEdge waits for a falling edge. A negative timeout waits forever.
func (d *Data) WaitForEdge(timeout time.Duration) bool {
	if timeout < 0 {
		<-d.edges
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-d.edges:
		return true
	case <-t.C:
		return false
	}
}

// Close releases the line.
func (d *Data) Close() error {
	return d.l.Close()
}
