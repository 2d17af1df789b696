//go:build !linux

package gpiodpin

import (
	"errors"
	"time"

	"periph.io/x/conn/v3/gpio"
)

var errUnsupported = errors.New("gpiodpin: GPIO character device requires linux")

type Clock struct{}

func OpenClock(chip string, offset int) (*Clock, error) { return nil, errUnsupported }

func (c *Clock) Out(gpio.Level) error { return errUnsupported }

func (c *Clock) Close() error { return nil }

type Data struct{}

func OpenData(chip string, offset int) (*Data, error) { return nil, errUnsupported }

func (d *Data) In(gpio.Pull, gpio.Edge) error { return errUnsupported }

func (d *Data) Read() gpio.Level { return gpio.High }

func (d *Data) WaitForEdge(time.Duration) bool { return false }

func (d *Data) Close() error { return nil }
