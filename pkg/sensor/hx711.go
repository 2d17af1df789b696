package sensor

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/ericogr/hx711-to-mqtt/pkg/config"
	"github.com/ericogr/hx711-to-mqtt/pkg/hx711"
	"github.com/ericogr/hx711-to-mqtt/pkg/pin/gpiodpin"
	"github.com/ericogr/hx711-to-mqtt/pkg/pin/periphpin"
)

// HX711Sensor reads calibrated weights from every enabled HX711 channel.
type HX711Sensor struct {
	dev        *hx711.Dev
	pins       io.Closer
	channels   []channelSettings
	powerCycle bool
	log        zerolog.Logger
}

// NewHX711Sensor opens the configured pins and brings the chip up.
func NewHX711Sensor(cfg config.Config, log zerolog.Logger) (Sensor, error) {
	clk, data, pins, err := openPins(cfg)
	if err != nil {
		return nil, err
	}
	s, err := newHX711Sensor(cfg, clk, data, pins, nil, log)
	if err != nil {
		_ = pins.Close()
		return nil, err
	}
	return s, nil
}

func openPins(cfg config.Config) (hx711.ClockPin, hx711.DataPin, io.Closer, error) {
	switch cfg.PinBackend {
	case "periph":
		p, err := periphpin.Open(cfg.ClockPin, cfg.DataPin)
		if err != nil {
			return nil, nil, nil, err
		}
		return p.Clock, p.Data, p, nil
	case "gpiod":
		clkOff, err := config.ParseLineOffset(cfg.ClockPin)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("clock pin: %w", err)
		}
		dataOff, err := config.ParseLineOffset(cfg.DataPin)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("data pin: %w", err)
		}
		clk, err := gpiodpin.OpenClock(cfg.GPIOChip, clkOff)
		if err != nil {
			return nil, nil, nil, err
		}
		data, err := gpiodpin.OpenData(cfg.GPIOChip, dataOff)
		if err != nil {
			_ = clk.Close()
			return nil, nil, nil, err
		}
		return clk, data, closers{data, clk}, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown pin backend %q", cfg.PinBackend)
}

type closers []io.Closer

func (c closers) Close() error {
	var err error
	for _, cl := range c {
		err = errors.Join(err, cl.Close())
	}
	return err
}

func newHX711Sensor(cfg config.Config, clk hx711.ClockPin, data hx711.DataPin, pins io.Closer, sleep func(time.Duration), log zerolog.Logger) (*HX711Sensor, error) {
	settings, err := buildChannelSettings(cfg)
	if err != nil {
		return nil, err
	}
	opts, err := driverOpts(cfg)
	if err != nil {
		return nil, err
	}
	opts.Sleep = sleep
	opts.Logger = &log
	dev, err := hx711.New(clk, data, &opts)
	if err != nil {
		return nil, fmt.Errorf("hx711 init: %w", err)
	}
	s := &HX711Sensor{dev: dev, pins: pins, powerCycle: cfg.PowerCycle, log: log}
	for _, c := range settings {
		if err := dev.SetReferenceUnit(c.referenceUnit, c.channel); err != nil {
			_ = dev.Close()
			return nil, err
		}
		if err := dev.SetOffset(c.offset, c.channel); err != nil {
			_ = dev.Close()
			return nil, err
		}
		if !c.enabled {
			continue
		}
		if c.tare {
			off, err := dev.TareAverage(c.channel, c.samples)
			if err != nil {
				_ = dev.Close()
				return nil, fmt.Errorf("tare channel %s: %w", c.channel, err)
			}
			log.Info().Stringer("channel", c.channel).Int32("offset", off).Msg("tare done")
		}
		s.channels = append(s.channels, c)
	}
	return s, nil
}

// Read returns one averaged reading per enabled channel.
func (s *HX711Sensor) Read() ([]Reading, error) {
	out := make([]Reading, 0, len(s.channels))
	now := time.Now()
	for _, c := range s.channels {
		m, err := s.dev.Mean(c.channel, c.samples)
		if err != nil {
			return nil, fmt.Errorf("read channel %s: %w", c.channel, err)
		}
		w, err := s.dev.MeanToWeight(m, c.channel)
		if err != nil {
			return nil, fmt.Errorf("weight channel %s: %w", c.channel, err)
		}
		out = append(out, Reading{Channel: c.channel.String(), Raw: int32(math.Round(m)), Value: w, Timestamp: now})
	}
	if s.powerCycle {
		if err := s.dev.PowerDown(); err != nil {
			return out, fmt.Errorf("power down: %w", err)
		}
		if err := s.dev.PowerUp(); err != nil {
			return out, fmt.Errorf("power up: %w", err)
		}
	}
	return out, nil
}

// Tare re-zeroes a channel over its configured sample count.
func (s *HX711Sensor) Tare(channel string) (int32, error) {
	c, err := s.settings(channel)
	if err != nil {
		return 0, err
	}
	return s.dev.TareAverage(c.channel, c.samples)
}

// Calibrate derives a channel's reference unit from a known weight.
func (s *HX711Sensor) Calibrate(channel string, knownWeight float64) (float64, error) {
	c, err := s.settings(channel)
	if err != nil {
		return 0, err
	}
	return s.dev.Calibrate(c.channel, knownWeight)
}

func (s *HX711Sensor) settings(channel string) (channelSettings, error) {
	ch, err := hx711.ParseChannel(channel)
	if err != nil {
		return channelSettings{}, err
	}
	for _, c := range s.channels {
		if c.channel == ch {
			return c, nil
		}
	}
	return channelSettings{}, fmt.Errorf("channel %s is not enabled", ch)
}

// Close powers the chip down, then releases the pins.
func (s *HX711Sensor) Close() error {
	err := s.dev.Close()
	if errors.Is(err, hx711.ErrClosed) {
		err = nil
	}
	if s.pins != nil {
		err = errors.Join(err, s.pins.Close())
	}
	return err
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
