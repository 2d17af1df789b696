// Package hx711 drives an Avia HX711 24-bit load cell ADC over its two-wire
// PD_SCK/DOUT interface, bit banged on plain GPIO lines.
//
// The driver owns the clock and data lines exclusively. Every access to the
// chip, including the trailing gain pulses of a frame, runs under one lock so
// reads from concurrent goroutines never interleave on the wire.
//
// # Datasheet
//
// https://cdn.sparkfun.com/datasheets/Sensors/ForceFlex/hx711_english.pdf
package hx711

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

// ClockPin drives PD_SCK. gpio.PinOut satisfies it.
type ClockPin interface {
	Out(l gpio.Level) error
}

// DataPin samples DOUT. gpio.PinIn satisfies it.
type DataPin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	WaitForEdge(timeout time.Duration) bool
}

// Frame is one 24-bit two's complement sample as three bytes.
type Frame [3]byte

// Opts holds the configuration options for the device.
type Opts struct {
	// Gain selects channel and amplification. Zero means Gain128.
	Gain Gain
	// ByteFormat orders the bytes of frames returned by RawBytes.
	ByteFormat Format
	// BitFormat orders the bits within each byte as they are clocked in.
	BitFormat Format
	// ReadyTimeout bounds the wait for DOUT to go low. Zero waits forever.
	ReadyTimeout time.Duration
	// Sleep is the platform delay primitive. Nil means time.Sleep.
	Sleep func(time.Duration)
	// Logger receives debug output. Nil disables logging.
	Logger *zerolog.Logger
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Gain:       Gain128,
	ByteFormat: MSB,
	BitFormat:  MSB,
}

// powerDownHold is how long PD_SCK stays high to enter power down; the chip
// needs at least 60µs.
const powerDownHold = 100 * time.Microsecond

type calibration struct {
	offset        int32
	referenceUnit float64
}

// Dev is a handle to one HX711.
type Dev struct {
	mu           sync.Mutex
	clk          ClockPin
	data         DataPin
	sleep        func(time.Duration)
	readyTimeout time.Duration
	log          zerolog.Logger

	gain       Gain
	pulses     int
	byteFormat Format
	bitFormat  Format
	cal        [2]calibration
	closed     bool
	// synced is false while the chip's selector may differ from gain.
	synced     bool

	// watchMu guards watch and is never held while mu is wanted by the
	// watcher goroutine.
	watchMu sync.Mutex
	watch   *watcher

	lastMu   sync.Mutex
	last     Frame
	haveLast bool
}

var _ conn.Resource = &Dev{}

// New returns a handle to an HX711 wired to clk and data.
//
// The chip is reset and one conversion is discarded so the gain in opts is
// active when New returns.
func New(clk ClockPin, data DataPin, opts *Opts) (*Dev, error) {
	if clk == nil || data == nil {
		return nil, fmt.Errorf("hx711: clock and data pins are required")
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	g := opts.Gain
	if g == 0 {
		g = Gain128
	}
	if _, err := g.pulses(); err != nil {
		return nil, err
	}
	if err := opts.ByteFormat.valid(); err != nil {
		return nil, err
	}
	if err := opts.BitFormat.valid(); err != nil {
		return nil, err
	}
	d := &Dev{
		clk:          clk,
		data:         data,
		sleep:        opts.Sleep,
		readyTimeout: opts.ReadyTimeout,
		log:          zerolog.Nop(),
		byteFormat:   opts.ByteFormat,
		bitFormat:    opts.BitFormat,
		cal: [2]calibration{
			{referenceUnit: 1},
			{referenceUnit: 1},
		},
	}
	if d.sleep == nil {
		d.sleep = time.Sleep
	}
	if opts.Logger != nil {
		d.log = opts.Logger.With().Str("device", "hx711").Logger()
	}
	if err := data.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("hx711: data pin: %w", err)
	}
	if err := clk.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("hx711: clock pin: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.setGainLocked(g); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dev) String() string {
	return "HX711"
}

// Halt powers the chip down.
func (d *Dev) Halt() error {
	return d.PowerDown()
}

// Close stops the ready callback, powers the chip down and releases the
// handle. The pins themselves belong to the caller.
func (d *Dev) Close() error {
	cbErr := d.DisableReadyCallback()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.closed = true
	if err := d.powerDownLocked(); err != nil {
		return err
	}
	return cbErr
}

// SetGain selects a new gain, resets the chip and discards one conversion.
// On an invalid gain the active selector is left unchanged.
func (d *Dev) SetGain(g Gain) error {
	if _, err := g.pulses(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.setGainLocked(g)
}

// Gain returns the active gain.
func (d *Dev) Gain() Gain {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gain
}

// SetChannel selects A at gain 128 or B at gain 32.
func (d *Dev) SetChannel(ch Channel) error {
	if _, err := ch.index(); err != nil {
		return err
	}
	return d.SetGain(ch.gain())
}

// Channel returns the active channel.
func (d *Dev) Channel() Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gain.Channel()
}

// SetReadingFormat sets the byte order of returned frames and the bit order
// used to assemble each byte.
func (d *Dev) SetReadingFormat(byteFormat, bitFormat Format) error {
	if err := byteFormat.valid(); err != nil {
		return err
	}
	if err := bitFormat.valid(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byteFormat = byteFormat
	d.bitFormat = bitFormat
	return nil
}

// ReadingFormat returns the byte and bit formats.
func (d *Dev) ReadingFormat() (byteFormat, bitFormat Format) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byteFormat, d.bitFormat
}

func (d *Dev) setGainLocked(g Gain) error {
	p, err := g.pulses()
	if err != nil {
		return err
	}
	d.gain = g
	d.pulses = p
	if err := d.resetLocked(); err != nil {
		return err
	}
	if err := d.clk.Out(gpio.Low); err != nil {
		return fmt.Errorf("hx711: clock pin: %w", err)
	}
	// The new selector only takes effect after one full conversion.
	if _, err := d.readRawLocked(); err != nil {
		return err
	}
	d.log.Debug().Int("gain", int(g)).Stringer("channel", g.Channel()).Int("pulses", p).Msg("gain set")
	return nil
}

// syncLocked programs the chip with the believed gain again after a reset
// or read that failed part way.
func (d *Dev) syncLocked() error {
	if d.synced {
		return nil
	}
	d.log.Debug().Int("gain", int(d.gain)).Msg("resynchronizing gain")
	return d.setGainLocked(d.gain)
}

// withChannelLocked runs fn with ch active and then restores the previous
// gain selector. A failed switch still restores the previous gain.
func (d *Dev) withChannelLocked(ch Channel, fn func() error) error {
	if _, err := ch.index(); err != nil {
		return err
	}
	if d.closed {
		return ErrClosed
	}
	if ch == d.gain.Channel() {
		if err := d.syncLocked(); err != nil {
			return err
		}
		return fn()
	}
	prev := d.gain
	err := d.setGainLocked(ch.gain())
	if err == nil {
		err = fn()
	}
	if rerr := d.setGainLocked(prev); rerr != nil && err == nil {
		err = fmt.Errorf("hx711: restore gain %d: %w", int(prev), rerr)
	}
	return err
}
