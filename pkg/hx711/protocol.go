package hx711

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// isReady reports whether DOUT is low, which the chip only asserts once a
// conversion result can be clocked out.
func (d *Dev) isReady() bool {
	return d.data.Read() == gpio.Low
}

func (d *Dev) waitReady() error {
	if d.readyTimeout <= 0 {
		for !d.isReady() {
		}
		return nil
	}
	deadline := time.Now().Add(d.readyTimeout)
	for !d.isReady() {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s", ErrNotReady, d.readyTimeout)
		}
	}
	return nil
}

// pulse clocks PD_SCK high then low as fast as the platform allows.
func (d *Dev) pulse() error {
	if err := d.clk.Out(gpio.High); err != nil {
		return fmt.Errorf("hx711: clock pin: %w", err)
	}
	if err := d.clk.Out(gpio.Low); err != nil {
		return fmt.Errorf("hx711: clock pin: %w", err)
	}
	return nil
}

func (d *Dev) readNextBit() (byte, error) {
	if err := d.pulse(); err != nil {
		return 0, err
	}
	if d.data.Read() == gpio.High {
		return 1, nil
	}
	return 0, nil
}

func (d *Dev) readNextByte() (byte, error) {
	var b byte
	for i := 0; i < 8; i++ {
		bit, err := d.readNextBit()
		if err != nil {
			return 0, err
		}
		if d.bitFormat == LSB {
			b |= bit << i
		} else {
			b = b<<1 | bit
		}
	}
	return b, nil
}

// readRawLocked clocks out one frame in wire order followed by the extra
// pulses for the active gain. The caller must hold d.mu for the whole call.
func (d *Dev) readRawLocked() (Frame, error) {
	var f Frame
	if err := d.waitReady(); err != nil {
		return f, err
	}
	for i := range f {
		b, err := d.readNextByte()
		if err != nil {
			d.synced = false
			return Frame{}, err
		}
		f[i] = b
	}
	for i := 0; i < d.pulses; i++ {
		if err := d.pulse(); err != nil {
			d.synced = false
			return Frame{}, err
		}
	}
	return f, nil
}

// order converts between wire order and the configured byte format.
func (d *Dev) order(f Frame) Frame {
	if d.byteFormat == LSB {
		f[0], f[2] = f[2], f[0]
	}
	return f
}

// RawBytes reads one frame from ch, ordered by the configured byte format.
func (d *Dev) RawBytes(ch Channel) (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var f Frame
	err := d.withChannelLocked(ch, func() error {
		var err error
		f, err = d.readRawLocked()
		return err
	})
	if err != nil {
		return Frame{}, err
	}
	return d.order(f), nil
}

// TryRawBytes reads one frame from the active channel without waiting for
// the device lock. It returns ok == false and a nil error when another read
// holds the lock.
func (d *Dev) TryRawBytes() (f Frame, ok bool, err error) {
	if !d.mu.TryLock() {
		return Frame{}, false, nil
	}
	defer d.mu.Unlock()
	if d.closed {
		return Frame{}, false, ErrClosed
	}
	if err := d.syncLocked(); err != nil {
		return Frame{}, false, err
	}
	f, err = d.readRawLocked()
	if err != nil {
		return Frame{}, false, err
	}
	return d.order(f), true, nil
}

// PowerDown holds PD_SCK high until the chip enters its low power mode.
func (d *Dev) PowerDown() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.powerDownLocked()
}

// PowerUp wakes the chip. It comes back at gain 128, so for any other gain
// one frame is read to program the selector again.
func (d *Dev) PowerUp() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.powerUpLocked()
}

// Reset power cycles the chip.
func (d *Dev) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.resetLocked()
}

func (d *Dev) powerDownLocked() error {
	if err := d.clk.Out(gpio.Low); err != nil {
		return fmt.Errorf("hx711: clock pin: %w", err)
	}
	if err := d.clk.Out(gpio.High); err != nil {
		return fmt.Errorf("hx711: clock pin: %w", err)
	}
	d.sleep(powerDownHold)
	return nil
}

// powerUpLocked leaves d.synced set only once the chip runs with d.gain.
func (d *Dev) powerUpLocked() error {
	d.synced = false
	if err := d.clk.Out(gpio.Low); err != nil {
		return fmt.Errorf("hx711: clock pin: %w", err)
	}
	d.sleep(powerDownHold)
	if d.gain != Gain128 {
		if _, err := d.readRawLocked(); err != nil {
			return err
		}
	}
	d.synced = true
	return nil
}

func (d *Dev) resetLocked() error {
	if err := d.powerDownLocked(); err != nil {
		return err
	}
	return d.powerUpLocked()
}
