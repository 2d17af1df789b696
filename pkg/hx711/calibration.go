package hx711

import (
	"fmt"
	"math"
)

// MinOffset and MaxOffset bound an offset to the range of a 24-bit reading.
const (
	MinOffset = -1 << 23
	MaxOffset = 1<<23 - 1
)

// DecodeTwosComplement24 sign extends a 24-bit two's complement pattern.
// Bits above 23 are ignored.
func DecodeTwosComplement24(v uint32) int32 {
	return -int32(v&0x800000) + int32(v&0x7FFFFF)
}

// Uint24 assembles f as a big endian 24-bit pattern.
func (f Frame) Uint24() uint32 {
	return uint32(f[0])<<16 | uint32(f[1])<<8 | uint32(f[2])
}

// Reverse returns f with its byte order swapped.
func (f Frame) Reverse() Frame {
	return Frame{f[2], f[1], f[0]}
}

func wireValue(f Frame) int32 {
	return DecodeTwosComplement24(f.Uint24())
}

// FrameToSigned decodes a frame returned by RawBytes or the ready callback,
// honoring the configured byte format.
func (d *Dev) FrameToSigned(f Frame) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return wireValue(d.order(f))
}

// FrameToSignedWithOffset is FrameToSigned minus the channel offset.
func (d *Dev) FrameToSignedWithOffset(f Frame, ch Channel) (int32, error) {
	i, err := ch.index()
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return wireValue(d.order(f)) - d.cal[i].offset, nil
}

// FrameToWeight converts a frame to physical units using the channel's
// offset and reference unit.
func (d *Dev) FrameToWeight(f Frame, ch Channel) (float64, error) {
	i, err := ch.index()
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cal[i].weight(float64(wireValue(d.order(f))))
}

// LongToWeight converts a signed reading, as returned by Long or
// LongAverage, to physical units.
func (d *Dev) LongToWeight(v int32, ch Channel) (float64, error) {
	i, err := ch.index()
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cal[i].weight(float64(v))
}

// MeanToWeight is LongToWeight for an unrounded mean as returned by Mean.
func (d *Dev) MeanToWeight(m float64, ch Channel) (float64, error) {
	i, err := ch.index()
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cal[i].weight(m)
}

func (c calibration) weight(signed float64) (float64, error) {
	if c.referenceUnit == 0 {
		return 0, ErrZeroReferenceUnit
	}
	return (signed - float64(c.offset)) / c.referenceUnit, nil
}

// longLocked reads one signed sample from ch.
func (d *Dev) longLocked(ch Channel) (int32, error) {
	var v int32
	err := d.withChannelLocked(ch, func() error {
		f, err := d.readRawLocked()
		if err != nil {
			return err
		}
		v = wireValue(f)
		return nil
	})
	return v, err
}

// meanLocked reads n samples from ch and returns their mean.
func (d *Dev) meanLocked(ch Channel, n int) (float64, error) {
	if n < 1 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSamples, n)
	}
	var sum int64
	err := d.withChannelLocked(ch, func() error {
		for i := 0; i < n; i++ {
			f, err := d.readRawLocked()
			if err != nil {
				return err
			}
			sum += int64(wireValue(f))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return float64(sum) / float64(n), nil
}

// Long reads one signed sample from ch.
func (d *Dev) Long(ch Channel) (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.longLocked(ch)
}

// LongWithOffset reads one signed sample from ch minus the channel offset.
func (d *Dev) LongWithOffset(ch Channel) (int32, error) {
	i, err := ch.index()
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.longLocked(ch)
	if err != nil {
		return 0, err
	}
	return v - d.cal[i].offset, nil
}

// Weight reads one sample from ch and converts it to physical units.
func (d *Dev) Weight(ch Channel) (float64, error) {
	i, err := ch.index()
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cal[i].referenceUnit == 0 {
		return 0, ErrZeroReferenceUnit
	}
	v, err := d.longLocked(ch)
	if err != nil {
		return 0, err
	}
	return d.cal[i].weight(float64(v))
}

// Mean reads n samples from ch and returns their unrounded mean.
func (d *Dev) Mean(ch Channel, n int) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.meanLocked(ch, n)
}

// LongAverage reads n samples from ch and returns their mean, rounded to
// the nearest integer.
func (d *Dev) LongAverage(ch Channel, n int) (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, err := d.meanLocked(ch, n)
	if err != nil {
		return 0, err
	}
	return int32(math.Round(m)), nil
}

// WeightAverage reads n samples from ch and converts their mean to physical
// units.
func (d *Dev) WeightAverage(ch Channel, n int) (float64, error) {
	i, err := ch.index()
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cal[i].referenceUnit == 0 {
		return 0, ErrZeroReferenceUnit
	}
	m, err := d.meanLocked(ch, n)
	if err != nil {
		return 0, err
	}
	return d.cal[i].weight(m)
}

// Tare makes the current load the zero point of ch and returns the new
// offset.
func (d *Dev) Tare(ch Channel) (int32, error) {
	return d.TareAverage(ch, 1)
}

// TareAverage is Tare over the mean of n samples.
func (d *Dev) TareAverage(ch Channel, n int) (int32, error) {
	i, err := ch.index()
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	m, err := d.meanLocked(ch, n)
	if err != nil {
		return 0, err
	}
	off := int32(math.Round(m))
	d.cal[i].offset = off
	d.log.Debug().Stringer("channel", ch).Int32("offset", off).Int("samples", n).Msg("tare")
	return off, nil
}

// Calibrate derives the reference unit of ch from a known weight currently
// on the load cell, relative to the existing offset. It returns the new
// reference unit.
func (d *Dev) Calibrate(ch Channel, knownWeight float64) (float64, error) {
	i, err := ch.index()
	if err != nil {
		return 0, err
	}
	if knownWeight == 0 || math.IsNaN(knownWeight) || math.IsInf(knownWeight, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidWeight, knownWeight)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.longLocked(ch)
	if err != nil {
		return 0, err
	}
	measured := v - d.cal[i].offset
	ru := float64(measured) / knownWeight
	if ru == 0 {
		return 0, fmt.Errorf("%w: reading equals offset", ErrZeroReferenceUnit)
	}
	d.cal[i].referenceUnit = ru
	d.log.Debug().Stringer("channel", ch).Float64("known_weight", knownWeight).Float64("reference_unit", ru).Msg("calibrated")
	return ru, nil
}

// AutosetOffset re-zeroes ch without disturbing its reference unit.
func (d *Dev) AutosetOffset(ch Channel) (int32, error) {
	i, err := ch.index()
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.cal[i].referenceUnit
	d.cal[i].referenceUnit = 1
	defer func() { d.cal[i].referenceUnit = prev }()
	v, err := d.longLocked(ch)
	if err != nil {
		return 0, err
	}
	d.cal[i].offset = v
	return v, nil
}

// SetOffset sets the raw reading that corresponds to zero load on ch.
func (d *Dev) SetOffset(v int32, ch Channel) error {
	i, err := ch.index()
	if err != nil {
		return err
	}
	if v < MinOffset || v > MaxOffset {
		return fmt.Errorf("%w: %d", ErrInvalidOffset, v)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cal[i].offset = v
	return nil
}

// Offset returns the offset of ch.
func (d *Dev) Offset(ch Channel) (int32, error) {
	i, err := ch.index()
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cal[i].offset, nil
}

// SetReferenceUnit sets the raw units per physical unit of ch. A zero value
// is accepted but makes weight conversions fail until it is replaced.
func (d *Dev) SetReferenceUnit(v float64, ch Channel) error {
	i, err := ch.index()
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cal[i].referenceUnit = v
	return nil
}

// ReferenceUnit returns the reference unit of ch.
func (d *Dev) ReferenceUnit(ch Channel) (float64, error) {
	i, err := ch.index()
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cal[i].referenceUnit, nil
}
