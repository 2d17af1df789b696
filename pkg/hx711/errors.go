package hx711

import "errors"

var (
	// ErrInvalidGain is returned for any gain other than 128, 64 or 32.
	ErrInvalidGain = errors.New("hx711: invalid gain")
	// ErrInvalidChannel is returned for any channel other than A or B.
	ErrInvalidChannel = errors.New("hx711: invalid channel")
	// ErrInvalidFormat is returned for a byte or bit format other than MSB or LSB.
	ErrInvalidFormat = errors.New("hx711: invalid reading format")
	// ErrInvalidWeight is returned when calibrating against a zero or non-finite weight.
	ErrInvalidWeight = errors.New("hx711: invalid known weight")
	// ErrInvalidOffset is returned for an offset outside [MinOffset, MaxOffset].
	ErrInvalidOffset = errors.New("hx711: offset outside 24-bit range")
	// ErrInvalidSamples is returned when an average is requested over fewer than one sample.
	ErrInvalidSamples = errors.New("hx711: sample count must be at least 1")

	// ErrZeroReferenceUnit is returned by weight conversions while the
	// channel's reference unit is zero.
	ErrZeroReferenceUnit = errors.New("hx711: reference unit is zero")

	// ErrNotReady is returned when the chip does not pull DOUT low within
	// the configured ready timeout.
	ErrNotReady = errors.New("hx711: timed out waiting for data ready")

	// ErrCallbackActive is returned when a ready callback is already registered.
	ErrCallbackActive = errors.New("hx711: ready callback already enabled")

	// ErrClosed indicates the device is closed.
	ErrClosed = errors.New("hx711: closed")
)
