package hx711

import (
	"fmt"
	"strings"
)

// Channel is one of the chip's two analog inputs.
type Channel byte

const (
	ChannelA Channel = 'A'
	ChannelB Channel = 'B'
)

// ParseChannel accepts "A" or "B", case insensitive.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return ChannelA, nil
	case "B":
		return ChannelB, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidChannel, s)
}

func (c Channel) String() string {
	switch c {
	case ChannelA:
		return "A"
	case ChannelB:
		return "B"
	}
	return fmt.Sprintf("Channel(%d)", byte(c))
}

func (c Channel) index() (int, error) {
	switch c {
	case ChannelA:
		return 0, nil
	case ChannelB:
		return 1, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrInvalidChannel, c)
}

// gain is the selector a bare channel switch lands on.
func (c Channel) gain() Gain {
	if c == ChannelB {
		return Gain32
	}
	return Gain128
}

// Gain is the input amplification. It also encodes the channel: the chip
// only supports A at 128 or 64 and B at 32.
type Gain int

const (
	Gain128 Gain = 128
	Gain64  Gain = 64
	Gain32  Gain = 32
)

// ParseGain validates an integer gain from configuration.
func ParseGain(v int) (Gain, error) {
	g := Gain(v)
	if _, err := g.pulses(); err != nil {
		return 0, err
	}
	return g, nil
}

// pulses returns the number of clock pulses sent after the 24 data bits to
// select g for the next conversion.
func (g Gain) pulses() (int, error) {
	switch g {
	case Gain128:
		return 1, nil
	case Gain32:
		return 2, nil
	case Gain64:
		return 3, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrInvalidGain, int(g))
}

// Channel returns the input selected together with g.
func (g Gain) Channel() Channel {
	if g == Gain32 {
		return ChannelB
	}
	return ChannelA
}

// Format is the bit or byte order used when assembling a frame.
type Format int

const (
	MSB Format = iota
	LSB
)

// ParseFormat accepts "MSB" or "LSB", case insensitive.
func ParseFormat(s string) (Format, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MSB":
		return MSB, nil
	case "LSB":
		return LSB, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
}

func (f Format) String() string {
	switch f {
	case MSB:
		return "MSB"
	case LSB:
		return "LSB"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

func (f Format) valid() error {
	if f != MSB && f != LSB {
		return fmt.Errorf("%w: %s", ErrInvalidFormat, f)
	}
	return nil
}
