package sensor

import (
	"fmt"

	"github.com/ericogr/hx711-to-mqtt/pkg/config"
	"github.com/ericogr/hx711-to-mqtt/pkg/hx711"
)

// channelSettings is the per-channel configuration resolved to driver types.
type channelSettings struct {
	channel       hx711.Channel
	enabled       bool
	referenceUnit float64
	offset        int32
	tare          bool
	samples       int
}

// buildChannelSettings extracts per-channel settings from the config.
// The returned slice contains an entry for every configured channel.
func buildChannelSettings(cfg config.Config) ([]channelSettings, error) {
	out := make([]channelSettings, 0, len(cfg.Channels))
	for _, c := range cfg.Channels {
		ch, err := hx711.ParseChannel(c.Channel)
		if err != nil {
			return nil, err
		}
		samples := c.Samples
		if samples <= 0 {
			samples = 1
		}
		ru := c.ReferenceUnit
		if ru == 0 && !c.Enabled {
			ru = 1
		}
		out = append(out, channelSettings{
			channel:       ch,
			enabled:       c.Enabled,
			referenceUnit: ru,
			offset:        c.Offset,
			tare:          c.TareOnStart,
			samples:       samples,
		})
	}
	return out, nil
}

func driverOpts(cfg config.Config) (hx711.Opts, error) {
	g, err := hx711.ParseGain(cfg.Gain)
	if err != nil {
		return hx711.Opts{}, err
	}
	bf, err := hx711.ParseFormat(cfg.ByteFormat)
	if err != nil {
		return hx711.Opts{}, fmt.Errorf("byte format: %w", err)
	}
	bitf, err := hx711.ParseFormat(cfg.BitFormat)
	if err != nil {
		return hx711.Opts{}, fmt.Errorf("bit format: %w", err)
	}
	return hx711.Opts{
		Gain:         g,
		ByteFormat:   bf,
		BitFormat:    bitf,
		ReadyTimeout: msDuration(cfg.ReadyTimeoutMs),
	}, nil
}
