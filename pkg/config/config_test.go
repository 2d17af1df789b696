package config

import (
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ericogr/hx711-to-mqtt/pkg/hx711"
)

func TestParseKeyFloatMap(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]float64
		ok   bool
	}{
		{"", map[string]float64{}, true},
		{"A=114,B=-7050", map[string]float64{"A": 114, "B": -7050}, true},
		{" a = 1.5 , b = -0.5", map[string]float64{"A": 1.5, "B": -0.5}, true},
		{"bad", nil, false},
		{"C=1", nil, false},
		{"A=x", nil, false},
	}
	for _, tt := range tests {
		got, err := parseKeyFloatMap(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseKeyFloatMap(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseKeyFloatMap(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseKeyIntMap(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]int
		ok   bool
	}{
		{"", map[string]int{}, true},
		{"A=8388,B=-12", map[string]int{"A": 8388, "B": -12}, true},
		{"a=5", map[string]int{"A": 5}, true},
		{"bad", nil, false},
		{"A=1.5", nil, false},
	}
	for _, tt := range tests {
		got, err := parseKeyIntMap(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseKeyIntMap(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseKeyIntMap(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseKeyBoolMap(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]bool
		ok   bool
	}{
		{"", map[string]bool{}, true},
		{"A=true,B=false", map[string]bool{"A": true, "B": false}, true},
		{"bad", nil, false},
		{"A=maybe", nil, false},
	}
	for _, tt := range tests {
		got, err := parseKeyBoolMap(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseKeyBoolMap(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseKeyBoolMap(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseLineOffset(t *testing.T) {
	if v, err := ParseLineOffset("0x1a"); err != nil || v != 26 {
		t.Fatalf("hex: %d %v", v, err)
	}
	if v, err := ParseLineOffset(" 5 "); err != nil || v != 5 {
		t.Fatalf("decimal: %d %v", v, err)
	}
	if _, err := ParseLineOffset("GPIO5"); err == nil {
		t.Fatalf("expected error for pin name")
	}
	if _, err := ParseLineOffset("-1"); err == nil {
		t.Fatalf("expected error for negative offset")
	}
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newFlagSet(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Fatalf("defaults changed: %+v", cfg)
	}
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	js := `{"sensor_type":"simulation","gain":64,"channels":[{"channel":"A","enabled":true,"reference_unit":114}]}`
	if err := os.WriteFile(path, []byte(js), 0o600); err != nil {
		t.Fatal(err)
	}
	args := []string{
		"-config", path,
		"-channels", "A,B",
		"-reference-units", "B=-7050",
		"-tare", "B=true",
		"-samples", "B=3",
		"-byte-format", "lsb",
		"-power-cycle",
		"-outputs", "console,mqtt",
		"-output-intervals", "mqtt=5000",
		"-mqtt-server", "tcp://broker:1883",
		"-mqtt-command-topic", "hx711/cmd",
		"-interval-ms", "250",
	}
	cfg, err := Load(newFlagSet(), args)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SensorType != "simulation" || cfg.Gain != 64 || cfg.ByteFormat != "LSB" || !cfg.PowerCycle {
		t.Fatalf("scalars: %+v", cfg)
	}
	if len(cfg.Channels) != 2 {
		t.Fatalf("channels: %+v", cfg.Channels)
	}
	a, b := cfg.Channels[0], cfg.Channels[1]
	if a.Channel != "A" || !a.Enabled || a.ReferenceUnit != 114 {
		t.Fatalf("channel A: %+v", a)
	}
	if b.Channel != "B" || !b.Enabled || b.ReferenceUnit != -7050 || !b.TareOnStart || b.Samples != 3 {
		t.Fatalf("channel B: %+v", b)
	}
	if len(cfg.Outputs) != 2 || cfg.Outputs[0].IntervalMs != 250 || cfg.Outputs[1].IntervalMs != 5000 {
		t.Fatalf("outputs: %+v", cfg.Outputs)
	}
	m := cfg.Outputs[1].MQTT
	if m == nil || m.Server != "tcp://broker:1883" || m.CommandTopic != "hx711/cmd" {
		t.Fatalf("mqtt: %+v", m)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"gain", func(c *Config) { c.Gain = 100 }},
		{"byte format", func(c *Config) { c.ByteFormat = "big" }},
		{"bit format", func(c *Config) { c.BitFormat = "" }},
		{"channel", func(c *Config) { c.Channels[0].Channel = "C" }},
		{"duplicate channel", func(c *Config) { c.Channels = append(c.Channels, ChannelConfig{Channel: "a"}) }},
		{"zero reference", func(c *Config) { c.Channels[0].ReferenceUnit = 0 }},
		{"offset above 24 bits", func(c *Config) { c.Channels[0].Offset = hx711.MaxOffset + 1 }},
		{"offset below 24 bits", func(c *Config) { c.Channels[0].Offset = hx711.MinOffset - 1 }},
		{"backend", func(c *Config) { c.PinBackend = "wiringpi" }},
		{"sensor type", func(c *Config) { c.SensorType = "fake" }},
		{"timeout", func(c *Config) { c.ReadyTimeoutMs = -5 }},
		{"interval", func(c *Config) { c.IntervalMs = 0 }},
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestLoadOffsetsRange(t *testing.T) {
	for _, arg := range []string{"A=4294967396", "A=8388608", "B=-8388609"} {
		if _, err := Load(newFlagSet(), []string{"-offsets", arg}); !errors.Is(err, hx711.ErrInvalidOffset) {
			t.Fatalf("-offsets %s: %v", arg, err)
		}
	}
	cfg, err := Load(newFlagSet(), []string{"-offsets", "A=8388607,B=-8388608", "-channels", "A,B"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Channel("A").Offset != hx711.MaxOffset || cfg.Channel("B").Offset != hx711.MinOffset {
		t.Fatalf("offsets: %+v", cfg.Channels)
	}
}
