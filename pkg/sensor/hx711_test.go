package sensor

import (
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ericogr/hx711-to-mqtt/pkg/config"
	"github.com/ericogr/hx711-to-mqtt/pkg/hx711"
	"github.com/ericogr/hx711-to-mqtt/pkg/hx711/hx711sim"
)

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Channels = []config.ChannelConfig{
		{Channel: "A", Enabled: true, ReferenceUnit: 100, TareOnStart: true, Samples: 2},
		{Channel: "B", Enabled: true, ReferenceUnit: -10, Offset: 50},
	}
	return cfg
}

func TestHX711SensorRead(t *testing.T) {
	chip := hx711sim.New()
	// New discards one conversion; the tare averages the next two.
	chip.Queue(hx711sim.A128, 0, 1000, 1000, 1500)
	chip.SetValue(hx711sim.B32, 30)

	s, err := newHX711Sensor(testConfig(), chip, chip, nil, chip.Sleep, zerolog.Nop())
	if err != nil {
		t.Fatalf("newHX711Sensor: %v", err)
	}
	defer s.Close()

	readings, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("readings: %+v", readings)
	}
	a, b := readings[0], readings[1]
	if a.Channel != "A" || a.Raw != 1500 || math.Abs(a.Value-5) > 1e-9 {
		t.Fatalf("channel A: %+v", a)
	}
	if b.Channel != "B" || b.Raw != 30 || math.Abs(b.Value-2) > 1e-9 {
		t.Fatalf("channel B: %+v", b)
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		t.Fatalf("timestamps differ")
	}
}

func TestHX711SensorCalibrator(t *testing.T) {
	chip := hx711sim.New()
	chip.SetValue(hx711sim.A128, 200)
	cfg := testConfig()
	cfg.Channels = cfg.Channels[:1]
	cfg.Channels[0].Samples = 1

	s, err := newHX711Sensor(cfg, chip, chip, nil, chip.Sleep, zerolog.Nop())
	if err != nil {
		t.Fatalf("newHX711Sensor: %v", err)
	}
	defer s.Close()

	var c Calibrator = s
	if off, err := c.Tare("a"); err != nil || off != 200 {
		t.Fatalf("Tare: %d %v", off, err)
	}
	chip.SetValue(hx711sim.A128, 700)
	ru, err := c.Calibrate("A", 250)
	if err != nil || ru != 2 {
		t.Fatalf("Calibrate: %v %v", ru, err)
	}
	readings, err := s.Read()
	if err != nil || len(readings) != 1 || readings[0].Value != 250 {
		t.Fatalf("Read after calibrate: %+v %v", readings, err)
	}
	if _, err := c.Tare("B"); err == nil {
		t.Fatalf("expected error for disabled channel")
	}
	if _, err := c.Tare("Z"); err == nil {
		t.Fatalf("expected error for invalid channel")
	}
}

func TestHX711SensorPowerCycle(t *testing.T) {
	chip := hx711sim.New()
	cfg := testConfig()
	cfg.Gain = 64
	cfg.PowerCycle = true
	cfg.Channels = cfg.Channels[:1]
	cfg.Channels[0].TareOnStart = false

	s, err := newHX711Sensor(cfg, chip, chip, nil, chip.Sleep, zerolog.Nop())
	if err != nil {
		t.Fatalf("newHX711Sensor: %v", err)
	}
	cycles := chip.PowerCycles()
	if _, err := s.Read(); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if chip.PowerCycles() != cycles+1 || chip.Selected() != hx711sim.A64 {
		t.Fatalf("power cycle: %s", chip.Dump())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !chip.PoweredDown() {
		t.Fatalf("chip left powered after Close: %s", chip.Dump())
	}
}

func TestSimulatedSensor(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SensorType = "simulation"
	s, err := NewSimulatedSensor(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSimulatedSensor: %v", err)
	}
	defer s.Close()
	readings, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(readings) != 1 || readings[0].Channel != "A" {
		t.Fatalf("readings: %+v", readings)
	}
	// tared at start, so the weight is only noise and drift
	if math.Abs(readings[0].Value) > 1000 {
		t.Fatalf("simulated weight out of range: %+v", readings[0])
	}
}

func TestHX711SensorWeightUsesUnroundedMean(t *testing.T) {
	chip := hx711sim.New()
	// New discards the first conversion.
	chip.Queue(hx711sim.A128, 0, 1000, 1001)
	cfg := config.DefaultConfig()
	cfg.Channels = []config.ChannelConfig{
		{Channel: "A", Enabled: true, ReferenceUnit: 100, Samples: 2},
	}

	s, err := newHX711Sensor(cfg, chip, chip, nil, chip.Sleep, zerolog.Nop())
	if err != nil {
		t.Fatalf("newHX711Sensor: %v", err)
	}
	defer s.Close()

	readings, err := s.Read()
	if err != nil || len(readings) != 1 {
		t.Fatalf("Read: %+v %v", readings, err)
	}
	if r := readings[0]; r.Raw != 1001 || math.Abs(r.Value-10.005) > 1e-9 {
		t.Fatalf("reading: %+v", r)
	}
}

func TestHX711SensorInitErrorPowersDown(t *testing.T) {
	chip := hx711sim.New()
	cfg := config.DefaultConfig()
	cfg.Channels = []config.ChannelConfig{
		{Channel: "A", Enabled: true, ReferenceUnit: 1, Offset: math.MaxInt32},
	}

	_, err := newHX711Sensor(cfg, chip, chip, nil, chip.Sleep, zerolog.Nop())
	if !errors.Is(err, hx711.ErrInvalidOffset) {
		t.Fatalf("newHX711Sensor: %v", err)
	}
	if !chip.PoweredDown() {
		t.Fatalf("chip left powered: %s", chip.Dump())
	}
}
