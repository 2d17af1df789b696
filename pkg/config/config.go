package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ericogr/hx711-to-mqtt/pkg/hx711"
)

type MQTTConfig struct {
	Server            string `json:"server"`
	Username          string `json:"username"`
	Password          string `json:"password"`
	ClientID          string `json:"client_id"`
	StateTopic        string `json:"state_topic"`
	DiscoveryTopic    string `json:"discovery_topic"`
	DiscoveryName     string `json:"discovery_name"`
	DiscoveryUniqueID string `json:"discovery_unique_id"`
	CommandTopic      string `json:"command_topic"`
}

type OutputConfig struct {
	Type       string      `json:"type"`
	IntervalMs int         `json:"interval_ms,omitempty"`
	MQTT       *MQTTConfig `json:"mqtt,omitempty"`
}

// ChannelConfig holds the calibration of one HX711 input.
type ChannelConfig struct {
	Channel       string  `json:"channel"`
	Enabled       bool    `json:"enabled"`
	ReferenceUnit float64 `json:"reference_unit"`
	Offset        int32   `json:"offset"`
	TareOnStart   bool    `json:"tare_on_start"`
	Samples       int     `json:"samples,omitempty"`
}

type Config struct {
	SensorType     string          `json:"sensor_type"`
	PinBackend     string          `json:"pin_backend"`
	GPIOChip       string          `json:"gpio_chip"`
	DataPin        string          `json:"data_pin"`
	ClockPin       string          `json:"clock_pin"`
	Gain           int             `json:"gain"`
	ByteFormat     string          `json:"byte_format"`
	BitFormat      string          `json:"bit_format"`
	ReadyTimeoutMs int             `json:"ready_timeout_ms"`
	PowerCycle     bool            `json:"power_cycle"`
	Channels       []ChannelConfig `json:"channels"`
	Outputs        []OutputConfig  `json:"outputs"`
	IntervalMs     int             `json:"interval_ms"`
	LogLevel       string          `json:"log_level"`
}

func DefaultConfig() Config {
	return Config{
		SensorType:     "real",
		PinBackend:     "periph",
		GPIOChip:       "gpiochip0",
		DataPin:        "GPIO5",
		ClockPin:       "GPIO6",
		Gain:           128,
		ByteFormat:     "MSB",
		BitFormat:      "MSB",
		ReadyTimeoutMs: 1000,
		Channels:       []ChannelConfig{{Channel: "A", Enabled: true, ReferenceUnit: 1, TareOnStart: true, Samples: 5}},
		Outputs:        []OutputConfig{{Type: "console", IntervalMs: 1000}},
		IntervalMs:     1000,
		LogLevel:       "info",
	}
}

// Channel returns the configuration of the named channel, adding a disabled
// entry with a unit reference if none exists.
func (c *Config) Channel(name string) *ChannelConfig {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i := range c.Channels {
		if strings.EqualFold(c.Channels[i].Channel, name) {
			return &c.Channels[i]
		}
	}
	c.Channels = append(c.Channels, ChannelConfig{Channel: name, ReferenceUnit: 1})
	return &c.Channels[len(c.Channels)-1]
}

// Validate checks every value the driver would reject.
func (c Config) Validate() error {
	switch c.SensorType {
	case "real", "simulation":
	default:
		return fmt.Errorf("sensor-type must be real or simulation, got %q", c.SensorType)
	}
	switch c.PinBackend {
	case "periph", "gpiod":
	default:
		return fmt.Errorf("pin-backend must be periph or gpiod, got %q", c.PinBackend)
	}
	if _, err := hx711.ParseGain(c.Gain); err != nil {
		return err
	}
	if _, err := hx711.ParseFormat(c.ByteFormat); err != nil {
		return fmt.Errorf("byte-format: %w", err)
	}
	if _, err := hx711.ParseFormat(c.BitFormat); err != nil {
		return fmt.Errorf("bit-format: %w", err)
	}
	if c.ReadyTimeoutMs < 0 {
		return errors.New("ready-timeout-ms must be >= 0")
	}
	seen := map[hx711.Channel]bool{}
	for _, ch := range c.Channels {
		id, err := hx711.ParseChannel(ch.Channel)
		if err != nil {
			return err
		}
		if seen[id] {
			return fmt.Errorf("channel %s configured twice", id)
		}
		seen[id] = true
		if ch.Enabled && ch.ReferenceUnit == 0 {
			return fmt.Errorf("channel %s: reference unit must not be 0", id)
		}
		if ch.Offset < hx711.MinOffset || ch.Offset > hx711.MaxOffset {
			return fmt.Errorf("channel %s: %w: %d", id, hx711.ErrInvalidOffset, ch.Offset)
		}
		if ch.Samples < 0 {
			return fmt.Errorf("channel %s: samples must be >= 0", id)
		}
	}
	if c.IntervalMs <= 0 {
		return errors.New("interval-ms must be > 0")
	}
	return nil
}

// LoadFromFlags loads configuration from a JSON file (optional) and the
// process flags. Flags override values present in the JSON file.
func LoadFromFlags() (Config, error) {
	return Load(flag.CommandLine, os.Args[1:])
}

// Load registers the configuration flags on fs and parses args.
func Load(fs *flag.FlagSet, args []string) (Config, error) {
	cfgPath := fs.String("config", "", "Path to JSON config file")
	flagSensorType := fs.String("sensor-type", "", "sensor type: real|simulation")
	flagPinBackend := fs.String("pin-backend", "", "GPIO backend: periph|gpiod")
	flagGPIOChip := fs.String("gpio-chip", "", "GPIO chip for the gpiod backend (e.g. gpiochip0)")
	flagDataPin := fs.String("data-pin", "", "DOUT pin: name for periph (GPIO5), line offset for gpiod (5)")
	flagClockPin := fs.String("clock-pin", "", "PD_SCK pin: name for periph (GPIO6), line offset for gpiod (6)")
	flagGain := fs.Int("gain", -1, "HX711 gain: 128|64 (channel A) or 32 (channel B)")
	flagByteFormat := fs.String("byte-format", "", "Byte order of raw frames: MSB|LSB")
	flagBitFormat := fs.String("bit-format", "", "Bit order within a byte: MSB|LSB")
	flagReadyTimeout := fs.Int("ready-timeout-ms", -1, "Max wait for data ready in ms (0 waits forever)")
	flagPowerCycle := fs.Bool("power-cycle", false, "Power the chip down and up after every read")
	flagChannels := fs.String("channels", "", "Comma-separated enabled channels e.g. A,B")
	flagReferenceUnits := fs.String("reference-units", "", "Per-channel reference units e.g. A=114,B=-7050")
	flagOffsets := fs.String("offsets", "", "Per-channel offsets e.g. A=8388,B=0")
	flagTare := fs.String("tare", "", "Per-channel tare on start e.g. A=true,B=false")
	flagSamples := fs.String("samples", "", "Per-channel samples averaged per reading e.g. A=5")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (console,mqtt)")
	flagOutputIntervals := fs.String("output-intervals", "", "Comma-separated output intervals e.g. console=1000,mqtt=5000")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT state topic, %s is replaced by the channel")
	flagCommandTopic := fs.String("mqtt-command-topic", "", "MQTT topic accepting tare/calibrate commands")
	flagInterval := fs.Int("interval-ms", -1, "Sensor read interval in ms")
	flagLogLevel := fs.String("log-level", "", "Log level: debug|info|warn|error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg := DefaultConfig()

	if *cfgPath != "" {
		b, err := os.ReadFile(*cfgPath)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if *flagSensorType != "" {
		cfg.SensorType = *flagSensorType
	}
	if *flagPinBackend != "" {
		cfg.PinBackend = *flagPinBackend
	}
	if *flagGPIOChip != "" {
		cfg.GPIOChip = *flagGPIOChip
	}
	if *flagDataPin != "" {
		cfg.DataPin = *flagDataPin
	}
	if *flagClockPin != "" {
		cfg.ClockPin = *flagClockPin
	}
	if *flagGain != -1 {
		cfg.Gain = *flagGain
	}
	if *flagByteFormat != "" {
		cfg.ByteFormat = strings.ToUpper(*flagByteFormat)
	}
	if *flagBitFormat != "" {
		cfg.BitFormat = strings.ToUpper(*flagBitFormat)
	}
	if *flagReadyTimeout != -1 {
		cfg.ReadyTimeoutMs = *flagReadyTimeout
	}
	if set["power-cycle"] {
		cfg.PowerCycle = *flagPowerCycle
	}
	if *flagInterval != -1 {
		cfg.IntervalMs = *flagInterval
	}
	if *flagLogLevel != "" {
		cfg.LogLevel = *flagLogLevel
	}

	if *flagChannels != "" {
		enabled := map[string]bool{}
		for _, p := range parseCSV(*flagChannels) {
			enabled[strings.ToUpper(p)] = true
			cfg.Channel(p)
		}
		for i := range cfg.Channels {
			cfg.Channels[i].Enabled = enabled[strings.ToUpper(cfg.Channels[i].Channel)]
		}
	}
	if *flagReferenceUnits != "" {
		m, err := parseKeyFloatMap(*flagReferenceUnits)
		if err != nil {
			return cfg, fmt.Errorf("reference-units: %w", err)
		}
		for k, v := range m {
			cfg.Channel(k).ReferenceUnit = v
		}
	}
	if *flagOffsets != "" {
		m, err := parseKeyIntMap(*flagOffsets)
		if err != nil {
			return cfg, fmt.Errorf("offsets: %w", err)
		}
		for k, v := range m {
			if v < hx711.MinOffset || v > hx711.MaxOffset {
				return cfg, fmt.Errorf("offsets: channel %s: %w: %d", k, hx711.ErrInvalidOffset, v)
			}
			cfg.Channel(k).Offset = int32(v)
		}
	}
	if *flagTare != "" {
		m, err := parseKeyBoolMap(*flagTare)
		if err != nil {
			return cfg, fmt.Errorf("tare: %w", err)
		}
		for k, v := range m {
			cfg.Channel(k).TareOnStart = v
		}
	}
	if *flagSamples != "" {
		m, err := parseKeyIntMap(*flagSamples)
		if err != nil {
			return cfg, fmt.Errorf("samples: %w", err)
		}
		for k, v := range m {
			cfg.Channel(k).Samples = v
		}
	}

	if *flagOutputs != "" {
		// convert simple CSV of types into structured OutputConfig entries
		parts := parseCSV(*flagOutputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: p})
		}
		cfg.Outputs = outs
	}
	if *flagOutputIntervals != "" {
		parts := parseCSV(*flagOutputIntervals)
		outIntervals := map[string]int{}
		for _, p := range parts {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			if v, err := strconv.Atoi(strings.TrimSpace(kv[1])); err == nil {
				outIntervals[strings.TrimSpace(kv[0])] = v
			}
		}
		for i := range cfg.Outputs {
			if v, ok := outIntervals[cfg.Outputs[i].Type]; ok {
				cfg.Outputs[i].IntervalMs = v
			}
		}
	}
	// map mqtt flags into every mqtt output (create one if missing)
	if *flagMQTTServer != "" || *flagMQTTUser != "" || *flagMQTTPass != "" || *flagClientID != "" || *flagTopic != "" || *flagCommandTopic != "" {
		apply := func(m *MQTTConfig) {
			if *flagMQTTServer != "" {
				m.Server = *flagMQTTServer
			}
			if *flagMQTTUser != "" {
				m.Username = *flagMQTTUser
			}
			if *flagMQTTPass != "" {
				m.Password = *flagMQTTPass
			}
			if *flagClientID != "" {
				m.ClientID = *flagClientID
			}
			if *flagTopic != "" {
				m.StateTopic = *flagTopic
			}
			if *flagCommandTopic != "" {
				m.CommandTopic = *flagCommandTopic
			}
		}
		applied := false
		for i := range cfg.Outputs {
			if strings.ToLower(cfg.Outputs[i].Type) == "mqtt" {
				if cfg.Outputs[i].MQTT == nil {
					cfg.Outputs[i].MQTT = &MQTTConfig{}
				}
				apply(cfg.Outputs[i].MQTT)
				applied = true
			}
		}
		if !applied {
			mqttOut := OutputConfig{Type: "mqtt", MQTT: &MQTTConfig{}}
			apply(mqttOut.MQTT)
			cfg.Outputs = append(cfg.Outputs, mqttOut)
		}
	}
	// ensure outputs have interval default
	for i := range cfg.Outputs {
		if cfg.Outputs[i].IntervalMs == 0 {
			cfg.Outputs[i].IntervalMs = cfg.IntervalMs
		}
	}

	return cfg, cfg.Validate()
}

func parseIntOrHex(s string) (int, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	return strconv.Atoi(s)
}

// ParseLineOffset parses a gpiod line offset given in decimal or 0x hex.
func ParseLineOffset(s string) (int, error) {
	v, err := parseIntOrHex(s)
	if err != nil {
		return 0, fmt.Errorf("invalid line offset %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid line offset %q", s)
	}
	return v, nil
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseKeyValues splits "A=1,B=2" into upper-cased keys and raw values.
func parseKeyValues(s string, fn func(key, val string) error) error {
	for _, p := range parseCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return fmt.Errorf("expected key=value, got %q", p)
		}
		key := strings.ToUpper(strings.TrimSpace(kv[0]))
		if _, err := hx711.ParseChannel(key); err != nil {
			return err
		}
		if err := fn(key, strings.TrimSpace(kv[1])); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func parseKeyFloatMap(s string) (map[string]float64, error) {
	out := map[string]float64{}
	err := parseKeyValues(s, func(k, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		out[k] = f
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseKeyIntMap(s string) (map[string]int, error) {
	out := map[string]int{}
	err := parseKeyValues(s, func(k, v string) error {
		i, err := strconv.Atoi(v)
		out[k] = i
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseKeyBoolMap(s string) (map[string]bool, error) {
	out := map[string]bool{}
	err := parseKeyValues(s, func(k, v string) error {
		b, err := strconv.ParseBool(v)
		out[k] = b
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
