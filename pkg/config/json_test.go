package config

import (
	"encoding/json"
	"testing"
)

func TestUnmarshalConfigJSON(t *testing.T) {
	js := `{
        "sensor_type": "real",
        "pin_backend": "gpiod",
        "gpio_chip": "gpiochip0",
        "data_pin": "5",
        "clock_pin": "6",
        "gain": 128,
        "ready_timeout_ms": 500,
        "outputs": [{"type":"mqtt","mqtt":{"server":"tcp://localhost:1883","state_topic":"scale/%s","command_topic":"scale/cmd"}}],
        "channels": [
            {"channel": "A", "enabled": true, "reference_unit": 114, "offset": 8388, "tare_on_start": true, "samples": 5},
            {"channel": "B", "enabled": false, "reference_unit": -7050.5}
        ]
    }`

	var cfg Config
	if err := json.Unmarshal([]byte(js), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.PinBackend != "gpiod" || cfg.DataPin != "5" || cfg.ClockPin != "6" {
		t.Fatalf("pins: %+v", cfg)
	}
	if cfg.Gain != 128 || cfg.ReadyTimeoutMs != 500 {
		t.Fatalf("chip: gain=%d timeout=%d", cfg.Gain, cfg.ReadyTimeoutMs)
	}
	if len(cfg.Outputs) != 1 || cfg.Outputs[0].MQTT == nil || cfg.Outputs[0].MQTT.CommandTopic != "scale/cmd" {
		t.Fatalf("outputs: %+v", cfg.Outputs)
	}
	if len(cfg.Channels) != 2 {
		t.Fatalf("channels len: %d", len(cfg.Channels))
	}
	if c := cfg.Channels[0]; c.Channel != "A" || !c.Enabled || c.Offset != 8388 || c.ReferenceUnit != 114 || !c.TareOnStart || c.Samples != 5 {
		t.Fatalf("channel A incorrect: %+v", c)
	}
	if c := cfg.Channels[1]; c.Channel != "B" || c.Enabled || c.ReferenceUnit != -7050.5 {
		t.Fatalf("channel B incorrect: %+v", c)
	}
}
