package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ericogr/hx711-to-mqtt/pkg/config"
	"github.com/ericogr/hx711-to-mqtt/pkg/sensor"
)

func TestComputeSensorInterval(t *testing.T) {
	// no enabled channels -> one conversion
	cfg := config.Config{}
	if got := computeSensorInterval(cfg); got != 100 {
		t.Fatalf("fallback interval: got %d want 100", got)
	}

	// one enabled channel, default single sample
	cfg.Channels = []config.ChannelConfig{{Channel: "A", Enabled: true}}
	if got := computeSensorInterval(cfg); got != 100 {
		t.Fatalf("one channel interval: got %d want 100", got)
	}

	// averaging five samples
	cfg.Channels[0].Samples = 5
	if got := computeSensorInterval(cfg); got != 500 {
		t.Fatalf("five samples interval: got %d want 500", got)
	}

	// second channel adds its samples plus four discarded conversions
	cfg.Channels = append(cfg.Channels, config.ChannelConfig{Channel: "B", Enabled: true, Samples: 2})
	if got := computeSensorInterval(cfg); got != 1100 {
		t.Fatalf("two channel interval: got %d want 1100", got)
	}

	// disabled channels are ignored
	cfg.Channels[1].Enabled = false
	if got := computeSensorInterval(cfg); got != 500 {
		t.Fatalf("disabled channel interval: got %d want 500", got)
	}
}

func TestInitOutputsSetsInterval(t *testing.T) {
	cfg := config.Config{Outputs: []config.OutputConfig{{Type: "console"}}}
	entries, err := initOutputs(&cfg, 123, nil)
	if err != nil {
		t.Fatalf("initOutputs: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries len: %d", len(entries))
	}
	if cfg.Outputs[0].IntervalMs != 123 {
		t.Fatalf("cfg output interval not set, got %d", cfg.Outputs[0].IntervalMs)
	}
	if entries[0].IntervalMs != 123 {
		t.Fatalf("entry interval not set, got %d", entries[0].IntervalMs)
	}
}

func TestInitOutputsUnknownType(t *testing.T) {
	cfg := config.Config{Outputs: []config.OutputConfig{{Type: "console"}, {Type: "carrier-pigeon"}}}
	if _, err := initOutputs(&cfg, 100, nil); err == nil {
		t.Fatalf("expected error for unknown output")
	}
}

type staticSensor struct{}

func (staticSensor) Read() ([]sensor.Reading, error) {
	return []sensor.Reading{{Channel: "A", Raw: 1, Value: 2}}, nil
}

func (staticSensor) Close() error { return nil }

type recordingOutput struct {
	mu  sync.Mutex
	got [][]sensor.Reading
}

func (r *recordingOutput) Publish(readings []sensor.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, readings)
	return nil
}

func (r *recordingOutput) Close() error { return nil }

func (r *recordingOutput) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestRunPublishesUntilCancelled(t *testing.T) {
	out := &recordingOutput{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		run(ctx, staticSensor{}, 5, []outputEntry{{Output: out, Type: "test", IntervalMs: 5}})
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for out.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("output never published")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
	if r := out.got[0]; len(r) != 1 || r[0].Value != 2 {
		t.Fatalf("published: %+v", r)
	}
}
