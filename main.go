package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ericogr/hx711-to-mqtt/pkg/config"
	"github.com/ericogr/hx711-to-mqtt/pkg/output"
	"github.com/ericogr/hx711-to-mqtt/pkg/output/console"
	mqttout "github.com/ericogr/hx711-to-mqtt/pkg/output/mqtt"
	"github.com/ericogr/hx711-to-mqtt/pkg/sensor"
)

// conversionMs is one HX711 conversion at the default 10 SPS output rate.
const conversionMs = 100

var log zerolog.Logger

func init() {
	cw := zerolog.ConsoleWriter{Out: os.Stdout}
	log = zerolog.New(cw).With().Timestamp().Logger()
}

type outputEntry struct {
	Output     output.Output
	Type       string
	IntervalMs int
}

func main() {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid log level")
	}
	log = log.Level(lvl)

	var s sensor.Sensor
	if cfg.SensorType == "simulation" {
		s, err = sensor.NewSimulatedSensor(cfg, log)
	} else {
		s, err = sensor.NewHX711Sensor(cfg, log)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize sensor")
	}
	log.Info().Str("type", cfg.SensorType).Str("backend", cfg.PinBackend).Int("gain", cfg.Gain).Msg("sensor ready")

	interval := computeSensorInterval(cfg)
	if cfg.IntervalMs > interval {
		interval = cfg.IntervalMs
	}
	cal, _ := s.(sensor.Calibrator)
	entries, err := initOutputs(&cfg, interval, cal)
	if err != nil {
		_ = s.Close()
		log.Fatal().Err(err).Msg("failed to initialize outputs")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	run(ctx, s, interval, entries)

	for _, e := range entries {
		if err := e.Output.Close(); err != nil {
			log.Error().Err(err).Str("output", e.Type).Msg("close output")
		}
	}
	// leaves the chip powered down
	if err := s.Close(); err != nil {
		log.Error().Err(err).Msg("close sensor")
	}
	log.Info().Msg("bye")
}

// computeSensorInterval returns the shortest time in ms one Read can take:
// every sample of every enabled channel is a conversion, and each channel
// other than the first costs a switch there and back, two discarded
// conversions each way.
func computeSensorInterval(cfg config.Config) int {
	conversions := 0
	enabled := 0
	for _, c := range cfg.Channels {
		if !c.Enabled {
			continue
		}
		n := c.Samples
		if n <= 0 {
			n = 1
		}
		conversions += n
		if enabled > 0 {
			conversions += 4
		}
		enabled++
	}
	if conversions == 0 {
		return conversionMs
	}
	return conversions * conversionMs
}

func initOutputs(cfg *config.Config, defaultInterval int, cal sensor.Calibrator) ([]outputEntry, error) {
	entries := make([]outputEntry, 0, len(cfg.Outputs))
	for i := range cfg.Outputs {
		o := &cfg.Outputs[i]
		if o.IntervalMs == 0 {
			o.IntervalMs = defaultInterval
		}
		var out output.Output
		switch strings.ToLower(o.Type) {
		case "console":
			out = console.NewConsole()
		case "mqtt":
			mc := config.MQTTConfig{}
			if o.MQTT != nil {
				mc = *o.MQTT
			}
			var err error
			out, err = mqttout.NewMQTT(mc, cfg.Channels, cal, log)
			if err != nil {
				closeEntries(entries)
				return nil, err
			}
		default:
			closeEntries(entries)
			return nil, fmt.Errorf("unknown output type %q", o.Type)
		}
		entries = append(entries, outputEntry{Output: out, Type: o.Type, IntervalMs: o.IntervalMs})
	}
	return entries, nil
}

func closeEntries(entries []outputEntry) {
	for _, e := range entries {
		_ = e.Output.Close()
	}
}

// run reads the sensor every interval and lets each output publish the
// latest readings on its own ticker until ctx is done.
func run(ctx context.Context, s sensor.Sensor, intervalMs int, entries []outputEntry) {
	var (
		mu     sync.Mutex
		latest []sensor.Reading
		wg     sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
		defer t.Stop()
		for {
			readings, err := s.Read()
			if err != nil {
				log.Error().Err(err).Msg("sensor read")
			} else {
				mu.Lock()
				latest = readings
				mu.Unlock()
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()

	for _, e := range entries {
		wg.Add(1)
		go func(e outputEntry) {
			defer wg.Done()
			t := time.NewTicker(time.Duration(e.IntervalMs) * time.Millisecond)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
				}
				mu.Lock()
				readings := latest
				mu.Unlock()
				if len(readings) == 0 {
					continue
				}
				if err := e.Output.Publish(readings); err != nil {
					log.Error().Err(err).Str("output", e.Type).Msg("publish")
				}
			}
		}(e)
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	wg.Wait()
}
