package sensor

import (
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ericogr/hx711-to-mqtt/pkg/config"
	"github.com/ericogr/hx711-to-mqtt/pkg/hx711/hx711sim"
)

// NewSimulatedSensor runs the real driver against a virtual chip whose
// inputs wander around a fixed load with some noise.
func NewSimulatedSensor(cfg config.Config, log zerolog.Logger) (Sensor, error) {
	chip := hx711sim.New()
	var mu sync.Mutex
	base := map[int]int32{hx711sim.A128: 84000, hx711sim.A64: 42000, hx711sim.B32: 21000}
	chip.SetSource(func(sel int) int32 {
		mu.Lock()
		defer mu.Unlock()
		base[sel] += int32(rand.Intn(21) - 10)
		return base[sel] + int32(rand.Intn(201)-100)
	})
	s, err := newHX711Sensor(cfg, chip, chip, nil, chip.Sleep, log)
	if err != nil {
		return nil, err
	}
	return s, nil
}
