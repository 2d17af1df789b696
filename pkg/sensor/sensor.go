package sensor

import "time"

type Reading struct {
	Channel   string    `json:"channel"`
	Raw       int32     `json:"raw"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

type Sensor interface {
	Read() ([]Reading, error)
	Close() error
}

// Calibrator is implemented by sensors that can be re-zeroed and scaled at
// runtime.
type Calibrator interface {
	Tare(channel string) (int32, error)
	Calibrate(channel string, knownWeight float64) (float64, error)
}
