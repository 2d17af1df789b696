package console

import (
	"fmt"
	"time"

	"github.com/ericogr/hx711-to-mqtt/pkg/output"
	"github.com/ericogr/hx711-to-mqtt/pkg/sensor"
)

type ConsoleOutput struct{}

func NewConsole() output.Output { return &ConsoleOutput{} }

func (c *ConsoleOutput) Publish(readings []sensor.Reading) error {
	for _, r := range readings {
		fmt.Printf("%s channel=%s raw=%d weight=%.3f\n", r.Timestamp.Format(time.RFC3339), r.Channel, r.Raw, r.Value)
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }
