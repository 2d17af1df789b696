package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/ericogr/hx711-to-mqtt/pkg/config"
	"github.com/ericogr/hx711-to-mqtt/pkg/output"
	"github.com/ericogr/hx711-to-mqtt/pkg/sensor"
)

const (
	// defaults
	DefaultServer      = "tcp://localhost:1883"
	DefaultClientID    = "hx711-client"
	perChannelTopicFmt = "hx711/channel/%s"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	unitGrams              = "g"
	deviceClassWeight      = "weight"
	stateClassMeasurement  = "measurement"
	valueTemplateWeight    = "{{ value_json.weight }}"
)

type MQTTOutput struct {
	client         mqtt.Client
	stateTopic     string
	discoveryTopic string
	commandTopic   string
	calibrator     sensor.Calibrator
	log            zerolog.Logger
}

// NewMQTT connects to the broker, publishes Home Assistant discovery and,
// when a command topic and a calibrator are given, subscribes for tare and
// calibrate commands.
func NewMQTT(cfg config.MQTTConfig, channels []config.ChannelConfig, cal sensor.Calibrator, log zerolog.Logger) (output.Output, error) {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID).SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	m := &MQTTOutput{
		client:         client,
		stateTopic:     cfg.StateTopic,
		discoveryTopic: cfg.DiscoveryTopic,
		commandTopic:   cfg.CommandTopic,
		calibrator:     cal,
		log:            log.With().Str("output", "mqtt").Logger(),
	}

	// Publish Home Assistant discovery payload(s) if requested
	if m.discoveryTopic != "" {
		// per-channel discovery when discoveryTopic contains a formatter
		if strings.Contains(m.discoveryTopic, "%s") {
			for _, ch := range channels {
				if !ch.Enabled {
					continue
				}
				dTopic := fmt.Sprintf(m.discoveryTopic, ch.Channel)
				stateTopic := formatStateTopic(cfg.StateTopic, ch.Channel)
				name := discoveryName(cfg, &ch)
				uniqueID := discoveryUniqueID(cfg, &ch)
				payload := baseDiscoveryPayload(name, stateTopic, uniqueID)
				if err := publishJSON(client, dTopic, true, payload); err != nil {
					m.log.Error().Err(err).Str("topic", dTopic).Msg("mqtt discovery publish error")
				}
			}
		} else {
			name := discoveryName(cfg, nil)
			uniqueID := discoveryUniqueID(cfg, nil)
			payload := baseDiscoveryPayload(name, formatStateTopic(m.stateTopic, "A"), uniqueID)
			if err := publishJSON(client, m.discoveryTopic, true, payload); err != nil {
				m.log.Error().Err(err).Str("topic", m.discoveryTopic).Msg("mqtt discovery publish error")
			}
		}
	}

	if m.commandTopic != "" && cal != nil {
		token := client.Subscribe(m.commandTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			// handlers must not block the client's router
			go m.handleCommand(msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			client.Disconnect(250)
			return nil, fmt.Errorf("mqtt subscribe %s: %w", m.commandTopic, token.Error())
		}
		m.log.Info().Str("topic", m.commandTopic).Msg("listening for commands")
	}

	return m, nil
}

func (m *MQTTOutput) Publish(readings []sensor.Reading) error {
	for _, r := range readings {
		topic := formatStateTopic(m.stateTopic, r.Channel)
		b, err := json.Marshal(statePayload(r))
		if err != nil {
			return err
		}
		token := m.client.Publish(topic, 0, false, b)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
	}
	return nil
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		if m.commandTopic != "" && m.calibrator != nil {
			m.client.Unsubscribe(m.commandTopic).Wait()
		}
		m.client.Disconnect(250)
	}
	return nil
}

// PublishRaw publishes a raw payload to the given topic. The caller can set the
// retain flag which is useful for discovery messages.
func (m *MQTTOutput) PublishRaw(topic string, payload []byte, retained bool) error {
	if m.client == nil {
		return fmt.Errorf("mqtt client not connected")
	}
	token := m.client.Publish(topic, 0, retained, payload)
	token.Wait()
	return token.Error()
}

func (m *MQTTOutput) handleCommand(payload []byte) {
	res := runCommand(m.calibrator, payload)
	ev := m.log.Info()
	if res.Error != "" {
		ev = m.log.Warn()
	}
	ev.Str("op", res.Op).Str("channel", res.Channel).Str("error", res.Error).Msg("command handled")
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := m.PublishRaw(m.commandTopic+"/result", b, false); err != nil {
		m.log.Error().Err(err).Msg("mqtt command result publish error")
	}
}

// command is the JSON body accepted on the command topic.
type command struct {
	Op      string  `json:"op"`
	Channel string  `json:"channel"`
	Weight  float64 `json:"weight,omitempty"`
}

type commandResult struct {
	Op            string  `json:"op"`
	Channel       string  `json:"channel"`
	Offset        *int32  `json:"offset,omitempty"`
	ReferenceUnit float64 `json:"reference_unit,omitempty"`
	Error         string  `json:"error,omitempty"`
}

func runCommand(cal sensor.Calibrator, payload []byte) commandResult {
	var cmd command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return commandResult{Error: fmt.Sprintf("invalid command: %v", err)}
	}
	if cmd.Channel == "" {
		cmd.Channel = "A"
	}
	res := commandResult{Op: cmd.Op, Channel: strings.ToUpper(cmd.Channel)}
	switch strings.ToLower(cmd.Op) {
	case "tare":
		off, err := cal.Tare(cmd.Channel)
		if err != nil {
			res.Error = err.Error()
			break
		}
		res.Offset = &off
	case "calibrate":
		ru, err := cal.Calibrate(cmd.Channel, cmd.Weight)
		if err != nil {
			res.Error = err.Error()
			break
		}
		res.ReferenceUnit = ru
	default:
		res.Error = fmt.Sprintf("unknown op %q", cmd.Op)
	}
	return res
}

func statePayload(r sensor.Reading) map[string]interface{} {
	return map[string]interface{}{"weight": r.Value, "raw": r.Raw}
}

// helper: format a state topic for a channel using an optional formatter
func formatStateTopic(base string, ch string) string {
	if base != "" {
		if strings.Contains(base, "%s") {
			return fmt.Sprintf(base, ch)
		}
		return base
	}
	return fmt.Sprintf(perChannelTopicFmt, ch)
}

// helper: build a human-friendly discovery name; if ch != nil append channel
func discoveryName(cfg config.MQTTConfig, ch *config.ChannelConfig) string {
	name := cfg.DiscoveryName
	if name == "" {
		name = fmt.Sprintf("HX711 %s", cfg.ClientID)
	}
	if ch != nil {
		name = fmt.Sprintf("%s ch%s", name, ch.Channel)
	}
	return name
}

// helper: build a unique id for discovery; if ch != nil append channel
func discoveryUniqueID(cfg config.MQTTConfig, ch *config.ChannelConfig) string {
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	if uid != "" && ch != nil {
		uid = fmt.Sprintf("%s_%s", uid, strings.ToLower(ch.Channel))
	}
	return uid
}

// helper: base discovery payload map common to all entries
func baseDiscoveryPayload(name, stateTopic, uniqueID string) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyUnitOfMeasurement:   unitGrams,
		keyDeviceClass:         deviceClassWeight,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       valueTemplateWeight,
		keyJSONAttributesTopic: stateTopic,
	}
	if uniqueID != "" {
		payload[keyUniqueID] = uniqueID
	}
	return payload
}

// helper: marshal and publish JSON payload
func publishJSON(client mqtt.Client, topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := client.Publish(topic, 0, retained, b)
	token.Wait()
	return token.Error()
}
