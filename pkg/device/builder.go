// Package device builds heyOOCSI! device descriptors.
//
// A descriptor announces a logical device and its components so that
// dashboards and home-automation bridges can discover it:
//
//	{"<name>": {
//	    "properties": {"device_id": "<handle>", ...},
//	    "location":   {"<place>": [lat, lon]},
//	    "components": {"<component>": {"type": "sensor", "channel_name": ..., ...}}
//	}}
//
// Invalid enumerated values (light spectrum or LED type) are logged and
// recorded as warnings; the offending field is left out and the component
// is still announced.
package device

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// AnnounceChannel is the channel descriptors are published on.
const AnnounceChannel = "heyOOCSI!"

// Component type names.
const (
	TypeSensor       = "sensor"
	TypeNumber       = "number"
	TypeBinarySensor = "binary_sensor"
	TypeSwitch       = "switch"
	TypeLight        = "light"
)

// Spectra lists the accepted light spectrum values.
var Spectra = []string{"WHITE", "CCT", "RGB"}

// LEDTypes lists the accepted light LED type values.
var LEDTypes = []string{"RGB", "RGBW", "RGBWW", "CCT", "DIMMABLE", "ONOFF"}

// Publisher sends a payload to a channel.
type Publisher interface {
	Publish(channel string, fields map[string]any) error
}

// Sensor describes a numeric sensor component.
type Sensor struct {
	Name       string   `yaml:"name"`
	Channel    string   `yaml:"channel"`
	SensorType string   `yaml:"sensor_type"`
	Unit       string   `yaml:"unit"`
	Default    float64  `yaml:"default"`
	Mode       string   `yaml:"mode"` // default "auto"
	Step       *float64 `yaml:"step"`
	Icon       string   `yaml:"icon"`
}

// Number describes a settable number component.
type Number struct {
	Name    string    `yaml:"name"`
	Channel string    `yaml:"channel"`
	MinMax  []float64 `yaml:"min_max"`
	Unit    string    `yaml:"unit"`
	Default float64   `yaml:"default"`
	Icon    string    `yaml:"icon"`
}

// BinarySensor describes an on/off sensor component.
type BinarySensor struct {
	Name       string `yaml:"name"`
	Channel    string `yaml:"channel"`
	SensorType string `yaml:"sensor_type"`
	Default    bool   `yaml:"default"`
	Icon       string `yaml:"icon"`
}

// Switch describes a switch component.
type Switch struct {
	Name    string `yaml:"name"`
	Channel string `yaml:"channel"`
	Default bool   `yaml:"default"`
	Icon    string `yaml:"icon"`
}

// Light describes a light component.
type Light struct {
	Name        string `yaml:"name"`
	Channel     string `yaml:"channel"`
	LEDType     string `yaml:"led_type"`
	Spectrum    string `yaml:"spectrum"`
	Default     bool   `yaml:"default"`
	Brightness  int    `yaml:"brightness"`
	MiredMinMax []int  `yaml:"mired_min_max"`
	Icon        string `yaml:"icon"`
}

// Builder accumulates a device descriptor. It is safe for concurrent use.
type Builder struct {
	pub    Publisher
	name   string
	logger *slog.Logger

	mu         sync.Mutex
	properties map[string]any
	locations  map[string]any
	components map[string]map[string]any
	warnings   []string
}

// NewBuilder starts a descriptor for device name announced by deviceID
// (normally the client handle).
func NewBuilder(pub Publisher, name, deviceID string) *Builder {
	b := &Builder{
		pub:        pub,
		name:       name,
		logger:     slog.Default().With("device", name),
		properties: map[string]any{"device_id": deviceID},
		locations:  make(map[string]any),
		components: make(map[string]map[string]any),
	}
	b.logger.Debug("Created device")
	return b
}

// Name returns the device name.
func (b *Builder) Name() string {
	return b.name
}

// AddProperty sets a device property.
func (b *Builder) AddProperty(key string, value any) *Builder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.properties[key] = value
	return b
}

// AddLocation adds a named geolocation.
func (b *Builder) AddLocation(name string, latitude, longitude float64) *Builder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.locations[name] = []float64{latitude, longitude}
	return b
}

// AddSensor adds a sensor component.
func (b *Builder) AddSensor(s Sensor) *Builder {
	mode := s.Mode
	if mode == "" {
		mode = "auto"
	}
	var step any
	if s.Step != nil {
		step = *s.Step
	}
	return b.addComponent(s.Name, map[string]any{
		"channel_name": s.Channel,
		"type":         TypeSensor,
		"sensor_type":  s.SensorType,
		"unit":         s.Unit,
		"value":        s.Default,
		"mode":         mode,
		"step":         step,
		"icon":         icon(s.Icon),
	})
}

// AddNumber adds a number component.
func (b *Builder) AddNumber(n Number) *Builder {
	var minMax any
	if n.MinMax != nil {
		minMax = n.MinMax
	}
	return b.addComponent(n.Name, map[string]any{
		"channel_name": n.Channel,
		"min_max":      minMax,
		"type":         TypeNumber,
		"unit":         n.Unit,
		"value":        n.Default,
		"icon":         icon(n.Icon),
	})
}

// AddBinarySensor adds a binary sensor component.
func (b *Builder) AddBinarySensor(s BinarySensor) *Builder {
	return b.addComponent(s.Name, map[string]any{
		"channel_name": s.Channel,
		"type":         TypeBinarySensor,
		"sensor_type":  s.SensorType,
		"state":        s.Default,
		"icon":         icon(s.Icon),
	})
}

// AddSwitch adds a switch component.
func (b *Builder) AddSwitch(s Switch) *Builder {
	return b.addComponent(s.Name, map[string]any{
		"channel_name": s.Channel,
		"type":         TypeSwitch,
		"state":        s.Default,
		"icon":         icon(s.Icon),
	})
}

// AddLight adds a light component. An unknown LED type drops both ledType
// and spectrum; an unknown spectrum drops spectrum.
func (b *Builder) AddLight(l Light) *Builder {
	var minMax any
	if l.MiredMinMax != nil {
		minMax = l.MiredMinMax
	}
	component := map[string]any{
		"channel_name": l.Channel,
		"type":         TypeLight,
		"min_max":      minMax,
		"state":        l.Default,
		"brightness":   l.Brightness,
		"icon":         icon(l.Icon),
	}

	switch {
	case !slices.Contains(LEDTypes, l.LEDType):
		b.warn(l.Name, fmt.Sprintf("led type %q does not exist", l.LEDType))
	case !slices.Contains(Spectra, l.Spectrum):
		component["ledType"] = l.LEDType
		b.warn(l.Name, fmt.Sprintf("spectrum %q does not exist", l.Spectrum))
	default:
		component["ledType"] = l.LEDType
		component["spectrum"] = l.Spectrum
	}

	return b.addComponent(l.Name, component)
}

// Warnings returns the validation problems found so far.
func (b *Builder) Warnings() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.warnings...)
}

// Document returns the descriptor as a JSON-ready map.
func (b *Builder) Document() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	components := make(map[string]any, len(b.components))
	for name, c := range b.components {
		components[name] = maps.Clone(c)
	}
	return map[string]any{
		b.name: map[string]any{
			"properties": maps.Clone(b.properties),
			"location":   maps.Clone(b.locations),
			"components": components,
		},
	}
}

// Submit publishes the descriptor on AnnounceChannel.
func (b *Builder) Submit() error {
	if err := b.pub.Publish(AnnounceChannel, b.Document()); err != nil {
		return fmt.Errorf("failed to announce device %s: %w", b.name, err)
	}
	b.logger.Info("Announced device", "channel", AnnounceChannel)
	return nil
}

func (b *Builder) addComponent(name string, component map[string]any) *Builder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.components[name] = component
	b.logger.Debug("Added component", "component", name, "type", component["type"])
	return b
}

func (b *Builder) warn(component, msg string) {
	b.logger.Error("Invalid component field", "component", component, "error", msg)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.warnings = append(b.warnings, component+": "+msg)
}

// icon maps an empty icon to JSON null.
func icon(s string) any {
	if s == "" {
		return nil
	}
	return s
}
