package device

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ErrNoName is returned for a device description without a name.
var ErrNoName = errors.New("device name required")

// Location is a named geolocation in a device description file.
type Location struct {
	Name      string  `yaml:"name"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// Spec is a device description loaded from YAML:
//
//	name: kitchen-node
//	properties:
//	  model: esp32
//	locations:
//	  - {name: home, latitude: 51.44, longitude: 5.47}
//	sensors:
//	  - {name: temp, channel: kitchen, sensor_type: temperature, unit: "°C"}
//	lights:
//	  - {name: ceiling, channel: kitchen-light, led_type: RGB, spectrum: RGB}
type Spec struct {
	Name          string         `yaml:"name"`
	Properties    map[string]any `yaml:"properties"`
	Locations     []Location     `yaml:"locations"`
	Sensors       []Sensor       `yaml:"sensors"`
	Numbers       []Number       `yaml:"numbers"`
	BinarySensors []BinarySensor `yaml:"binary_sensors"`
	Switches      []Switch       `yaml:"switches"`
	Lights        []Light        `yaml:"lights"`
}

// LoadSpec parses a YAML device description.
func LoadSpec(r io.Reader) (*Spec, error) {
	var spec Spec
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("failed to parse device description: %w", err)
	}
	if spec.Name == "" {
		return nil, ErrNoName
	}
	return &spec, nil
}

// Apply adds everything the description declares to b.
func (s *Spec) Apply(b *Builder) *Builder {
	for k, v := range s.Properties {
		b.AddProperty(k, v)
	}
	for _, l := range s.Locations {
		b.AddLocation(l.Name, l.Latitude, l.Longitude)
	}
	for _, c := range s.Sensors {
		b.AddSensor(c)
	}
	for _, c := range s.Numbers {
		b.AddNumber(c)
	}
	for _, c := range s.BinarySensors {
		b.AddBinarySensor(c)
	}
	for _, c := range s.Switches {
		b.AddSwitch(c)
	}
	for _, c := range s.Lights {
		b.AddLight(c)
	}
	return b
}
