package device

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	channel string
	fields  map[string]any
	err     error
}

func (p *fakePublisher) Publish(channel string, fields map[string]any) error {
	p.channel = channel
	p.fields = fields
	return p.err
}

func component(t *testing.T, doc map[string]any, device, name string) map[string]any {
	t.Helper()
	dev, ok := doc[device].(map[string]any)
	require.True(t, ok)
	comps, ok := dev["components"].(map[string]any)
	require.True(t, ok)
	c, ok := comps[name].(map[string]any)
	require.True(t, ok, "component %s missing", name)
	return c
}

func TestDocumentShape(t *testing.T) {
	step := 0.5
	b := NewBuilder(&fakePublisher{}, "kitchen", "c_123").
		AddProperty("model", "esp32").
		AddLocation("home", 51.44, 5.47).
		AddSensor(Sensor{Name: "temp", Channel: "kitchen", SensorType: "temperature", Unit: "C", Default: 20, Step: &step}).
		AddNumber(Number{Name: "target", Channel: "kitchen", MinMax: []float64{10, 30}, Unit: "C", Default: 21}).
		AddBinarySensor(BinarySensor{Name: "door", Channel: "kitchen", SensorType: "door"}).
		AddSwitch(Switch{Name: "fan", Channel: "kitchen", Default: true, Icon: "mdi:fan"})

	doc := b.Document()
	dev := doc["kitchen"].(map[string]any)

	assert.Equal(t, map[string]any{"device_id": "c_123", "model": "esp32"}, dev["properties"])
	assert.Equal(t, map[string]any{"home": []float64{51.44, 5.47}}, dev["location"])

	temp := component(t, doc, "kitchen", "temp")
	assert.Equal(t, "sensor", temp["type"])
	assert.Equal(t, "auto", temp["mode"])
	assert.Equal(t, 0.5, temp["step"])
	assert.Nil(t, temp["icon"])

	target := component(t, doc, "kitchen", "target")
	assert.Equal(t, "number", target["type"])
	assert.Equal(t, []float64{10, 30}, target["min_max"])

	door := component(t, doc, "kitchen", "door")
	assert.Equal(t, "binary_sensor", door["type"])
	assert.Equal(t, false, door["state"])

	fan := component(t, doc, "kitchen", "fan")
	assert.Equal(t, "switch", fan["type"])
	assert.Equal(t, "mdi:fan", fan["icon"])

	_, err := json.Marshal(doc)
	assert.NoError(t, err)
	assert.Empty(t, b.Warnings())
}

func TestAddLightValidation(t *testing.T) {
	tests := []struct {
		name         string
		light        Light
		wantLEDType  bool
		wantSpectrum bool
		wantWarnings int
	}{
		{
			name:         "valid",
			light:        Light{Name: "l", Channel: "c", LEDType: "RGBW", Spectrum: "RGB"},
			wantLEDType:  true,
			wantSpectrum: true,
		},
		{
			name:         "bad led type",
			light:        Light{Name: "l", Channel: "c", LEDType: "NEON", Spectrum: "RGB"},
			wantWarnings: 1,
		},
		{
			name:         "bad spectrum",
			light:        Light{Name: "l", Channel: "c", LEDType: "CCT", Spectrum: "UV"},
			wantLEDType:  true,
			wantWarnings: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(&fakePublisher{}, "dev", "c_1").AddLight(tt.light)

			light := component(t, b.Document(), "dev", "l")
			assert.Equal(t, "light", light["type"])

			_, hasLED := light["ledType"]
			_, hasSpectrum := light["spectrum"]
			assert.Equal(t, tt.wantLEDType, hasLED)
			assert.Equal(t, tt.wantSpectrum, hasSpectrum)
			assert.Len(t, b.Warnings(), tt.wantWarnings)

			_, err := json.Marshal(b.Document())
			assert.NoError(t, err)
		})
	}
}

func TestSubmit(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBuilder(pub, "dev", "c_1").AddSwitch(Switch{Name: "s", Channel: "c"})

	require.NoError(t, b.Submit())
	assert.Equal(t, AnnounceChannel, pub.channel)
	assert.Contains(t, pub.fields, "dev")
}

func TestSubmitError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	err := NewBuilder(pub, "dev", "c_1").Submit()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "dev")
}

func TestDocumentIsACopy(t *testing.T) {
	b := NewBuilder(&fakePublisher{}, "dev", "c_1").AddSwitch(Switch{Name: "s", Channel: "c"})

	doc := b.Document()
	component(t, doc, "dev", "s")["state"] = true

	assert.Equal(t, false, component(t, b.Document(), "dev", "s")["state"])
}

const kitchenYAML = `
name: kitchen
properties:
  model: esp32
locations:
  - {name: home, latitude: 51.44, longitude: 5.47}
sensors:
  - {name: temp, channel: kitchen, sensor_type: temperature, unit: C, default: 20}
numbers:
  - {name: target, channel: kitchen, min_max: [10, 30], unit: C, default: 21}
binary_sensors:
  - {name: door, channel: kitchen, sensor_type: door}
switches:
  - {name: fan, channel: kitchen}
lights:
  - {name: ceiling, channel: kitchen-light, led_type: RGB, spectrum: RGB, brightness: 80}
`

func TestLoadSpecAndApply(t *testing.T) {
	spec, err := LoadSpec(strings.NewReader(kitchenYAML))
	require.NoError(t, err)
	assert.Equal(t, "kitchen", spec.Name)

	b := spec.Apply(NewBuilder(&fakePublisher{}, spec.Name, "c_1"))
	doc := b.Document()

	dev := doc["kitchen"].(map[string]any)
	assert.Equal(t, "esp32", dev["properties"].(map[string]any)["model"])

	for _, name := range []string{"temp", "target", "door", "fan", "ceiling"} {
		component(t, doc, "kitchen", name)
	}
	assert.Equal(t, 80, component(t, doc, "kitchen", "ceiling")["brightness"])
	assert.Empty(t, b.Warnings())
}

func TestLoadSpecErrors(t *testing.T) {
	_, err := LoadSpec(strings.NewReader("properties: {a: 1}\n"))
	assert.True(t, errors.Is(err, ErrNoName))

	_, err = LoadSpec(strings.NewReader("name: x\nsensorz: []\n"))
	assert.Error(t, err)
}
