package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweeney/gpio-hub/internal/gpio"
)

const sample = `
log_level: debug
chip:
  path: /dev/gpiochip4
state_file: /tmp/gpio-hub.gob
mqtt:
  broker: tcp://broker:1883
  prefix: home/gpio
http:
  addr: ":9090"
switches:
  - name: Garden Pump
    port: 17
    persistent: true
  - name: Fan
    port: 18
    unique_id: fan
    active_low: true
    drive: open_drain
sensors:
  - name: Front Door
    port: 6
    debounce: 10ms
    bias: down
covers:
  - name: Garage
    relay_pin: 5
    state_pin: 12
    invert_state: true
`

func TestParseSample(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.Nil(t, err)

	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "/dev/gpiochip4", c.Chip.Path)
	assert.Equal(t, "home/gpio", c.MQTT.Prefix)
	assert.Equal(t, DefaultBuffer, c.MQTT.Buffer)
	assert.Equal(t, DefaultHeartbeat, c.Heartbeat)

	require.Len(t, c.Switches, 2)
	assert.Equal(t, "gpio_hub_17_garden_pump", c.Switches[0].UniqueID)
	assert.Equal(t, "AS_IS", c.Switches[0].Bias)
	assert.Equal(t, "fan", c.Switches[1].UniqueID)

	require.Len(t, c.Sensors, 1)
	assert.Equal(t, 10*time.Millisecond, c.Sensors[0].Debounce)

	require.Len(t, c.Covers, 1)
	assert.Equal(t, DefaultRelayTime, c.Covers[0].RelayTime)
	assert.Equal(t, "UP", c.Covers[0].StatePullMode)
	assert.Equal(t, "gpio_hub_5_garage", c.Covers[0].UniqueID)
}

func TestSensorDefaults(t *testing.T) {
	c, err := Parse([]byte("sensors:\n  - name: Door\n    port: 6\n"))
	require.Nil(t, err)
	assert.Equal(t, "UP", c.Sensors[0].Bias)
	assert.Equal(t, DefaultDebounce, c.Sensors[0].Debounce)
}

func TestDeviceConfigs(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.Nil(t, err)

	calls := 0
	sw := c.SwitchConfigs(func(id string) (bool, bool) {
		calls++
		return id == "gpio_hub_17_garden_pump", true
	})
	require.Len(t, sw, 2)
	assert.True(t, sw[0].Persistent)
	require.NotNil(t, sw[0].LastState)
	on, known := sw[0].LastState()
	assert.True(t, on)
	assert.True(t, known)
	assert.Nil(t, sw[1].LastState)
	assert.Equal(t, 1, calls)
	assert.Equal(t, gpio.DriveOpenDrain, sw[1].Drive)
	assert.True(t, sw[1].ActiveLow)

	sensors := c.SensorConfigs()
	require.Len(t, sensors, 1)
	assert.Equal(t, gpio.BiasPullDown, sensors[0].Bias)
	assert.Equal(t, gpio.ClockRealtime, sensors[0].Clock)

	covers := c.CoverConfigs()
	require.Len(t, covers, 1)
	assert.Equal(t, 5, covers[0].RelayOffset)
	assert.Equal(t, 12, covers[0].StateOffset)
	assert.True(t, covers[0].StateActiveLow)
	assert.Equal(t, gpio.BiasPullUp, covers[0].StateBias)

	assert.Equal(t, []int{17, 18, 6, 5, 12}, c.Offsets())
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]string{
		"missing name":      "switches:\n  - port: 4\n",
		"negative port":     "switches:\n  - name: a\n    port: -1\n",
		"bad bias":          "sensors:\n  - name: a\n    port: 4\n    bias: sideways\n",
		"bad drive":         "switches:\n  - name: a\n    port: 4\n    drive: tri_state\n",
		"bad clock":         "sensors:\n  - name: a\n    port: 4\n    clock: hpet\n",
		"duplicate id":      "switches:\n  - name: a\n    port: 4\n    unique_id: x\n  - name: b\n    port: 5\n    unique_id: x\n",
		"cover same pins":   "covers:\n  - name: a\n    relay_pin: 4\n    state_pin: 4\n",
		"negative debounce": "sensors:\n  - name: a\n    port: 4\n    debounce: -5ms\n",
		"not yaml":          "switches: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.NotNil(t, err)
		})
	}
}

func TestDuplicateOffsetsAreAccepted(t *testing.T) {
	// the line registry rejects the second device at registration
	_, err := Parse([]byte("switches:\n  - name: a\n    port: 22\n  - name: b\n    port: 22\n"))
	assert.Nil(t, err)
}

func TestUniqueID(t *testing.T) {
	assert.Equal(t, "gpio_hub_17_garden_pump", UniqueID(17, "Garden Pump"))
	assert.Equal(t, "gpio_hub_3_a_b", UniqueID(3, "  A--b! "))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpio-hub.yaml")
	require.Nil(t, os.WriteFile(path, []byte(sample), 0o600))

	c, err := Load(path)
	require.Nil(t, err)
	assert.Len(t, c.Switches, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NotNil(t, err)
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, DefaultBroker, c.MQTT.Broker)
	assert.Equal(t, DefaultHTTPAddr, c.HTTP.Addr)
	assert.Equal(t, DefaultStateFile, c.StateFile)
	assert.Equal(t, DefaultLiveness, c.Chip.Liveness)
	assert.Nil(t, c.Validate())
}
