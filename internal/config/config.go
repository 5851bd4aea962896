// Package config loads the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sweeney/gpio-hub/internal/device"
	"github.com/sweeney/gpio-hub/internal/gpio"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDebounce  = 50 * time.Millisecond
	DefaultRelayTime = 200 * time.Millisecond
	DefaultHeartbeat = 15 * time.Minute
	DefaultLiveness  = 5 * time.Second
	DefaultBroker    = "tcp://localhost:1883"
	DefaultPrefix    = "gpio-hub"
	DefaultHTTPAddr  = ":8080"
	DefaultStateFile = "/var/lib/gpio-hub/state.gob"
	DefaultBuffer    = 1000
)

// Config is the root of the configuration file.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Chip ChipConfig `yaml:"chip"`

	// Workers bounds the executor running chip and line syscalls.
	Workers int `yaml:"workers"`

	// StateFile keeps persistent switch states across restarts.
	// Empty disables persistence.
	StateFile string `yaml:"state_file"`

	Heartbeat time.Duration `yaml:"heartbeat"`

	MQTT MQTTConfig `yaml:"mqtt"`
	HTTP HTTPConfig `yaml:"http"`

	Switches []Switch `yaml:"switches"`
	Sensors  []Sensor `yaml:"sensors"`
	Covers   []Cover  `yaml:"covers"`
}

// ChipConfig selects the GPIO chip. An empty path auto-discovers it.
type ChipConfig struct {
	Path        string   `yaml:"path"`
	Candidates  []string `yaml:"candidates"`
	LabelMarker string   `yaml:"label_marker"`
	Consumer    string   `yaml:"consumer"`
	// Liveness is how often watched inputs are read back to catch a dead
	// event stream. Negative disables the check.
	Liveness time.Duration `yaml:"liveness"`
}

// MQTTConfig configures the broker connection. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Prefix   string `yaml:"prefix"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Buffer   int    `yaml:"buffer"`
	Disabled bool   `yaml:"disabled"`
}

// HTTPConfig configures the status server. An empty addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Switch declares an output.
type Switch struct {
	Name       string `yaml:"name"`
	Port       int    `yaml:"port"`
	UniqueID   string `yaml:"unique_id"`
	ActiveLow  bool   `yaml:"active_low"`
	Bias       string `yaml:"bias"`
	Drive      string `yaml:"drive"`
	Persistent bool   `yaml:"persistent"`
}

// Sensor declares a binary sensor input.
type Sensor struct {
	Name      string        `yaml:"name"`
	Port      int           `yaml:"port"`
	UniqueID  string        `yaml:"unique_id"`
	ActiveLow bool          `yaml:"active_low"`
	Bias      string        `yaml:"bias"`
	Debounce  time.Duration `yaml:"debounce"`
	Clock     string        `yaml:"clock"`
}

// Cover declares a relay-driven cover and its closed sensor.
type Cover struct {
	Name      string        `yaml:"name"`
	UniqueID  string        `yaml:"unique_id"`
	RelayPin  int           `yaml:"relay_pin"`
	StatePin  int           `yaml:"state_pin"`
	RelayTime time.Duration `yaml:"relay_time"`

	InvertRelay bool   `yaml:"invert_relay"`
	RelayBias   string `yaml:"relay_bias"`
	RelayDrive  string `yaml:"relay_drive"`

	InvertState   bool          `yaml:"invert_state"`
	StatePullMode string        `yaml:"state_pull_mode"`
	Debounce      time.Duration `yaml:"debounce"`
}

// Default returns a configuration with every default applied and no devices.
func Default() *Config {
	c := &Config{StateFile: DefaultStateFile, HTTP: HTTPConfig{Addr: DefaultHTTPAddr}}
	c.applyDefaults()
	return c
}

// Load reads, defaults and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	c, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return c, nil
}

// Parse decodes, defaults and validates YAML configuration.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Heartbeat == 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	if c.Chip.Liveness == 0 {
		c.Chip.Liveness = DefaultLiveness
	}
	if c.MQTT.Broker == "" && !c.MQTT.Disabled {
		c.MQTT.Broker = DefaultBroker
	}
	if c.MQTT.Prefix == "" {
		c.MQTT.Prefix = DefaultPrefix
	}
	if c.MQTT.Buffer == 0 {
		c.MQTT.Buffer = DefaultBuffer
	}
	for i := range c.Switches {
		s := &c.Switches[i]
		if s.UniqueID == "" {
			s.UniqueID = UniqueID(s.Port, s.Name)
		}
		if s.Bias == "" {
			s.Bias = "AS_IS"
		}
		if s.Drive == "" {
			s.Drive = "PUSH_PULL"
		}
	}
	for i := range c.Sensors {
		s := &c.Sensors[i]
		if s.UniqueID == "" {
			s.UniqueID = UniqueID(s.Port, s.Name)
		}
		if s.Bias == "" {
			s.Bias = "UP"
		}
		if s.Debounce == 0 {
			s.Debounce = DefaultDebounce
		}
	}
	for i := range c.Covers {
		v := &c.Covers[i]
		if v.UniqueID == "" {
			v.UniqueID = UniqueID(v.RelayPin, v.Name)
		}
		if v.RelayTime == 0 {
			v.RelayTime = DefaultRelayTime
		}
		if v.RelayBias == "" {
			v.RelayBias = "AS_IS"
		}
		if v.RelayDrive == "" {
			v.RelayDrive = "PUSH_PULL"
		}
		if v.StatePullMode == "" {
			v.StatePullMode = "UP"
		}
		if v.Debounce == 0 {
			v.Debounce = DefaultDebounce
		}
	}
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

// UniqueID derives a device id from its offset and name.
func UniqueID(offset int, name string) string {
	snake := strings.Trim(nonWord.ReplaceAllString(strings.ToLower(name), "_"), "_")
	return fmt.Sprintf("gpio_hub_%d_%s", offset, snake)
}

// Validate checks names, offsets, enums and id uniqueness. Two devices on the
// same offset are left for the line registry to reject.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return errors.Errorf("workers must not be negative: %d", c.Workers)
	}
	if c.Heartbeat < 0 {
		return errors.Errorf("heartbeat must not be negative: %v", c.Heartbeat)
	}
	if c.MQTT.Buffer < 0 {
		return errors.Errorf("mqtt buffer must not be negative: %d", c.MQTT.Buffer)
	}

	ids := make(map[string]string)
	unique := func(id, what string) error {
		if prev, ok := ids[id]; ok {
			return errors.Errorf("%s: unique_id %q already used by %s", what, id, prev)
		}
		ids[id] = what
		return nil
	}

	for i, s := range c.Switches {
		what := fmt.Sprintf("switches[%d]", i)
		if err := checkDevice(what, s.Name, s.Port); err != nil {
			return err
		}
		if _, err := ParseBias(s.Bias); err != nil {
			return errors.Wrap(err, what)
		}
		if _, err := ParseDrive(s.Drive); err != nil {
			return errors.Wrap(err, what)
		}
		if err := unique(s.UniqueID, what); err != nil {
			return err
		}
	}
	for i, s := range c.Sensors {
		what := fmt.Sprintf("sensors[%d]", i)
		if err := checkDevice(what, s.Name, s.Port); err != nil {
			return err
		}
		if _, err := ParseBias(s.Bias); err != nil {
			return errors.Wrap(err, what)
		}
		if _, err := ParseClock(s.Clock); err != nil {
			return errors.Wrap(err, what)
		}
		if s.Debounce < 0 {
			return errors.Errorf("%s: negative debounce %v", what, s.Debounce)
		}
		if err := unique(s.UniqueID, what); err != nil {
			return err
		}
	}
	for i, v := range c.Covers {
		what := fmt.Sprintf("covers[%d]", i)
		if err := checkDevice(what, v.Name, v.RelayPin); err != nil {
			return err
		}
		if v.StatePin < 0 {
			return errors.Errorf("%s: negative state_pin %d", what, v.StatePin)
		}
		if v.RelayPin == v.StatePin {
			return errors.Errorf("%s: relay_pin and state_pin are both %d", what, v.RelayPin)
		}
		if v.RelayTime < 0 {
			return errors.Errorf("%s: negative relay_time %v", what, v.RelayTime)
		}
		if _, err := ParseBias(v.RelayBias); err != nil {
			return errors.Wrap(err, what)
		}
		if _, err := ParseDrive(v.RelayDrive); err != nil {
			return errors.Wrap(err, what)
		}
		if _, err := ParseBias(v.StatePullMode); err != nil {
			return errors.Wrap(err, what)
		}
		if err := unique(v.UniqueID, what); err != nil {
			return err
		}
	}
	return nil
}

func checkDevice(what, name string, port int) error {
	if strings.TrimSpace(name) == "" {
		return errors.Errorf("%s: name is required", what)
	}
	if port < 0 {
		return errors.Errorf("%s: negative port %d", what, port)
	}
	return nil
}

// ParseBias accepts UP, DOWN, DISABLED and AS_IS.
func ParseBias(s string) (gpio.Bias, error) {
	switch strings.ToUpper(s) {
	case "", "AS_IS":
		return gpio.BiasAsIs, nil
	case "UP", "PULL_UP":
		return gpio.BiasPullUp, nil
	case "DOWN", "PULL_DOWN":
		return gpio.BiasPullDown, nil
	case "DISABLED", "OFF":
		return gpio.BiasDisabled, nil
	}
	return gpio.BiasAsIs, errors.Errorf("unknown bias %q", s)
}

// ParseDrive accepts PUSH_PULL, OPEN_DRAIN and OPEN_SOURCE.
func ParseDrive(s string) (gpio.Drive, error) {
	switch strings.ToUpper(s) {
	case "", "PUSH_PULL":
		return gpio.DrivePushPull, nil
	case "OPEN_DRAIN":
		return gpio.DriveOpenDrain, nil
	case "OPEN_SOURCE":
		return gpio.DriveOpenSource, nil
	}
	return gpio.DrivePushPull, errors.Errorf("unknown drive %q", s)
}

// ParseClock accepts REALTIME and MONOTONIC. Empty is realtime.
func ParseClock(s string) (gpio.EventClock, error) {
	switch strings.ToUpper(s) {
	case "", "REALTIME":
		return gpio.ClockRealtime, nil
	case "MONOTONIC":
		return gpio.ClockMonotonic, nil
	}
	return gpio.ClockRealtime, errors.Errorf("unknown event clock %q", s)
}

// SwitchConfigs converts the declared switches. last supplies the
// last-known state of persistent switches by id.
func (c *Config) SwitchConfigs(last func(id string) (on, known bool)) []device.SwitchConfig {
	out := make([]device.SwitchConfig, 0, len(c.Switches))
	for _, s := range c.Switches {
		bias, _ := ParseBias(s.Bias)
		drive, _ := ParseDrive(s.Drive)
		sc := device.SwitchConfig{
			ID:         s.UniqueID,
			Name:       s.Name,
			Offset:     s.Port,
			ActiveLow:  s.ActiveLow,
			Bias:       bias,
			Drive:      drive,
			Persistent: s.Persistent,
		}
		if s.Persistent && last != nil {
			id := s.UniqueID
			sc.LastState = func() (bool, bool) { return last(id) }
		}
		out = append(out, sc)
	}
	return out
}

// SensorConfigs converts the declared sensors.
func (c *Config) SensorConfigs() []device.SensorConfig {
	out := make([]device.SensorConfig, 0, len(c.Sensors))
	for _, s := range c.Sensors {
		bias, _ := ParseBias(s.Bias)
		clock, _ := ParseClock(s.Clock)
		out = append(out, device.SensorConfig{
			ID:        s.UniqueID,
			Name:      s.Name,
			Offset:    s.Port,
			ActiveLow: s.ActiveLow,
			Bias:      bias,
			Debounce:  s.Debounce,
			Clock:     clock,
		})
	}
	return out
}

// CoverConfigs converts the declared covers.
func (c *Config) CoverConfigs() []device.CoverConfig {
	out := make([]device.CoverConfig, 0, len(c.Covers))
	for _, v := range c.Covers {
		relayBias, _ := ParseBias(v.RelayBias)
		drive, _ := ParseDrive(v.RelayDrive)
		stateBias, _ := ParseBias(v.StatePullMode)
		out = append(out, device.CoverConfig{
			ID:             v.UniqueID,
			Name:           v.Name,
			RelayTime:      v.RelayTime,
			RelayOffset:    v.RelayPin,
			RelayActiveLow: v.InvertRelay,
			RelayBias:      relayBias,
			RelayDrive:     drive,
			StateOffset:    v.StatePin,
			StateActiveLow: v.InvertState,
			StateBias:      stateBias,
			Debounce:       v.Debounce,
		})
	}
	return out
}

// Offsets returns every offset the configuration claims, for diagnostics.
func (c *Config) Offsets() []int {
	var out []int
	for _, s := range c.Switches {
		out = append(out, s.Port)
	}
	for _, s := range c.Sensors {
		out = append(out, s.Port)
	}
	for _, v := range c.Covers {
		out = append(out, v.RelayPin, v.StatePin)
	}
	return out
}
