// Package status provides a thread-safe status tracker for the gpio-hub daemon.
// It is read by HTTP handlers and the MQTT heartbeat.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/gpio-hub/internal/device"
)

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	HeartbeatMs int64
	Broker      string
	Prefix      string
	HTTPAddr    string
}

// ChipInfo describes the chip the hub is using.
type ChipInfo struct {
	Path   string
	Name   string
	Label  string
	Lines  int
	Online bool
}

// EventCounts counts published device state changes.
type EventCounts struct {
	Changes     int
	Unavailable int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Devices       []device.State
	Chip          ChipInfo
	Counts        EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Device returns the state of one device.
func (s Snapshot) Device(id string) (device.State, bool) {
	for _, d := range s.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return device.State{}, false
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu      sync.RWMutex
	snap    Snapshot
	devices map[string]device.State
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		devices: make(map[string]device.State),
	}
}

// Update records a device's latest state. It is called from the device
// notify callback.
func (t *Tracker) Update(st device.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, seen := t.devices[st.ID]
	t.devices[st.ID] = st
	if !seen {
		return
	}
	if prev.Value() != st.Value() {
		t.snap.Counts.Changes++
	}
	if prev.Available && !st.Available {
		t.snap.Counts.Unavailable++
	}
}

// Remove forgets a device.
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	delete(t.devices, id)
	t.mu.Unlock()
}

// SetChip records the discovered chip.
func (t *Tracker) SetChip(info ChipInfo) {
	t.mu.Lock()
	t.snap.Chip = info
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state, devices sorted
// by id. The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Devices = make([]device.State, 0, len(t.devices))
	for _, st := range t.devices {
		s.Devices = append(s.Devices, st)
	}
	t.mu.RUnlock()
	sort.Slice(s.Devices, func(i, j int) bool { return s.Devices[i].ID < s.Devices[j].ID })
	s.Now = time.Now()
	return s
}
