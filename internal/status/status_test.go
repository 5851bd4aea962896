package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweeney/gpio-hub/internal/device"
)

var (
	pump   = device.State{ID: "pump", Name: "Pump", Kind: device.KindSwitch, Offsets: []int{17}, Available: true}
	door   = device.State{ID: "door", Name: "Door", Kind: device.KindBinarySensor, Offsets: []int{27}, On: true, Available: true}
	garage = device.State{ID: "garage", Name: "Garage", Kind: device.KindCover, Offsets: []int{5, 6}, Cover: "CLOSED", Available: true}
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(start, Config{HeartbeatMs: 60000, Broker: "tcp://localhost:1883", HTTPAddr: ":80"})

	snap := tr.Snapshot()
	assert.True(t, snap.StartTime.Equal(start))
	assert.Equal(t, int64(60000), snap.Config.HeartbeatMs)
	assert.Equal(t, ":80", snap.Config.HTTPAddr)
	assert.Empty(t, snap.Devices)
	assert.False(t, snap.MQTTConnected)
}

func TestUpdateSortsDevices(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(pump)
	tr.Update(garage)
	tr.Update(door)

	snap := tr.Snapshot()
	require.Len(t, snap.Devices, 3)
	assert.Equal(t, "door", snap.Devices[0].ID)
	assert.Equal(t, "garage", snap.Devices[1].ID)
	assert.Equal(t, "pump", snap.Devices[2].ID)

	st, ok := snap.Device("garage")
	require.True(t, ok)
	assert.Equal(t, "CLOSED", st.Value())
	_, ok = snap.Device("nope")
	assert.False(t, ok)
}

func TestUpdateCounts(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(pump)
	assert.Equal(t, EventCounts{}, tr.Snapshot().Counts, "first state is not a change")

	on := pump
	on.On = true
	tr.Update(on)
	tr.Update(on)

	failed := on
	failed.Available = false
	failed.Error = "EIO"
	tr.Update(failed)
	tr.Update(failed)

	assert.Equal(t, EventCounts{Changes: 1, Unavailable: 1}, tr.Snapshot().Counts)
}

func TestRemove(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(pump)
	tr.Update(door)
	tr.Remove("pump")
	tr.Remove("pump")

	snap := tr.Snapshot()
	require.Len(t, snap.Devices, 1)
	assert.Equal(t, "door", snap.Devices[0].ID)
}

func TestSetChip(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.SetChip(ChipInfo{Name: "gpiochip0", Label: "pinctrl-bcm2711", Lines: 58, Online: true})
	assert.Equal(t, "pinctrl-bcm2711", tr.Snapshot().Chip.Label)
	assert.True(t, tr.Snapshot().Chip.Online)
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.SetMQTTConnected(true)
	assert.True(t, tr.Snapshot().MQTTConnected)
	tr.SetMQTTConnected(false)
	assert.False(t, tr.Snapshot().MQTTConnected)
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	assert.Nil(t, tr.Snapshot().Network)

	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"})
	snap := tr.Snapshot()
	require.NotNil(t, snap.Network)
	assert.Equal(t, "192.168.1.42", snap.Network.IP)
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{StartTime: start, Now: start.Add(15 * time.Minute)}
	assert.Equal(t, 15*time.Minute, snap.Uptime())
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Config{})
	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()
	assert.False(t, snap.Now.Before(before))
	assert.False(t, snap.Now.After(after))
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(pump)
	snap := tr.Snapshot()

	on := pump
	on.On = true
	tr.Update(on)

	assert.False(t, snap.Devices[0].On)
	assert.True(t, tr.Snapshot().Devices[0].On)
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			st := pump
			st.On = i%2 == 0
			tr.Update(st)
		}(i)
		go func() {
			defer wg.Done()
			tr.SetMQTTConnected(true)
		}()
		go func() {
			defer wg.Done()
			_ = tr.Snapshot()
		}()
	}
	wg.Wait()
	assert.Len(t, tr.Snapshot().Devices, 1)
}

func fixedSnapshot() Snapshot {
	start := time.Date(2026, 2, 2, 22, 0, 0, 0, time.UTC)
	return Snapshot{
		Devices:       []device.State{door, garage, pump},
		Chip:          ChipInfo{Path: "/dev/gpiochip0", Name: "gpiochip0", Label: "pinctrl-bcm2711", Lines: 58, Online: true},
		Counts:        EventCounts{Changes: 4, Unavailable: 1},
		StartTime:     start,
		Now:           start.Add(90*time.Second + 500*time.Millisecond),
		MQTTConnected: true,
		Config: Config{
			HeartbeatMs: 900000,
			Broker:      "tcp://192.168.1.200:1883",
			Prefix:      "gpio-hub",
			HTTPAddr:    ":8080",
		},
	}
}

func TestFormatJSON(t *testing.T) {
	var sj StatusJSON
	require.Nil(t, json.Unmarshal(FormatJSON(fixedSnapshot()), &sj))

	s := sj.Status
	assert.Empty(t, s.Event)
	assert.Equal(t, int64(90), s.UptimeSeconds)
	assert.Equal(t, "2026-02-02T22:00:00Z", s.StartTime)
	assert.Equal(t, "2026-02-02T22:01:30Z", s.Timestamp)
	assert.Equal(t, ChipJSON{Path: "/dev/gpiochip0", Name: "gpiochip0", Label: "pinctrl-bcm2711", Lines: 58, Online: true}, s.Chip)
	require.Len(t, s.Devices, 3)
	assert.Equal(t, DeviceJSON{ID: "door", Name: "Door", Kind: "binary_sensor", State: "ON", Available: true, Offsets: []int{27}}, s.Devices[0])
	assert.Equal(t, "CLOSED", s.Devices[1].State)
	assert.Equal(t, []int{5, 6}, s.Devices[1].Offsets)
	assert.Equal(t, "OFF", s.Devices[2].State)
	assert.True(t, s.MQTT.Connected)
	assert.Equal(t, "tcp://192.168.1.200:1883", s.MQTT.Broker)
	assert.Equal(t, CountsJSON{Changes: 4, Unavailable: 1}, s.Counts)
	assert.Nil(t, s.Network)
	assert.Equal(t, "gpio-hub", s.Config.Prefix)
}

func TestFormatStatusEvent(t *testing.T) {
	snap := fixedSnapshot()
	snap.Network = &NetworkInfo{Type: "ethernet", IP: "192.168.1.50", Status: "connected"}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")
	var sj StatusJSON
	require.Nil(t, json.Unmarshal(data, &sj))
	assert.Equal(t, "SHUTDOWN", sj.Status.Event)
	assert.Equal(t, "SIGTERM", sj.Status.Reason)
	require.NotNil(t, sj.Status.Network)
	assert.Equal(t, "192.168.1.50", sj.Status.Network.IP)
	assert.NotContains(t, string(data), "\n")
}

func TestFormatJSONNoDevices(t *testing.T) {
	snap := fixedSnapshot()
	snap.Devices = nil
	assert.Contains(t, string(FormatJSON(snap)), `"devices": []`)
}
