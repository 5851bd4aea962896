package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sweeney/gpio-hub/internal/config"
	"github.com/sweeney/gpio-hub/internal/device"
	"github.com/sweeney/gpio-hub/internal/hub"
	"github.com/sweeney/gpio-hub/internal/mqtt"
	"github.com/sweeney/gpio-hub/internal/state"
	"github.com/sweeney/gpio-hub/internal/status"
)

// stateQueue bounds the device updates waiting to be published.
const stateQueue = 256

// daemon ties the device manager to its outputs: the status tracker, the
// state file and the MQTT publisher.
type daemon struct {
	hub        *hub.Hub
	manager    *device.Manager
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	store      *state.Store
	log        *logrus.Entry

	// written before any device is added
	persistent map[string]bool

	// device states are published off the loop
	states    chan device.State
	forwarded chan struct{}
}

func newDaemon(h *hub.Hub, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, store *state.Store, log *logrus.Entry) *daemon {
	d := &daemon{
		hub:        h,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		store:      store,
		log:        log,
		persistent: make(map[string]bool),
		states:     make(chan device.State, stateQueue),
		forwarded:  make(chan struct{}),
	}
	d.manager = device.NewManager(h, d.notify, log.WithField("prefix", "devices"))
	go d.forward()
	return d
}

// notify runs on the loop and must not block.
func (d *daemon) notify(st device.State) {
	d.tracker.Update(st)
	if d.persistent[st.ID] && st.Available {
		d.store.Set(st.ID, st.On)
	}
	d.enqueue(st)
}

func (d *daemon) enqueue(st device.State) {
	select {
	case d.states <- st:
	default:
		d.log.WithField("device", st.ID).Warn("state queue full, dropping update")
	}
}

func (d *daemon) forward() {
	defer close(d.forwarded)
	for st := range d.states {
		if err := d.publisher.PublishState(st); err != nil {
			d.log.WithError(err).WithField("device", st.ID).Warn("publish state failed")
		}
	}
}

// addDevices adds every configured device. A device that cannot be added is
// logged and reported unavailable; the others carry on.
func (d *daemon) addDevices(ctx context.Context, cfg *config.Config) {
	switches := cfg.SwitchConfigs(d.store.Get)
	for _, sc := range switches {
		if sc.Persistent {
			d.persistent[sc.ID] = true
		}
	}

	for _, sc := range switches {
		err := d.manager.AddSwitch(ctx, sc)
		d.added(device.State{ID: sc.ID, Name: sc.Name, Kind: device.KindSwitch, Offsets: []int{sc.Offset}}, err)
	}
	for _, sc := range cfg.SensorConfigs() {
		err := d.manager.AddSensor(ctx, sc)
		d.added(device.State{ID: sc.ID, Name: sc.Name, Kind: device.KindBinarySensor, Offsets: []int{sc.Offset}}, err)
	}
	for _, cc := range cfg.CoverConfigs() {
		err := d.manager.AddCover(ctx, cc)
		d.added(device.State{ID: cc.ID, Name: cc.Name, Kind: device.KindCover, Offsets: []int{cc.RelayOffset, cc.StateOffset}}, err)
	}
}

func (d *daemon) added(st device.State, err error) {
	if err == nil {
		return
	}
	d.log.WithError(err).WithField("device", st.ID).Error("device not added")
	if errors.Is(err, device.ErrDuplicateID) {
		// the first device with this id is live
		return
	}
	st.Error = err.Error()
	d.tracker.Update(st)
	d.enqueue(st)
}

// execute runs a command on the loop and waits for its result.
func (d *daemon) execute(id, action string) error {
	var err error
	if cerr := d.hub.Loop().Call(func() { err = d.manager.Execute(id, action) }); cerr != nil {
		return errors.Wrap(cerr, "execute")
	}
	log := d.log.WithFields(logrus.Fields{"device": id, "action": action})
	if err != nil {
		log.WithError(err).Warn("command failed")
		return err
	}
	log.Info("command executed")
	return nil
}

func (d *daemon) trackChip() {
	info, err := d.hub.Chips().Info()
	d.tracker.SetChip(status.ChipInfo{
		Path:   info.Path,
		Name:   info.Name,
		Label:  info.Label,
		Lines:  info.Lines,
		Online: err == nil,
	})
}

// saveState writes changed persistent switch states, at most once per save
// interval.
func (d *daemon) saveState() {
	if err := d.store.SaveConditional(); err != nil {
		d.log.WithError(err).Warn("saving state failed")
	}
}

// publishStatus sends a system event carrying a full status snapshot.
func (d *daemon) publishStatus(event, reason string, retained bool) status.Snapshot {
	d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	snap := d.tracker.Snapshot()
	err := d.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		d.log.WithError(err).WithField("event", event).Warn("publish system event failed")
	} else {
		d.log.WithField("event", event).Debug("published system event")
	}
	return snap
}

// shutdown publishes SHUTDOWN, tears the devices and the hub down on the
// loop, stops it, flushes pending states and saves the state file.
func (d *daemon) shutdown(reason string) error {
	d.publishStatus("SHUTDOWN", reason, true)

	l := d.hub.Loop()
	err := l.Call(func() {
		if err := d.manager.Close(); err != nil {
			d.log.WithError(err).Error("closing devices")
		}
		if err := d.hub.Close(); err != nil {
			d.log.WithError(err).Error("closing hub")
		}
	})
	if err != nil {
		d.log.WithError(err).Error("loop stopped before shutdown")
	}
	l.Stop()
	<-l.Done()

	close(d.states)
	<-d.forwarded

	if d.store.Modified() {
		if err := d.store.Save(); err != nil {
			return errors.Wrap(err, "save state")
		}
	}
	return nil
}
