package device

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sweeney/gpio-hub/internal/hub"
	"github.com/sweeney/gpio-hub/internal/loop"
)

// DefaultRetryDelays space the attempts to get back a lost input line.
var DefaultRetryDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// member is a device the Manager can tear down.
type member interface {
	Device
	teardown(h *hub.Hub) error
}

// input is a device holding an input line that can be re-requested.
type input interface {
	member
	hub.Handler
	inputLine() (offset int, cfg hub.InputConfig, req *hub.Request)
	rebind(req *hub.Request, value bool)
}

// Manager adds and removes devices on a hub and routes commands to them.
//
// The Add methods block until the device is registered and must not be called
// from the loop. Every other method must be called on the loop.
type Manager struct {
	hub    *hub.Hub
	loop   *loop.Loop
	notify Notify
	log    *logrus.Entry
	retry  []time.Duration

	// loop-owned
	devices map[string]member
	retries map[string]*loop.Timer
	closed  bool
}

// NewManager creates a manager whose devices report through notify.
func NewManager(h *hub.Hub, notify Notify, log *logrus.Entry) *Manager {
	return &Manager{
		hub:     h,
		loop:    h.Loop(),
		notify:  notify,
		log:     log,
		retry:   DefaultRetryDelays,
		devices: make(map[string]member),
		retries: make(map[string]*loop.Timer),
	}
}

// WithRetryDelays replaces the reconnect schedule. Call before adding devices.
func (m *Manager) WithRetryDelays(delays ...time.Duration) *Manager {
	m.retry = delays
	return m
}

// register runs the kernel requests on the executor, then install on the
// loop, and waits for both.
func (m *Manager) register(ctx context.Context, id string, reg func() error, install func() member, rollback func()) error {
	errc := make(chan error, 1)
	m.loop.Exec(ctx, reg, func(err error) {
		if err != nil {
			errc <- err
			return
		}
		switch {
		case m.closed:
			err = ErrClosed
		case m.devices[id] != nil:
			err = errors.Wrap(ErrDuplicateID, id)
		}
		if err != nil {
			rollback()
			errc <- err
			return
		}
		d := install()
		m.devices[id] = d
		m.log.WithFields(logrus.Fields{
			"device":  id,
			"kind":    d.Kind(),
			"offsets": d.Offsets(),
		}).Info("device added")
		emit(d, m.notify)
		errc <- nil
	})
	select {
	case err := <-errc:
		return err
	case <-m.loop.Done():
		return loop.ErrStopped
	}
}

// AddSwitch requests the switch's output, initialised to its last known
// state if persistent, and adds it.
func (m *Manager) AddSwitch(ctx context.Context, cfg SwitchConfig) error {
	out := cfg.output()
	var req *hub.Request
	err := m.register(ctx, cfg.ID, func() (err error) {
		req, err = m.hub.Registry().RegisterOutput(cfg.Offset, out)
		return err
	}, func() member {
		s := &Switch{
			info:       newInfo(cfg.ID, cfg.Name, KindSwitch, m.notify, m.log, cfg.Offset),
			persistent: cfg.Persistent,
			io:         m.hub.Registry(),
			req:        req,
			on:         out.Initial,
		}
		return s
	}, func() {
		m.hub.Registry().Release(req)
	})
	return errors.Wrapf(err, "add switch %s", cfg.ID)
}

// AddSensor requests the sensor's input and starts watching it.
func (m *Manager) AddSensor(ctx context.Context, cfg SensorConfig) error {
	w := m.hub.Dispatcher().NewWatch()
	var req *hub.Request
	var on bool
	err := m.register(ctx, cfg.ID, func() (err error) {
		req, on, err = m.hub.Registry().RegisterInput(cfg.Offset, cfg.input(), w)
		return err
	}, func() member {
		s := &BinarySensor{
			info: newInfo(cfg.ID, cfg.Name, KindBinarySensor, m.notify, m.log, cfg.Offset),
			cfg:  cfg,
			req:  req,
			on:   on,
			lost: m.lost,
		}
		m.hub.Dispatcher().Watch(req, w, s)
		return s
	}, func() {
		m.hub.Registry().Release(req)
	})
	return errors.Wrapf(err, "add binary sensor %s", cfg.ID)
}

// AddCover requests the cover's relay and state lines together and starts
// watching the state line.
func (m *Manager) AddCover(ctx context.Context, cfg CoverConfig) error {
	w := m.hub.Dispatcher().NewWatch()
	var relay, sensor *hub.Request
	var closed bool
	err := m.register(ctx, cfg.ID, func() (err error) {
		relay, sensor, closed, err = m.hub.Registry().RegisterCover(cfg.RelayOffset, cfg.relay(), cfg.StateOffset, cfg.state(), w)
		return err
	}, func() member {
		c := &Cover{
			info:   newInfo(cfg.ID, cfg.Name, KindCover, m.notify, m.log, cfg.RelayOffset, cfg.StateOffset),
			cfg:    cfg,
			relay:  relay,
			sensor: sensor,
			lost:   m.lost,
		}
		c.act = m.hub.NewActuator(relay, sensor, cfg.RelayTime, closed, c.changed, c.log)
		m.hub.Dispatcher().Watch(sensor, w, c)
		return c
	}, func() {
		m.hub.Registry().Release(sensor)
		m.hub.Registry().Release(relay)
	})
	return errors.Wrapf(err, "add cover %s", cfg.ID)
}

// Remove tears a device down: unwatch, cancel, then release its lines.
func (m *Manager) Remove(id string) error {
	d, ok := m.devices[id]
	if !ok {
		return errors.Wrap(ErrUnknownDevice, id)
	}
	delete(m.devices, id)
	m.retries[id].Stop()
	delete(m.retries, id)
	m.log.WithField("device", id).Info("removing device")
	return d.teardown(m.hub)
}

// Get returns a device by id.
func (m *Manager) Get(id string) (Device, bool) {
	d, ok := m.devices[id]
	return d, ok
}

// Devices returns every device, ordered by id.
func (m *Manager) Devices() []Device {
	out := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// States returns a snapshot of every device, ordered by id.
func (m *Manager) States() []State {
	devs := m.Devices()
	out := make([]State, len(devs))
	for i, d := range devs {
		out[i] = d.State()
	}
	return out
}

// Execute applies a command by name: ON, OFF or TOGGLE for switches and
// OPEN, CLOSE or STOP for covers.
func (m *Manager) Execute(id, action string) error {
	d, ok := m.devices[id]
	if !ok {
		return errors.Wrap(ErrUnknownDevice, id)
	}
	action = strings.ToUpper(strings.TrimSpace(action))
	switch d := d.(type) {
	case *Switch:
		switch action {
		case "ON":
			return d.TurnOn()
		case "OFF":
			return d.TurnOff()
		case "TOGGLE":
			return d.set(!d.IsOn())
		}
	case *Cover:
		switch action {
		case "OPEN":
			return d.Open()
		case "CLOSE":
			return d.Close()
		case "STOP":
			return d.Stop()
		}
	}
	return errors.Wrapf(ErrUnsupportedAction, "%s on %s %s", action, d.Kind(), id)
}

// Close removes every device. It is idempotent.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	var errs []error
	for _, d := range m.Devices() {
		if err := m.Remove(d.ID()); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Errorf("remove errors: %v", errs)
	}
	return nil
}

// lost releases an input whose event stream failed and starts getting it
// back.
func (m *Manager) lost(d input) {
	_, _, req := d.inputLine()
	if err := m.hub.Registry().Release(req); err != nil {
		m.log.WithError(err).WithField("device", d.ID()).Warn("release of lost line failed")
	}
	m.reconnect(d, 0)
}

// reconnect schedules attempt n, giving up after the last delay.
func (m *Manager) reconnect(d input, n int) {
	log := m.log.WithField("device", d.ID())
	if n >= len(m.retry) {
		log.WithField("attempts", n).Error("giving up on lost line")
		return
	}
	delay := m.retry[n]
	log.WithFields(logrus.Fields{"attempt": n + 1, "delay": delay}).Info("reconnecting lost line")
	m.retries[d.ID()] = m.loop.AfterFunc(delay, func() {
		delete(m.retries, d.ID())
		if m.closed || m.devices[d.ID()] != d {
			return
		}
		offset, cfg, _ := d.inputLine()
		w := m.hub.Dispatcher().NewWatch()
		var req *hub.Request
		var v bool
		m.loop.Exec(context.Background(), func() (err error) {
			req, v, err = m.hub.Registry().RegisterInput(offset, cfg, w)
			return err
		}, func(err error) {
			if err != nil {
				log.WithError(err).Warn("reconnect failed")
				if !m.closed && m.devices[d.ID()] == d {
					m.reconnect(d, n+1)
				}
				return
			}
			if m.closed || m.devices[d.ID()] != d {
				m.hub.Registry().Release(req)
				return
			}
			m.hub.Dispatcher().Watch(req, w, d)
			d.rebind(req, v)
			log.Info("lost line reconnected")
		})
	})
}
