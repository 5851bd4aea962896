package hub

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sweeney/gpio-hub/internal/loop"
)

// CoverState is the observable state of a cover.
type CoverState int

const (
	CoverClosed CoverState = iota
	CoverOpen
	CoverOpening
	CoverClosing
)

func (s CoverState) String() string {
	switch s {
	case CoverOpen:
		return "OPEN"
	case CoverOpening:
		return "OPENING"
	case CoverClosing:
		return "CLOSING"
	default:
		return "CLOSED"
	}
}

// LineIO reads and writes requested lines. Registry implements it.
type LineIO interface {
	SetValue(req *Request, offset int, v bool) error
	GetValue(req *Request, offset int) (bool, error)
}

// Scheduler arms timers that fire on the loop. loop.Loop implements it.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) *loop.Timer
}

// CoverListener is told about every change of a cover's state. err is set
// when the change was caused by, or ended with, an I/O failure.
type CoverListener func(state CoverState, err error)

// Actuator drives a cover's relay as a timed pulse and resolves the cover's
// position from its state sensor. All methods must be called on the loop.
type Actuator struct {
	io        LineIO
	sched     Scheduler
	relay     *Request
	sensor    *Request
	relayTime time.Duration
	notify    CoverListener
	log       *logrus.Entry

	closed  bool
	opening bool
	closing bool
	timer   *loop.Timer
}

// NewActuator creates an idle actuator. closed is the sensor's current value.
func NewActuator(io LineIO, sched Scheduler, relay, sensor *Request, relayTime time.Duration, closed bool, notify CoverListener, log *logrus.Entry) *Actuator {
	return &Actuator{
		io:        io,
		sched:     sched,
		relay:     relay,
		sensor:    sensor,
		relayTime: relayTime,
		notify:    notify,
		log:       log,
		closed:    closed,
	}
}

// State returns the current state.
func (a *Actuator) State() CoverState {
	switch {
	case a.opening:
		return CoverOpening
	case a.closing:
		return CoverClosing
	case a.closed:
		return CoverClosed
	default:
		return CoverOpen
	}
}

// IsClosed reports the last resolved position.
func (a *Actuator) IsClosed() bool {
	return a.closed
}

func (a *Actuator) IsOpening() bool {
	return a.opening
}

func (a *Actuator) IsClosing() bool {
	return a.closing
}

// Open pulses the relay if the cover is closed. Opening while closing stops
// the current pulse first.
func (a *Actuator) Open() error {
	if a.opening {
		return nil
	}
	if a.closing {
		if err := a.Stop(); err != nil {
			return err
		}
	}
	if !a.closed {
		return nil
	}
	return a.start(true)
}

// Close pulses the relay if the cover is open. Closing while opening stops
// the current pulse first.
func (a *Actuator) Close() error {
	if a.closing {
		return nil
	}
	if a.opening {
		if err := a.Stop(); err != nil {
			return err
		}
	}
	if a.closed {
		return nil
	}
	return a.start(false)
}

func (a *Actuator) start(opening bool) error {
	if err := a.io.SetValue(a.relay, a.relay.Offset(), true); err != nil {
		a.log.WithError(err).Error("relay activation failed")
		a.emit(err)
		return err
	}
	a.opening = opening
	a.closing = !opening
	a.log.WithFields(logrus.Fields{
		"state":      a.State(),
		"relay_time": a.relayTime,
	}).Debug("relay active")
	a.emit(nil)
	a.timer = a.sched.AfterFunc(a.relayTime, a.complete)
	return nil
}

func (a *Actuator) complete() {
	a.timer = nil
	a.emit(a.settle())
}

// Stop ends an actuation in progress immediately and resolves the position
// from the sensor. It does nothing when idle.
func (a *Actuator) Stop() error {
	if !a.opening && !a.closing {
		return nil
	}
	a.timer.Stop()
	a.timer = nil
	err := a.settle()
	a.emit(err)
	return err
}

// settle drops the relay, clears the transient state and re-reads the
// sensor. The position is kept if the sensor can't be read.
func (a *Actuator) settle() error {
	a.opening = false
	a.closing = false

	var first error
	if err := a.io.SetValue(a.relay, a.relay.Offset(), false); err != nil {
		a.log.WithError(err).Error("relay deactivation failed")
		first = err
	}
	closed, err := a.io.GetValue(a.sensor, a.sensor.Offset())
	if err != nil {
		a.log.WithError(err).Error("state sensor read failed")
		if first == nil {
			first = err
		}
	} else {
		a.closed = closed
	}
	a.log.WithField("state", a.State()).Debug("relay inactive")
	return first
}

// HandleSensor applies a sensor transition. While an actuation is in flight
// the position is resolved when it completes instead.
func (a *Actuator) HandleSensor(closed bool) {
	if a.opening || a.closing {
		return
	}
	if closed == a.closed {
		return
	}
	a.closed = closed
	a.emit(nil)
}

// Rebind swaps in a new sensor request after the old one was lost, and
// applies its current value.
func (a *Actuator) Rebind(sensor *Request, closed bool) {
	a.sensor = sensor
	a.HandleSensor(closed)
}

// Cancel stops any pending pulse without notifying. Used at shutdown.
func (a *Actuator) Cancel() {
	if !a.opening && !a.closing {
		return
	}
	a.timer.Stop()
	a.timer = nil
	a.opening = false
	a.closing = false
	if err := a.io.SetValue(a.relay, a.relay.Offset(), false); err != nil {
		a.log.WithError(err).Warn("relay deactivation on cancel failed")
	}
}

func (a *Actuator) emit(err error) {
	if a.notify != nil {
		a.notify(a.State(), err)
	}
}
