// Package device implements the logical devices built on the hub: switches,
// binary sensors and covers, and the Manager that adds and removes them.
//
// Devices live on the event loop. Their methods, and every Notify, run there.
package device

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownDevice     = errors.New("unknown device")
	ErrDuplicateID       = errors.New("duplicate device id")
	ErrUnsupportedAction = errors.New("unsupported action")
	ErrClosed            = errors.New("device manager closed")
)

// Kind is the role of a device.
type Kind int

const (
	KindSwitch Kind = iota
	KindBinarySensor
	KindCover
)

func (k Kind) String() string {
	switch k {
	case KindBinarySensor:
		return "binary_sensor"
	case KindCover:
		return "cover"
	default:
		return "switch"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// State is a snapshot of a device's observable state.
type State struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      Kind   `json:"kind"`
	Offsets   []int  `json:"offsets"`
	On        bool   `json:"on"`
	Cover     string `json:"cover,omitempty"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// Value is the state as published: ON/OFF, or the cover's position.
func (s State) Value() string {
	if s.Kind == KindCover {
		return s.Cover
	}
	if s.On {
		return "ON"
	}
	return "OFF"
}

// Notify is called on the loop whenever a device's observable state changes.
// It must not block.
type Notify func(State)

// Device is the common view of every logical device.
type Device interface {
	ID() string
	Name() string
	Kind() Kind
	Offsets() []int
	Available() bool
	State() State
}

// info carries what every device has in common.
type info struct {
	id      string
	name    string
	kind    Kind
	offsets []int

	available bool
	err       error

	notify Notify
	log    *logrus.Entry
}

func newInfo(id, name string, kind Kind, notify Notify, log *logrus.Entry, offsets ...int) info {
	sort.Ints(offsets)
	return info{
		id:        id,
		name:      name,
		kind:      kind,
		offsets:   offsets,
		available: true,
		notify:    notify,
		log:       log.WithFields(logrus.Fields{"device": id, "kind": kind}),
	}
}

func (d *info) ID() string      { return d.id }
func (d *info) Name() string    { return d.name }
func (d *info) Kind() Kind      { return d.kind }
func (d *info) Available() bool { return d.available }

func (d *info) Offsets() []int {
	return append([]int(nil), d.offsets...)
}

func (d *info) state() State {
	st := State{
		ID:        d.id,
		Name:      d.name,
		Kind:      d.kind,
		Offsets:   d.Offsets(),
		Available: d.available,
	}
	if d.err != nil {
		st.Error = d.err.Error()
	}
	return st
}

// unavailable records a failure. The device stays registered.
func (d *info) unavailable(err error) {
	d.available = false
	d.err = err
	d.log.WithError(err).Error("device unavailable")
}

func (d *info) recovered() {
	if !d.available {
		d.log.Info("device available again")
	}
	d.available = true
	d.err = nil
}

func emit(d Device, notify Notify) {
	if notify != nil {
		notify(d.State())
	}
}
