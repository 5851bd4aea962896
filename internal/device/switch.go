package device

import (
	"github.com/pkg/errors"
	"github.com/sweeney/gpio-hub/internal/gpio"
	"github.com/sweeney/gpio-hub/internal/hub"
)

// SwitchConfig declares a switch driving one output line.
type SwitchConfig struct {
	ID        string
	Name      string
	Offset    int
	ActiveLow bool
	Bias      gpio.Bias
	Drive     gpio.Drive

	// Persistent switches start from LastState instead of off.
	Persistent bool
	LastState  func() (on, known bool)
}

// initial is the value the line is requested with.
func (c SwitchConfig) initial() bool {
	if !c.Persistent || c.LastState == nil {
		return false
	}
	on, known := c.LastState()
	return known && on
}

func (c SwitchConfig) output() hub.OutputConfig {
	return hub.OutputConfig{
		ActiveLow: c.ActiveLow,
		Bias:      c.Bias,
		Drive:     c.Drive,
		Initial:   c.initial(),
	}
}

// Switch is an on/off output.
type Switch struct {
	info
	persistent bool
	io         hub.LineIO
	req        *hub.Request
	on         bool
}

func (s *Switch) IsOn() bool {
	return s.on
}

// Persistent reports whether the switch's state should survive restarts.
func (s *Switch) Persistent() bool {
	return s.persistent
}

func (s *Switch) TurnOn() error {
	return s.set(true)
}

func (s *Switch) TurnOff() error {
	return s.set(false)
}

// set drives the line. A failure leaves the last known state and marks the
// switch unavailable until a later command succeeds.
func (s *Switch) set(on bool) error {
	if err := s.io.SetValue(s.req, s.req.Offset(), on); err != nil {
		s.unavailable(err)
		emit(s, s.notify)
		return errors.Wrapf(err, "switch %s", s.id)
	}
	s.on = on
	s.recovered()
	s.log.WithField("on", on).Debug("switch set")
	emit(s, s.notify)
	return nil
}

func (s *Switch) State() State {
	st := s.state()
	st.On = s.on
	return st
}

func (s *Switch) teardown(h *hub.Hub) error {
	return h.Registry().Release(s.req)
}
