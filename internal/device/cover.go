package device

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sweeney/gpio-hub/internal/gpio"
	"github.com/sweeney/gpio-hub/internal/hub"
)

// CoverConfig declares a cover: a relay pulsed to move it and a sensor that
// reads active while it is closed.
type CoverConfig struct {
	ID        string
	Name      string
	RelayTime time.Duration

	RelayOffset    int
	RelayActiveLow bool
	RelayBias      gpio.Bias
	RelayDrive     gpio.Drive

	StateOffset    int
	StateActiveLow bool
	StateBias      gpio.Bias
	Debounce       time.Duration
}

func (c CoverConfig) relay() hub.OutputConfig {
	return hub.OutputConfig{
		ActiveLow: c.RelayActiveLow,
		Bias:      c.RelayBias,
		Drive:     c.RelayDrive,
	}
}

func (c CoverConfig) state() hub.InputConfig {
	return hub.InputConfig{
		ActiveLow: c.StateActiveLow,
		Bias:      c.StateBias,
		Debounce:  c.Debounce,
		Edge:      gpio.EdgeBoth,
	}
}

// Cover is a motorized cover driven through a hub.Actuator.
type Cover struct {
	info
	cfg    CoverConfig
	act    *hub.Actuator
	relay  *hub.Request
	sensor *hub.Request
	// the state sensor's event stream failed and has not been rebound
	sensorLost bool
	lost       func(input)
}

func (c *Cover) IsClosed() bool {
	return c.act.IsClosed()
}

func (c *Cover) IsOpening() bool {
	return c.act.IsOpening()
}

func (c *Cover) IsClosing() bool {
	return c.act.IsClosing()
}

func (c *Cover) Open() error {
	return errors.Wrapf(c.act.Open(), "cover %s", c.id)
}

func (c *Cover) Close() error {
	return errors.Wrapf(c.act.Close(), "cover %s", c.id)
}

func (c *Cover) Stop() error {
	return errors.Wrapf(c.act.Stop(), "cover %s", c.id)
}

// changed is the actuator's listener.
func (c *Cover) changed(state hub.CoverState, err error) {
	switch {
	case err != nil:
		c.unavailable(err)
	case !c.sensorLost:
		c.recovered()
	}
	c.log.WithField("state", state).Debug("cover state")
	emit(c, c.notify)
}

// OnEdgeEvent feeds the state sensor into the actuator: rising is closed.
func (c *Cover) OnEdgeEvent(evt gpio.EdgeEvent) {
	c.act.HandleSensor(evt.Edge == gpio.EdgeRising)
}

func (c *Cover) OnUnavailable(err error) {
	c.sensorLost = true
	c.unavailable(err)
	emit(c, c.notify)
	if c.lost != nil {
		c.lost(c)
	}
}

func (c *Cover) State() State {
	st := c.state()
	st.On = !c.act.IsClosed()
	st.Cover = c.act.State().String()
	return st
}

func (c *Cover) inputLine() (int, hub.InputConfig, *hub.Request) {
	return c.cfg.StateOffset, c.cfg.state(), c.sensor
}

func (c *Cover) rebind(req *hub.Request, closed bool) {
	c.sensor = req
	c.sensorLost = false
	c.recovered()
	before := c.act.State()
	c.act.Rebind(req, closed)
	if c.act.State() == before {
		// Rebind only notifies on a position change
		emit(c, c.notify)
	}
}

func (c *Cover) teardown(h *hub.Hub) error {
	h.DropActuator(c.act)
	h.Dispatcher().Unwatch(c.sensor)
	var errs []error
	if err := h.Registry().Release(c.sensor); err != nil {
		errs = append(errs, err)
	}
	if err := h.Registry().Release(c.relay); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Errorf("release cover %s: %v", c.id, errs)
	}
	return nil
}
