package device

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sweeney/gpio-hub/internal/gpio"
	"github.com/sweeney/gpio-hub/internal/hub"
)

// SensorConfig declares a binary sensor on one input line.
type SensorConfig struct {
	ID        string
	Name      string
	Offset    int
	ActiveLow bool
	Bias      gpio.Bias
	Debounce  time.Duration
	Clock     gpio.EventClock
}

func (c SensorConfig) input() hub.InputConfig {
	return hub.InputConfig{
		ActiveLow: c.ActiveLow,
		Bias:      c.Bias,
		Debounce:  c.Debounce,
		Edge:      gpio.EdgeBoth,
		Clock:     c.Clock,
	}
}

// BinarySensor follows an input line through its edge events.
type BinarySensor struct {
	info
	cfg  SensorConfig
	req  *hub.Request
	on   bool
	lost func(input)
}

func (s *BinarySensor) IsOn() bool {
	return s.on
}

// OnEdgeEvent applies a logical edge: rising is on.
func (s *BinarySensor) OnEdgeEvent(evt gpio.EdgeEvent) {
	on := evt.Edge == gpio.EdgeRising
	s.log.WithFields(logrus.Fields{
		"edge":  evt.Edge,
		"seqno": evt.Seqno,
	}).Debug("edge")
	if on == s.on && s.available {
		return
	}
	s.on = on
	s.recovered()
	emit(s, s.notify)
}

// OnUnavailable is called once the line's event stream has failed.
func (s *BinarySensor) OnUnavailable(err error) {
	s.unavailable(err)
	emit(s, s.notify)
	if s.lost != nil {
		s.lost(s)
	}
}

func (s *BinarySensor) State() State {
	st := s.state()
	st.On = s.on
	return st
}

func (s *BinarySensor) inputLine() (int, hub.InputConfig, *hub.Request) {
	return s.cfg.Offset, s.cfg.input(), s.req
}

func (s *BinarySensor) rebind(req *hub.Request, on bool) {
	s.req = req
	s.on = on
	s.recovered()
	emit(s, s.notify)
}

func (s *BinarySensor) teardown(h *hub.Hub) error {
	h.Dispatcher().Unwatch(s.req)
	return h.Registry().Release(s.req)
}
