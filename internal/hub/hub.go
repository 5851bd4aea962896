// Package hub arbitrates a GPIO chip's lines among logical devices: it
// discovers the chip, grants exclusive line requests, dispatches edge events
// to their owners on the event loop and drives timed relay pulses.
//
// Everything except Start and the Registry's kernel calls runs on the loop.
package hub

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sweeney/gpio-hub/internal/gpio"
	"github.com/sweeney/gpio-hub/internal/loop"
)

// Config selects the chip and names the hub's consumer label.
type Config struct {
	// Path of the chip. Empty probes Candidates.
	Path        string
	Candidates  []string
	LabelMarker string
	Consumer    string
	// Liveness is the interval between reads of every watched line. A read
	// that fails with an I/O error fails the watch as a dead event stream
	// would. Zero or negative disables it.
	Liveness time.Duration
}

// Hub owns the chip, the registry of line requests, the dispatcher and every
// actuator.
type Hub struct {
	cfg        Config
	loop       *loop.Loop
	chips      *ChipManager
	registry   *Registry
	dispatcher *Dispatcher
	log        *logrus.Entry

	// loop-owned
	actuators map[*Actuator]struct{}
	liveness  *loop.Timer
	closed    bool
}

// New creates a hub on l. The chip is not opened until Start.
func New(cfg Config, l *loop.Loop, open gpio.Opener, log *logrus.Entry) *Hub {
	chips := NewChipManager(open, cfg.Candidates, cfg.LabelMarker, log.WithField("prefix", "chip"))
	return &Hub{
		cfg:        cfg,
		loop:       l,
		chips:      chips,
		registry:   NewRegistry(chips, cfg.Consumer, log.WithField("prefix", "registry")),
		dispatcher: NewDispatcher(l, log.WithField("prefix", "dispatch")),
		log:        log,
		actuators:  make(map[*Actuator]struct{}),
	}
}

// Start discovers the chip on the executor and waits for the result.
// The loop must be running, and Start must not be called from it.
func (h *Hub) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	h.loop.Exec(ctx, func() error {
		return h.chips.Discover(h.cfg.Path)
	}, func(err error) {
		errc <- err
	})
	select {
	case err := <-errc:
		if err != nil {
			return errors.Wrap(err, "discover gpio chip")
		}
		if h.cfg.Liveness > 0 {
			h.loop.Post(h.armLiveness)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Loop() *loop.Loop {
	return h.loop
}

func (h *Hub) Chips() *ChipManager {
	return h.chips
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

func (h *Hub) Dispatcher() *Dispatcher {
	return h.dispatcher
}

// NewActuator creates an actuator for a registered cover and tracks it so
// shutdown can cancel its timer. Must be called on the loop.
func (h *Hub) NewActuator(relay, sensor *Request, relayTime time.Duration, closed bool, notify CoverListener, log *logrus.Entry) *Actuator {
	a := NewActuator(h.registry, h.loop, relay, sensor, relayTime, closed, notify, log)
	h.actuators[a] = struct{}{}
	return a
}

// DropActuator cancels and forgets an actuator. Must be called on the loop.
func (h *Hub) DropActuator(a *Actuator) {
	if _, ok := h.actuators[a]; !ok {
		return
	}
	a.Cancel()
	delete(h.actuators, a)
}

func (h *Hub) armLiveness() {
	if h.closed {
		return
	}
	h.liveness = h.loop.AfterFunc(h.cfg.Liveness, func() {
		h.CheckLiveness()
		h.armLiveness()
	})
}

// CheckLiveness reads every watched line and fails the watches whose read
// returns an I/O error, so their owners see OnUnavailable. It returns how
// many failed. Must be called on the loop.
func (h *Hub) CheckLiveness() int {
	return h.dispatcher.check(func(req *Request) error {
		_, err := h.registry.GetValue(req, req.Offset())
		return err
	})
}

// Close tears the hub down in order: timers, watches, requests, chip.
// Must be called on the loop. It is idempotent.
func (h *Hub) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.log.Info("shutting down gpio hub")
	h.liveness.Stop()

	for a := range h.actuators {
		a.Cancel()
		delete(h.actuators, a)
	}
	h.dispatcher.UnwatchAll()

	var errs []error
	if err := h.registry.ReleaseAll(); err != nil {
		errs = append(errs, err)
	}
	if err := h.chips.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "close chip"))
	}
	if len(errs) > 0 {
		return errors.Errorf("close errors: %v", errs)
	}
	return nil
}
