package hub

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sweeney/gpio-hub/internal/gpio"
)

// DefaultConsumer is the label the kernel shows as the owner of our lines.
const DefaultConsumer = "gpio-hub"

// Request is an opaque handle on one kernel line request.
type Request struct {
	id     uint64
	offset int
	cfg    gpio.LineConfig

	// guarded by Registry.mu
	line     gpio.Line
	released bool
}

// Offset returns the offset held by the request.
func (r *Request) Offset() int {
	return r.offset
}

// Config returns the configuration the line was requested with.
func (r *Request) Config() gpio.LineConfig {
	return r.cfg
}

func (r *Request) String() string {
	return fmt.Sprintf("request#%d(line %d %s)", r.id, r.offset, r.cfg.Direction)
}

// OutputConfig is the role-level configuration of an output line.
type OutputConfig struct {
	ActiveLow bool
	Bias      gpio.Bias
	Drive     gpio.Drive
	Initial   bool
}

func (o OutputConfig) lineConfig() gpio.LineConfig {
	return gpio.LineConfig{
		Direction: gpio.DirectionOutput,
		Bias:      o.Bias,
		Drive:     o.Drive,
		ActiveLow: o.ActiveLow,
		Value:     o.Initial,
	}
}

// InputConfig is the role-level configuration of an input line.
// The zero Edge selects both edges.
type InputConfig struct {
	ActiveLow bool
	Bias      gpio.Bias
	Debounce  time.Duration
	Edge      gpio.Edge
	Clock     gpio.EventClock
}

func (in InputConfig) lineConfig() gpio.LineConfig {
	edge := in.Edge
	if edge == gpio.EdgeNone {
		edge = gpio.EdgeBoth
	}
	return gpio.LineConfig{
		Direction: gpio.DirectionInput,
		Bias:      in.Bias,
		ActiveLow: in.ActiveLow,
		Debounce:  in.Debounce,
		Edge:      edge,
		Clock:     in.Clock,
	}
}

// Registry tracks which offsets this hub owns and issues and releases the
// kernel line requests for them.
type Registry struct {
	chips    *ChipManager
	consumer string
	log      *logrus.Entry

	mu     sync.Mutex
	owners map[int]*Request
	nextID uint64
}

// NewRegistry creates a registry over the chip held by chips.
func NewRegistry(chips *ChipManager, consumer string, log *logrus.Entry) *Registry {
	if consumer == "" {
		consumer = DefaultConsumer
	}
	return &Registry{
		chips:    chips,
		consumer: consumer,
		log:      log,
		owners:   make(map[int]*Request),
	}
}

// RegisterOutput requests offset as an output whose initial value is
// o.Initial.
func (r *Registry) RegisterOutput(offset int, o OutputConfig) (*Request, error) {
	return r.request(offset, o.lineConfig(), nil)
}

// RegisterInput requests offset as an input with edge detection, delivering
// events to sink, and returns the line's current value.
func (r *Registry) RegisterInput(offset int, in InputConfig, sink gpio.EdgeSink) (*Request, bool, error) {
	req, err := r.request(offset, in.lineConfig(), sink)
	if err != nil {
		return nil, false, err
	}
	v, err := r.GetValue(req, offset)
	if err != nil {
		r.Release(req)
		return nil, false, err
	}
	return req, v, nil
}

// RegisterCover requests the relay output and the state input of a cover.
// Either both succeed or neither is held. closed is the current state input.
func (r *Registry) RegisterCover(relayOffset int, relay OutputConfig, stateOffset int, state InputConfig, sink gpio.EdgeSink) (relayReq, stateReq *Request, closed bool, err error) {
	relayReq, err = r.RegisterOutput(relayOffset, relay)
	if err != nil {
		return nil, nil, false, errors.Wrap(err, "relay")
	}
	stateReq, closed, err = r.RegisterInput(stateOffset, state, sink)
	if err != nil {
		if rerr := r.Release(relayReq); rerr != nil {
			r.log.WithError(rerr).WithField("offset", relayOffset).Warn("rollback of cover relay failed")
		}
		return nil, nil, false, errors.Wrap(err, "state")
	}
	return relayReq, stateReq, closed, nil
}

// request claims offset in the ownership map, checks the kernel's view of the
// line, and only then issues the kernel request.
func (r *Registry) request(offset int, cfg gpio.LineConfig, sink gpio.EdgeSink) (*Request, error) {
	log := r.log.WithFields(logrus.Fields{"offset": offset, "config": cfg.String()})

	chip, err := r.chips.Chip()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "line %d", offset)
	}

	req, err := r.claim(offset, cfg)
	if err != nil {
		log.WithError(err).Warn("line already registered")
		return nil, err
	}

	info, err := chip.LineInfo(offset)
	if err != nil {
		r.unclaim(req)
		return nil, &IOError{Op: "info", Offset: offset, Err: err}
	}
	if info.Used {
		r.unclaim(req)
		busy := &LineBusyError{Offset: offset, Consumer: info.Consumer}
		log.WithField("consumer", info.Consumer).Error("line in use by another consumer")
		return nil, busy
	}

	line, err := chip.Request(r.consumer, offset, cfg, sink)
	if err != nil {
		r.unclaim(req)
		if errors.Is(err, gpio.ErrBusy) {
			return nil, &LineBusyError{Offset: offset}
		}
		return nil, &IOError{Op: "request", Offset: offset, Err: err}
	}

	r.mu.Lock()
	if req.released {
		// released by shutdown while the kernel request was in flight
		r.mu.Unlock()
		line.Close()
		return nil, errors.Wrapf(ErrReleased, "%v", req)
	}
	req.line = line
	r.mu.Unlock()
	log.WithField("request", req.id).Debug("line requested")
	return req, nil
}

func (r *Registry) claim(offset int, cfg gpio.LineConfig) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.owners[offset]; ok {
		return nil, &LineBusyError{Offset: offset, Internal: true}
	}
	r.nextID++
	req := &Request{id: r.nextID, offset: offset, cfg: cfg}
	r.owners[offset] = req
	return req, nil
}

func (r *Registry) unclaim(req *Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req.released = true
	if r.owners[req.offset] == req {
		delete(r.owners, req.offset)
	}
}

// live returns the line behind req if it is still held.
func (r *Registry) live(req *Request, offset int) (gpio.Line, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if offset != req.offset {
		return nil, errors.Errorf("offset %d not held by %v", offset, req)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.released || req.line == nil {
		return nil, errors.Wrapf(ErrReleased, "%v", req)
	}
	return req.line, nil
}

// SetValue sets the logical value of an output held by req.
func (r *Registry) SetValue(req *Request, offset int, v bool) error {
	line, err := r.live(req, offset)
	if err != nil {
		return err
	}
	if err := line.SetValue(v); err != nil {
		return &IOError{Op: "set", Offset: offset, Err: err}
	}
	return nil
}

// GetValue reads the logical value of a line held by req.
func (r *Registry) GetValue(req *Request, offset int) (bool, error) {
	line, err := r.live(req, offset)
	if err != nil {
		return false, err
	}
	v, err := line.Value()
	if err != nil {
		return false, &IOError{Op: "get", Offset: offset, Err: err}
	}
	return v, nil
}

// Release returns the line to the kernel, reverted to input. It is
// idempotent; ownership is dropped even if the kernel release fails.
func (r *Registry) Release(req *Request) error {
	if req == nil {
		return nil
	}
	r.mu.Lock()
	if req.released {
		r.mu.Unlock()
		return nil
	}
	req.released = true
	if r.owners[req.offset] == req {
		delete(r.owners, req.offset)
	}
	line := req.line
	req.line = nil
	r.mu.Unlock()

	if line == nil {
		return nil
	}
	r.log.WithFields(logrus.Fields{"offset": req.offset, "request": req.id}).Debug("releasing line")
	if err := line.Close(); err != nil {
		return &IOError{Op: "release", Offset: req.offset, Err: err}
	}
	return nil
}

// Owner returns the live request holding offset, if any.
func (r *Registry) Owner(offset int) (*Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.owners[offset]
	return req, ok
}

// Offsets returns the offsets currently held, in ascending order.
func (r *Registry) Offsets() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	offsets := make([]int, 0, len(r.owners))
	for o := range r.owners {
		offsets = append(offsets, o)
	}
	sort.Ints(offsets)
	return offsets
}

// ReleaseAll releases every held request.
func (r *Registry) ReleaseAll() error {
	r.mu.Lock()
	reqs := make([]*Request, 0, len(r.owners))
	for _, req := range r.owners {
		reqs = append(reqs, req)
	}
	r.mu.Unlock()

	var errs []error
	for _, req := range reqs {
		if err := r.Release(req); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Errorf("release errors: %v", errs)
	}
	return nil
}
