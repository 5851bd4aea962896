package hub

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sweeney/gpio-hub/internal/gpio"
)

// Handler receives the notifications of one watched request. Its methods run
// on the loop and must not block.
type Handler interface {
	OnEdgeEvent(evt gpio.EdgeEvent)
	OnUnavailable(err error)
}

// Poster queues work onto the event loop.
type Poster interface {
	Post(fn func()) bool
}

// Dispatcher routes edge events from request descriptors to the handlers
// bound to them, on the loop.
type Dispatcher struct {
	loop Poster
	log  *logrus.Entry

	// loop-owned
	watches map[*Request]*Watch
}

// NewDispatcher creates a dispatcher posting onto loop.
func NewDispatcher(loop Poster, log *logrus.Entry) *Dispatcher {
	return &Dispatcher{
		loop:    loop,
		log:     log,
		watches: make(map[*Request]*Watch),
	}
}

type queued struct {
	evt gpio.EdgeEvent
	err error
}

// Watch binds one request to one handler. It is the gpio.EdgeSink handed to
// the kernel request, so it exists before the request does; events that
// arrive before the handler is bound are held until it is.
type Watch struct {
	d *Dispatcher

	mu        sync.Mutex
	queue     []queued
	signalled bool
	req       *Request
	handler   Handler
	stopped   bool
}

// NewWatch creates an unbound binding to pass as the request's sink.
func (d *Dispatcher) NewWatch() *Watch {
	return &Watch{d: d}
}

// Watch binds req's events to h. Must be called on the loop.
func (d *Dispatcher) Watch(req *Request, w *Watch, h Handler) {
	w.mu.Lock()
	w.req = req
	w.handler = h
	pending := len(w.queue) > 0 && !w.signalled
	if pending {
		w.signalled = true
	}
	w.mu.Unlock()

	d.watches[req] = w
	d.log.WithField("offset", req.Offset()).Debug("watching line")
	if pending {
		d.loop.Post(w.drain)
	}
}

// Unwatch stops delivery for req and drops anything queued. Must be called on
// the loop, before the request is released.
func (d *Dispatcher) Unwatch(req *Request) {
	w, ok := d.watches[req]
	if !ok {
		return
	}
	delete(d.watches, req)
	w.stop()
	d.log.WithField("offset", req.Offset()).Debug("unwatched line")
}

// UnwatchAll stops every watch. Must be called on the loop.
func (d *Dispatcher) UnwatchAll() {
	for req := range d.watches {
		d.Unwatch(req)
	}
}

// Watching reports whether req is watched. Must be called on the loop.
func (d *Dispatcher) Watching(req *Request) bool {
	_, ok := d.watches[req]
	return ok
}

// check reads every watched request and fails the watches whose read returns
// an *IOError. Must be called on the loop.
func (d *Dispatcher) check(read func(*Request) error) int {
	failed := 0
	for req, w := range d.watches {
		var ioErr *IOError
		if !errors.As(read(req), &ioErr) {
			continue
		}
		d.log.WithError(ioErr).WithField("offset", req.Offset()).Warn("watched line unreadable")
		w.HandleError(ioErr.Err)
		failed++
	}
	return failed
}

func (w *Watch) stop() {
	w.mu.Lock()
	w.stopped = true
	w.queue = nil
	w.handler = nil
	w.mu.Unlock()
}

// HandleEdge queues an event and signals the loop if this is the first event
// since the last drain. Safe from any goroutine.
func (w *Watch) HandleEdge(evt gpio.EdgeEvent) {
	w.push(queued{evt: evt})
}

// HandleError queues a descriptor failure behind any events already read.
func (w *Watch) HandleError(err error) {
	w.push(queued{err: err})
}

func (w *Watch) push(q queued) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.queue = append(w.queue, q)
	signal := !w.signalled && w.handler != nil
	if signal {
		w.signalled = true
	}
	w.mu.Unlock()

	if signal {
		w.d.loop.Post(w.drain)
	}
}

// drain delivers everything queued, including anything queued while
// draining, before returning control to the loop.
func (w *Watch) drain() {
	for {
		w.mu.Lock()
		if w.stopped || w.handler == nil || len(w.queue) == 0 {
			w.signalled = false
			w.mu.Unlock()
			return
		}
		q := w.queue[0]
		w.queue = w.queue[1:]
		h := w.handler
		req := w.req
		w.mu.Unlock()

		if q.err != nil {
			w.fail(req, h, q.err)
			return
		}
		h.OnEdgeEvent(q.evt)
	}
}

// fail stops watching after a descriptor error and tells only the owner.
func (w *Watch) fail(req *Request, h Handler, err error) {
	ioErr := &IOError{Op: "read events", Offset: req.Offset(), Err: err}
	w.d.log.WithError(err).WithField("offset", req.Offset()).Error("edge event read failed, device unavailable")
	w.d.Unwatch(req)
	w.stop()
	h.OnUnavailable(ioErr)
}
