package gpio

import (
	"sync"

	"github.com/pkg/errors"
)

// FakeChip is a test double simulating a GPIO chip in memory.
// It is safe for concurrent use.
type FakeChip struct {
	mu    sync.Mutex
	info  ChipInfo
	lines map[int]*fakeLine

	// Closed tracks if Close was called.
	Closed bool

	// RequestError, if set, is returned by Request.
	RequestError error

	// Requests counts successful calls to Request.
	Requests int
}

type fakeLine struct {
	// physical level of the line
	level    bool
	used     bool
	consumer string
	cfg      LineConfig
	sink     EdgeSink
	req      *FakeLine
	seqno    uint32
	// physical levels driven by the requester, in order
	writes []bool
	ioErr  error
}

// NewFakeChip creates a FakeChip with the given label and number of lines.
// All lines start unused and physically low.
func NewFakeChip(path, label string, numLines int) *FakeChip {
	c := &FakeChip{
		info:  ChipInfo{Path: path, Name: "gpiochip-fake", Label: label, Lines: numLines},
		lines: make(map[int]*fakeLine, numLines),
	}
	for i := 0; i < numLines; i++ {
		c.lines[i] = &fakeLine{}
	}
	return c
}

// Opener returns an Opener that yields this chip for its own path only.
func (c *FakeChip) Opener() Opener {
	return FakeOpener(map[string]*FakeChip{c.info.Path: c}, nil)
}

// FakeOpener returns an Opener over a set of fake chips. Paths listed in
// notChips exist but are not GPIO devices.
func FakeOpener(chips map[string]*FakeChip, notChips []string) Opener {
	return func(path string) (Chip, error) {
		for _, p := range notChips {
			if p == path {
				return nil, errors.Wrap(ErrNotChip, path)
			}
		}
		c, ok := chips[path]
		if !ok {
			return nil, errors.Wrap(ErrNotExist, path)
		}
		c.mu.Lock()
		c.Closed = false
		c.mu.Unlock()
		return c, nil
	}
}

// Info returns the chip's identification.
func (c *FakeChip) Info() ChipInfo {
	return c.info
}

// LineInfo returns the simulated ownership of a line.
func (c *FakeChip) LineInfo(offset int) (LineInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.line(offset)
	if err != nil {
		return LineInfo{}, err
	}
	return LineInfo{Offset: offset, Used: l.used, Consumer: l.consumer}, nil
}

// Request claims a simulated line.
func (c *FakeChip) Request(consumer string, offset int, cfg LineConfig, sink EdgeSink) (Line, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Closed {
		return nil, ErrClosed
	}
	if c.RequestError != nil {
		return nil, c.RequestError
	}
	l, err := c.line(offset)
	if err != nil {
		return nil, err
	}
	if l.used {
		return nil, errors.Wrapf(ErrBusy, "line %d used by %q", offset, l.consumer)
	}
	l.used = true
	l.consumer = consumer
	l.cfg = cfg
	l.sink = sink
	l.writes = nil
	if cfg.Direction == DirectionOutput {
		l.level = cfg.Value != cfg.ActiveLow
		l.writes = append(l.writes, l.level)
	} else {
		switch cfg.Bias {
		case BiasPullUp:
			l.level = true
		case BiasPullDown:
			l.level = false
		}
	}
	l.req = &FakeLine{chip: c, offset: offset}
	c.Requests++
	return l.req, nil
}

// Close marks the chip as closed.
func (c *FakeChip) Close() error {
	c.mu.Lock()
	c.Closed = true
	c.mu.Unlock()
	return nil
}

// Hog marks a line as used by some other consumer.
func (c *FakeChip) Hog(offset int, consumer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, err := c.line(offset); err == nil {
		l.used = true
		l.consumer = consumer
	}
}

// Level returns the physical level of a line.
func (c *FakeChip) Level(offset int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.line(offset)
	if err != nil {
		return false
	}
	return l.level
}

// Writes returns the physical levels driven on an output line since it was
// requested, including the initial value.
func (c *FakeChip) Writes(offset int) []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.line(offset)
	if err != nil {
		return nil
	}
	return append([]bool(nil), l.writes...)
}

// Config returns the configuration the line was last requested with.
func (c *FakeChip) Config(offset int) LineConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.line(offset)
	if err != nil {
		return LineConfig{}
	}
	return l.cfg
}

// SetIOError makes Value and SetValue on the line fail with err.
// A nil err clears the failure.
func (c *FakeChip) SetIOError(offset int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, lerr := c.line(offset); lerr == nil {
		l.ioErr = err
	}
}

// SetLevel drives the physical level of an input line from outside, as the
// attached hardware would. If the requester enabled a matching edge, an event
// is delivered to its sink before SetLevel returns.
func (c *FakeChip) SetLevel(offset int, level bool) {
	c.mu.Lock()
	l, err := c.line(offset)
	if err != nil || l.level == level {
		c.mu.Unlock()
		return
	}
	l.level = level
	if !l.used || l.sink == nil || l.cfg.Direction != DirectionInput {
		c.mu.Unlock()
		return
	}
	edge := EdgeFalling
	if level != l.cfg.ActiveLow {
		edge = EdgeRising
	}
	if l.cfg.Edge != EdgeBoth && l.cfg.Edge != edge {
		c.mu.Unlock()
		return
	}
	l.seqno++
	evt := EdgeEvent{Offset: offset, Edge: edge, Seqno: l.seqno}
	sink := l.sink
	c.mu.Unlock()
	sink.HandleEdge(evt)
}

// Fault reports a descriptor error to the requester's sink.
func (c *FakeChip) Fault(offset int, err error) {
	c.mu.Lock()
	l, lerr := c.line(offset)
	if lerr != nil || l.sink == nil {
		c.mu.Unlock()
		return
	}
	sink := l.sink
	c.mu.Unlock()
	sink.HandleError(err)
}

func (c *FakeChip) line(offset int) (*fakeLine, error) {
	l, ok := c.lines[offset]
	if !ok {
		return nil, errors.Errorf("offset %d out of range", offset)
	}
	return l, nil
}

// FakeLine is a line requested from a FakeChip.
type FakeLine struct {
	chip   *FakeChip
	offset int
}

func (l *FakeLine) Offset() int {
	return l.offset
}

// Value returns the logical value of the line.
func (l *FakeLine) Value() (bool, error) {
	c := l.chip
	c.mu.Lock()
	defer c.mu.Unlock()
	fl, err := l.owned()
	if err != nil {
		return false, err
	}
	if fl.ioErr != nil {
		return false, fl.ioErr
	}
	return fl.level != fl.cfg.ActiveLow, nil
}

// SetValue sets the logical value of an output line.
func (l *FakeLine) SetValue(active bool) error {
	c := l.chip
	c.mu.Lock()
	defer c.mu.Unlock()
	fl, err := l.owned()
	if err != nil {
		return err
	}
	if fl.ioErr != nil {
		return fl.ioErr
	}
	if fl.cfg.Direction != DirectionOutput {
		return errors.Errorf("line %d is not an output", l.offset)
	}
	fl.level = active != fl.cfg.ActiveLow
	fl.writes = append(fl.writes, fl.level)
	return nil
}

// Close reverts the line to input and releases it.
func (l *FakeLine) Close() error {
	c := l.chip
	c.mu.Lock()
	defer c.mu.Unlock()
	fl, err := l.owned()
	if err != nil {
		return err
	}
	fl.used = false
	fl.consumer = ""
	fl.sink = nil
	fl.req = nil
	fl.cfg = LineConfig{Direction: DirectionInput, Bias: fl.cfg.Bias}
	return nil
}

// owned returns the line state if this request still holds it.
// Caller must hold the chip lock.
func (l *FakeLine) owned() (*fakeLine, error) {
	fl, err := l.chip.line(l.offset)
	if err != nil {
		return nil, err
	}
	if fl.req != l {
		return nil, ErrClosed
	}
	return fl, nil
}
