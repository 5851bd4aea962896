package gpio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []EdgeEvent
	errs   []error
}

func (s *recordingSink) HandleEdge(evt EdgeEvent) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

func (s *recordingSink) HandleError(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func TestFakeChipOpener(t *testing.T) {
	c := NewFakeChip("/dev/gpiochip0", "pinctrl-bcm2711", 8)
	open := FakeOpener(map[string]*FakeChip{"/dev/gpiochip0": c}, []string{"/dev/gpiochip1"})

	got, err := open("/dev/gpiochip0")
	require.Nil(t, err)
	assert.Equal(t, "pinctrl-bcm2711", got.Info().Label)
	assert.Equal(t, 8, got.Info().Lines)

	_, err = open("/dev/gpiochip1")
	assert.True(t, errors.Is(err, ErrNotChip))

	_, err = open("/dev/gpiochip9")
	assert.True(t, errors.Is(err, ErrNotExist))
}

func TestFakeOutputInitialValue(t *testing.T) {
	c := NewFakeChip("/dev/gpiochip0", "pinctrl", 8)

	l, err := c.Request("test", 3, LineConfig{Direction: DirectionOutput, Value: true}, nil)
	require.Nil(t, err)
	assert.True(t, c.Level(3))
	assert.Equal(t, []bool{true}, c.Writes(3))

	require.Nil(t, l.SetValue(false))
	assert.False(t, c.Level(3))
	assert.Equal(t, []bool{true, false}, c.Writes(3))
}

func TestFakeOutputActiveLow(t *testing.T) {
	c := NewFakeChip("/dev/gpiochip0", "pinctrl", 8)

	l, err := c.Request("test", 3, LineConfig{Direction: DirectionOutput, ActiveLow: true}, nil)
	require.Nil(t, err)
	// inactive with active-low drives high
	assert.True(t, c.Level(3))

	require.Nil(t, l.SetValue(true))
	assert.False(t, c.Level(3))
	v, err := l.Value()
	require.Nil(t, err)
	assert.True(t, v)
}

func TestFakeRequestBusy(t *testing.T) {
	c := NewFakeChip("/dev/gpiochip0", "pinctrl", 8)
	c.Hog(2, "kernel")

	info, err := c.LineInfo(2)
	require.Nil(t, err)
	assert.True(t, info.Used)
	assert.Equal(t, "kernel", info.Consumer)

	_, err = c.Request("test", 2, LineConfig{}, nil)
	assert.True(t, errors.Is(err, ErrBusy))
	assert.Equal(t, 0, c.Requests)
}

func TestFakeRequestInvalidConfig(t *testing.T) {
	c := NewFakeChip("/dev/gpiochip0", "pinctrl", 8)

	_, err := c.Request("test", 2, LineConfig{Direction: DirectionOutput, Edge: EdgeBoth}, nil)
	assert.NotNil(t, err)
	_, err = c.Request("test", 2, LineConfig{Direction: DirectionInput, Drive: DriveOpenDrain}, nil)
	assert.NotNil(t, err)
	_, err = c.Request("test", 2, LineConfig{Direction: DirectionOutput, Debounce: time.Millisecond}, nil)
	assert.NotNil(t, err)
}

func TestFakeEdgeEvents(t *testing.T) {
	c := NewFakeChip("/dev/gpiochip0", "pinctrl", 8)
	sink := &recordingSink{}

	_, err := c.Request("test", 4, LineConfig{Direction: DirectionInput, Edge: EdgeBoth}, sink)
	require.Nil(t, err)

	c.SetLevel(4, true)
	c.SetLevel(4, true) // no change, no event
	c.SetLevel(4, false)

	require.Equal(t, 2, len(sink.events))
	assert.Equal(t, EdgeRising, sink.events[0].Edge)
	assert.Equal(t, EdgeFalling, sink.events[1].Edge)
	assert.Equal(t, uint32(1), sink.events[0].Seqno)
	assert.Equal(t, uint32(2), sink.events[1].Seqno)
}

func TestFakeEdgeEventsActiveLow(t *testing.T) {
	c := NewFakeChip("/dev/gpiochip0", "pinctrl", 8)
	sink := &recordingSink{}

	l, err := c.Request("test", 4, LineConfig{Direction: DirectionInput, Bias: BiasPullUp, ActiveLow: true, Edge: EdgeBoth}, sink)
	require.Nil(t, err)
	v, err := l.Value()
	require.Nil(t, err)
	assert.False(t, v)

	// pulled low is logically active
	c.SetLevel(4, false)
	require.Equal(t, 1, len(sink.events))
	assert.Equal(t, EdgeRising, sink.events[0].Edge)
}

func TestFakeRisingOnly(t *testing.T) {
	c := NewFakeChip("/dev/gpiochip0", "pinctrl", 8)
	sink := &recordingSink{}

	_, err := c.Request("test", 4, LineConfig{Direction: DirectionInput, Edge: EdgeRising}, sink)
	require.Nil(t, err)
	c.SetLevel(4, true)
	c.SetLevel(4, false)
	require.Equal(t, 1, len(sink.events))
	assert.Equal(t, EdgeRising, sink.events[0].Edge)
}

func TestFakeLineClose(t *testing.T) {
	c := NewFakeChip("/dev/gpiochip0", "pinctrl", 8)

	l, err := c.Request("test", 5, LineConfig{Direction: DirectionOutput, Value: true}, nil)
	require.Nil(t, err)
	require.Nil(t, l.Close())

	info, err := c.LineInfo(5)
	require.Nil(t, err)
	assert.False(t, info.Used)
	assert.Equal(t, DirectionInput, c.Config(5).Direction)

	assert.True(t, errors.Is(l.Close(), ErrClosed))
	_, err = l.Value()
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestFakeIOError(t *testing.T) {
	c := NewFakeChip("/dev/gpiochip0", "pinctrl", 8)
	l, err := c.Request("test", 1, LineConfig{Direction: DirectionOutput}, nil)
	require.Nil(t, err)

	boom := errors.New("boom")
	c.SetIOError(1, boom)
	assert.Equal(t, boom, l.SetValue(true))
	_, err = l.Value()
	assert.Equal(t, boom, err)

	c.SetIOError(1, nil)
	assert.Nil(t, l.SetValue(true))
}

func TestFakeFault(t *testing.T) {
	c := NewFakeChip("/dev/gpiochip0", "pinctrl", 8)
	sink := &recordingSink{}
	_, err := c.Request("test", 1, LineConfig{Direction: DirectionInput, Edge: EdgeBoth}, sink)
	require.Nil(t, err)

	boom := errors.New("read failed")
	c.Fault(1, boom)
	require.Equal(t, 1, len(sink.errs))
	assert.Equal(t, boom, sink.errs[0])
}
