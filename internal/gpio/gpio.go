// Package gpio provides the GPIO character device abstraction used by the hub.
// The real implementation uses the Linux GPIO uAPI via go-gpiocdev.
// The fake implementation allows testing without hardware.
package gpio

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Direction is the direction of a requested line.
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

func (d Direction) String() string {
	if d == DirectionOutput {
		return "output"
	}
	return "input"
}

// Bias is the internal pull resistor setting of a line.
type Bias int

const (
	BiasAsIs Bias = iota
	BiasPullUp
	BiasPullDown
	BiasDisabled
)

func (b Bias) String() string {
	switch b {
	case BiasPullUp:
		return "pull-up"
	case BiasPullDown:
		return "pull-down"
	case BiasDisabled:
		return "disabled"
	default:
		return "as-is"
	}
}

// Drive is the output driver mode of a line.
type Drive int

const (
	DrivePushPull Drive = iota
	DriveOpenDrain
	DriveOpenSource
)

func (d Drive) String() string {
	switch d {
	case DriveOpenDrain:
		return "open-drain"
	case DriveOpenSource:
		return "open-source"
	default:
		return "push-pull"
	}
}

// Edge selects which transitions are reported, and is also the direction of
// a reported EdgeEvent (EdgeRising or EdgeFalling).
type Edge int

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "both"
	default:
		return "none"
	}
}

// EventClock is the clock used to timestamp edge events.
type EventClock int

const (
	ClockMonotonic EventClock = iota
	ClockRealtime
)

// LineConfig is the electrical configuration of a single requested line.
//
// Values are logical: with ActiveLow set, an active (true) value drives the
// line low.
type LineConfig struct {
	Direction Direction
	Bias      Bias
	Drive     Drive // output only
	ActiveLow bool
	Debounce  time.Duration // input only
	Edge      Edge          // input only
	Clock     EventClock    // input only
	Value     bool          // initial output value, output only
}

// Validate rejects settings that do not apply to the configured direction.
func (c LineConfig) Validate() error {
	if c.Direction == DirectionInput {
		if c.Drive != DrivePushPull {
			return errors.Errorf("drive %s not valid for input", c.Drive)
		}
		if c.Value {
			return errors.New("initial value not valid for input")
		}
		if c.Debounce < 0 {
			return errors.Errorf("negative debounce period %v", c.Debounce)
		}
		return nil
	}
	if c.Debounce != 0 {
		return errors.New("debounce not valid for output")
	}
	if c.Edge != EdgeNone {
		return errors.Errorf("edge detection %s not valid for output", c.Edge)
	}
	return nil
}

func (c LineConfig) String() string {
	if c.Direction == DirectionOutput {
		return fmt.Sprintf("output bias=%s drive=%s active_low=%v value=%v",
			c.Bias, c.Drive, c.ActiveLow, c.Value)
	}
	return fmt.Sprintf("input bias=%s active_low=%v debounce=%v edge=%s",
		c.Bias, c.ActiveLow, c.Debounce, c.Edge)
}

// ChipInfo describes an opened chip.
type ChipInfo struct {
	Path  string
	Name  string
	Label string
	Lines int
}

// LineInfo is the kernel's view of a line's ownership.
type LineInfo struct {
	Offset   int
	Used     bool
	Consumer string
}

// EdgeEvent is a single transition reported by the kernel.
// Edge is EdgeRising for an inactive to active transition.
type EdgeEvent struct {
	Offset    int
	Edge      Edge
	Timestamp time.Duration
	Seqno     uint32
}

// EdgeSink receives edge events and descriptor errors for one requested line.
// Implementations must be safe to call from any goroutine; calls for a single
// line are never concurrent and arrive in kernel order.
type EdgeSink interface {
	HandleEdge(evt EdgeEvent)
	HandleError(err error)
}

// Chip is an opened GPIO character device.
type Chip interface {
	// Info returns the chip's identification.
	Info() ChipInfo

	// LineInfo returns whether the line is in use, and by whom.
	LineInfo(offset int) (LineInfo, error)

	// Request claims a single line with the given configuration.
	// Edge events are delivered to sink if cfg enables edge detection.
	Request(consumer string, offset int, cfg LineConfig, sink EdgeSink) (Line, error)

	// Close releases the chip.
	Close() error
}

// Line is a requested line, backed by one kernel descriptor.
type Line interface {
	Offset() int

	// Value returns the logical value of the line.
	Value() (bool, error)

	// SetValue sets the logical value of an output line.
	SetValue(active bool) error

	// Close reverts the line to input and releases it.
	Close() error
}

// Opener opens the chip at path.
type Opener func(path string) (Chip, error)

var (
	// ErrNotExist is returned by an Opener when there is no device at the path.
	ErrNotExist = errors.New("gpio: no such device")

	// ErrNotChip is returned by an Opener when the path is not a GPIO character device.
	ErrNotChip = errors.New("gpio: not a gpiochip device")

	// ErrBusy is returned by Chip.Request when the kernel reports the line in use.
	ErrBusy = errors.New("gpio: line busy")

	// ErrClosed is returned when operating on a closed chip or line.
	ErrClosed = errors.New("gpio: closed")
)
