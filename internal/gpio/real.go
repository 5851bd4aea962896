//go:build linux

package gpio

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

// RealChip is a GPIO character device opened through go-gpiocdev.
type RealChip struct {
	path string
	chip *gpiocdev.Chip
}

// Open opens the GPIO character device at path.
// It satisfies Opener.
func Open(path string) (Chip, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrNotExist, path)
		}
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if err := gpiocdev.IsChip(path); err != nil {
		return nil, errors.Wrapf(ErrNotChip, "%s: %v", path, err)
	}

	chip, err := gpiocdev.NewChip(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open gpio chip %s", path)
	}
	return &RealChip{path: path, chip: chip}, nil
}

// Info returns the chip's identification.
func (c *RealChip) Info() ChipInfo {
	return ChipInfo{
		Path:  c.path,
		Name:  c.chip.Name,
		Label: c.chip.Label,
		Lines: c.chip.Lines(),
	}
}

// LineInfo returns the kernel's view of the line.
func (c *RealChip) LineInfo(offset int) (LineInfo, error) {
	info, err := c.chip.LineInfo(offset)
	if err != nil {
		return LineInfo{}, errors.Wrapf(err, "line info %d", offset)
	}
	return LineInfo{Offset: info.Offset, Used: info.Used, Consumer: info.Consumer}, nil
}

// Request claims the line. The initial output value, if any, is set as part
// of the request so the line never glitches.
func (c *RealChip) Request(consumer string, offset int, cfg LineConfig, sink EdgeSink) (Line, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.WithConsumer(consumer)}
	if cfg.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	switch cfg.Bias {
	case BiasPullUp:
		opts = append(opts, gpiocdev.WithPullUp)
	case BiasPullDown:
		opts = append(opts, gpiocdev.WithPullDown)
	case BiasDisabled:
		opts = append(opts, gpiocdev.WithBiasDisabled)
	}

	if cfg.Direction == DirectionOutput {
		opts = append(opts, gpiocdev.AsOutput(boolToInt(cfg.Value)))
		switch cfg.Drive {
		case DriveOpenDrain:
			opts = append(opts, gpiocdev.AsOpenDrain)
		case DriveOpenSource:
			opts = append(opts, gpiocdev.AsOpenSource)
		default:
			opts = append(opts, gpiocdev.AsPushPull)
		}
	} else {
		opts = append(opts, gpiocdev.AsInput)
		if cfg.Debounce > 0 {
			opts = append(opts, gpiocdev.WithDebounce(cfg.Debounce))
		}
		if cfg.Edge != EdgeNone {
			switch cfg.Edge {
			case EdgeRising:
				opts = append(opts, gpiocdev.WithRisingEdge)
			case EdgeFalling:
				opts = append(opts, gpiocdev.WithFallingEdge)
			default:
				opts = append(opts, gpiocdev.WithBothEdges)
			}
			if cfg.Clock == ClockRealtime {
				opts = append(opts, gpiocdev.WithRealtimeEventClock)
			}
			// The watcher drops read errors, so HandleError is never called
			// here; the hub's liveness check reads the line back instead.
			if sink != nil {
				opts = append(opts, gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
					sink.HandleEdge(convertEvent(evt))
				}))
			}
		}
	}

	l, err := c.chip.RequestLine(offset, opts...)
	if err != nil {
		if errors.Is(err, syscall.EBUSY) {
			return nil, errors.Wrapf(ErrBusy, "request line %d: %v", offset, err)
		}
		return nil, errors.Wrapf(err, "request line %d", offset)
	}
	return &RealLine{line: l}, nil
}

// Close releases the chip.
func (c *RealChip) Close() error {
	return c.chip.Close()
}

// RealLine is a single line requested through go-gpiocdev.
type RealLine struct {
	line *gpiocdev.Line
}

func (l *RealLine) Offset() int {
	return l.line.Offset()
}

// Value returns the logical value of the line.
func (l *RealLine) Value() (bool, error) {
	v, err := l.line.Value()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// SetValue sets the logical value of an output line.
func (l *RealLine) SetValue(active bool) error {
	return l.line.SetValue(boolToInt(active))
}

// Close reverts the line to an input before releasing it, so a released
// output is not left driving whatever is connected to it.
func (l *RealLine) Close() error {
	var errs []error
	if err := l.line.Reconfigure(gpiocdev.AsInput); err != nil {
		errs = append(errs, errors.Wrap(err, "reconfigure to input"))
	}
	if err := l.line.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "close line"))
	}
	if len(errs) > 0 {
		return errors.Errorf("close errors: %v", errs)
	}
	return nil
}

func convertEvent(evt gpiocdev.LineEvent) EdgeEvent {
	edge := EdgeFalling
	if evt.Type == gpiocdev.LineEventRisingEdge {
		edge = EdgeRising
	}
	return EdgeEvent{
		Offset:    evt.Offset,
		Edge:      edge,
		Timestamp: evt.Timestamp,
		Seqno:     evt.Seqno,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
