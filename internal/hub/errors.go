package hub

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDeviceNotFound means no GPIO device exists at the probed path(s).
	ErrDeviceNotFound = errors.New("gpio device not found")

	// ErrUnsupportedDevice means a device exists but is not a SoC pin controller.
	ErrUnsupportedDevice = errors.New("unsupported gpio device")

	// ErrLineBusyExternal means another consumer holds the line.
	ErrLineBusyExternal = errors.New("line in use by another consumer")

	// ErrLineBusyInternal means this hub already holds the line, i.e. two
	// devices are configured on the same offset.
	ErrLineBusyInternal = errors.New("line already registered")

	// ErrIO is a kernel get/set/read failure on a live request.
	ErrIO = errors.New("gpio i/o error")

	// ErrUnavailable is the state of a device after an I/O failure.
	ErrUnavailable = errors.New("device unavailable")

	// ErrChipOffline means the chip has not been discovered or was closed.
	ErrChipOffline = errors.New("gpio chip offline")

	// ErrReleased means the request has been released.
	ErrReleased = errors.New("line request released")
)

// LineBusyError reports a registration rejected because the offset is taken.
type LineBusyError struct {
	Offset   int
	Consumer string
	Internal bool
}

func (e *LineBusyError) Error() string {
	if e.Internal {
		return fmt.Sprintf("line %d: %v", e.Offset, ErrLineBusyInternal)
	}
	return fmt.Sprintf("line %d: %v (%q)", e.Offset, ErrLineBusyExternal, e.Consumer)
}

// Is matches ErrLineBusyInternal or ErrLineBusyExternal.
func (e *LineBusyError) Is(target error) bool {
	if e.Internal {
		return target == ErrLineBusyInternal
	}
	return target == ErrLineBusyExternal
}

// IOError is a runtime failure reading or writing a requested line.
type IOError struct {
	Op     string
	Offset int
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s line %d: %v", e.Op, e.Offset, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Is matches ErrIO.
func (e *IOError) Is(target error) bool {
	return target == ErrIO
}
