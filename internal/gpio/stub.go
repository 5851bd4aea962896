//go:build !linux

package gpio

import "github.com/pkg/errors"

// Open returns an error on non-Linux platforms.
func Open(path string) (Chip, error) {
	return nil, errors.Wrap(ErrNotExist, "gpio: not supported on this platform (requires Linux)")
}
