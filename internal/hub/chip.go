package hub

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sweeney/gpio-hub/internal/gpio"
)

// DefaultCandidates are probed in order when no chip path is configured.
// Pi 3/4 expose the SoC pin controller as gpiochip0, Pi 5 as gpiochip4.
var DefaultCandidates = []string{
	"/dev/gpiochip0",
	"/dev/gpiochip4",
	"/dev/gpiochip1",
	"/dev/gpiochip2",
	"/dev/gpiochip3",
	"/dev/gpiochip5",
}

// DefaultLabelMarker identifies the SoC's pin controller among the chips the
// kernel exposes.
const DefaultLabelMarker = "pinctrl"

// ChipManager discovers, validates and holds the one chip the hub uses.
type ChipManager struct {
	open       gpio.Opener
	candidates []string
	marker     string
	log        *logrus.Entry

	mu   sync.Mutex
	chip gpio.Chip
}

// NewChipManager creates an offline manager. Empty candidates or marker
// select the defaults.
func NewChipManager(open gpio.Opener, candidates []string, marker string, log *logrus.Entry) *ChipManager {
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}
	if marker == "" {
		marker = DefaultLabelMarker
	}
	return &ChipManager{
		open:       open,
		candidates: candidates,
		marker:     marker,
		log:        log,
	}
}

// Discover validates path, or the candidate list when path is empty, and
// takes the first chip that passes.
func (m *ChipManager) Discover(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chip != nil {
		return nil
	}

	if path != "" {
		m.log.WithField("path", path).Debug("using configured gpio device")
		chip, err := m.validate(path)
		if err != nil {
			return err
		}
		m.online(chip)
		return nil
	}

	m.log.Debug("auto discovering gpio device")
	unsupported := false
	for _, p := range m.candidates {
		chip, err := m.validate(p)
		if err == nil {
			m.online(chip)
			return nil
		}
		if errors.Is(err, ErrUnsupportedDevice) {
			unsupported = true
		}
	}
	if unsupported {
		return errors.Wrapf(ErrUnsupportedDevice, "no %q chip among %v", m.marker, m.candidates)
	}
	return errors.Wrapf(ErrDeviceNotFound, "probed %v", m.candidates)
}

func (m *ChipManager) online(chip gpio.Chip) {
	m.chip = chip
	info := chip.Info()
	m.log.WithFields(logrus.Fields{
		"path":  info.Path,
		"label": info.Label,
		"lines": info.Lines,
	}).Info("gpio chip online")
}

// validate opens path and checks it is a pin controller. A chip that opens
// but fails the label check is closed again.
func (m *ChipManager) validate(path string) (gpio.Chip, error) {
	log := m.log.WithField("path", path)
	chip, err := m.open(path)
	if err != nil {
		switch {
		case errors.Is(err, gpio.ErrNotExist):
			log.Debug("no such device")
			return nil, errors.Wrap(ErrDeviceNotFound, path)
		case errors.Is(err, gpio.ErrNotChip):
			log.Debug("not a gpiochip device")
			return nil, errors.Wrapf(ErrUnsupportedDevice, "%s: not a gpiochip device", path)
		default:
			log.WithError(err).Debug("open failed")
			return nil, errors.Wrapf(ErrUnsupportedDevice, "%s: %v", path, err)
		}
	}

	label := chip.Info().Label
	if !strings.Contains(label, m.marker) {
		log.WithField("label", label).Debug("no pin controller marker in label")
		chip.Close()
		return nil, errors.Wrapf(ErrUnsupportedDevice, "%s: label %q lacks %q", path, label, m.marker)
	}
	return chip, nil
}

// Online reports whether a chip is held.
func (m *ChipManager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chip != nil
}

// Chip returns the held chip, or ErrChipOffline.
func (m *ChipManager) Chip() (gpio.Chip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chip == nil {
		return nil, ErrChipOffline
	}
	return m.chip, nil
}

// Info returns the held chip's identification, or ErrChipOffline.
func (m *ChipManager) Info() (gpio.ChipInfo, error) {
	chip, err := m.Chip()
	if err != nil {
		return gpio.ChipInfo{}, err
	}
	return chip.Info(), nil
}

// LineInfo probes the ownership of a line without side effects.
func (m *ChipManager) LineInfo(offset int) (gpio.LineInfo, error) {
	chip, err := m.Chip()
	if err != nil {
		return gpio.LineInfo{}, err
	}
	return chip.LineInfo(offset)
}

// Close releases the chip. It is idempotent.
func (m *ChipManager) Close() error {
	m.mu.Lock()
	chip := m.chip
	m.chip = nil
	m.mu.Unlock()
	if chip == nil {
		return nil
	}
	m.log.Debug("closing gpio chip")
	return chip.Close()
}
