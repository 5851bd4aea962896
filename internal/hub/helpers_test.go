package hub

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/sweeney/gpio-hub/internal/gpio"
	"github.com/sweeney/gpio-hub/internal/loop"
)

const testChipPath = "/dev/gpiochip0"

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func startLoop(t *testing.T) *loop.Loop {
	t.Helper()
	l := loop.New(2, testLog())
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l
}

func newFakeChip() *gpio.FakeChip {
	return gpio.NewFakeChip(testChipPath, "pinctrl-bcm2711", 32)
}

// newTestRegistry returns a registry over an online fake chip.
func newTestRegistry(t *testing.T) (*Registry, *gpio.FakeChip) {
	t.Helper()
	chip := newFakeChip()
	cm := NewChipManager(chip.Opener(), nil, "", testLog())
	require.Nil(t, cm.Discover(testChipPath))
	return NewRegistry(cm, "", testLog()), chip
}

// newTestHub returns a started hub over a fake chip, on a running loop.
func newTestHub(t *testing.T) (*Hub, *gpio.FakeChip) {
	t.Helper()
	chip := newFakeChip()
	l := startLoop(t)
	h := New(Config{Path: testChipPath}, l, chip.Opener(), testLog())
	require.Nil(t, h.Start(context.Background()))
	return h, chip
}
