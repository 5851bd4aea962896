package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/sweeney/gpio-hub/internal/gpio"
	"github.com/sweeney/gpio-hub/internal/hub"
	"github.com/sweeney/gpio-hub/internal/loop"
)

// notes records every notification.
type notes struct {
	mu     sync.Mutex
	states []State
}

func (n *notes) notify(st State) {
	n.mu.Lock()
	n.states = append(n.states, st)
	n.mu.Unlock()
}

func (n *notes) forDevice(id string) []State {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []State
	for _, st := range n.states {
		if st.ID == id {
			out = append(out, st)
		}
	}
	return out
}

func (n *notes) last(id string) (State, bool) {
	all := n.forDevice(id)
	if len(all) == 0 {
		return State{}, false
	}
	return all[len(all)-1], true
}

type rig struct {
	m     *Manager
	hub   *hub.Hub
	chip  *gpio.FakeChip
	notes *notes
	hook  *logtest.Hook
}

func newRig(t *testing.T) *rig {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	log := logrus.NewEntry(logger)

	l := loop.New(2, log)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})

	chip := gpio.NewFakeChip("/dev/gpiochip0", "pinctrl-bcm2711", 32)
	h := hub.New(hub.Config{Path: "/dev/gpiochip0"}, l, chip.Opener(), log)
	require.Nil(t, h.Start(context.Background()))

	n := &notes{}
	m := NewManager(h, n.notify, log).WithRetryDelays(10*time.Millisecond, 20*time.Millisecond, 40*time.Millisecond)
	return &rig{m: m, hub: h, chip: chip, notes: n, hook: hook}
}

// on runs fn on the loop and waits.
func (r *rig) on(t *testing.T, fn func()) {
	t.Helper()
	require.Nil(t, r.hub.Loop().Call(fn))
}

func (r *rig) exec(t *testing.T, id, action string) error {
	t.Helper()
	var err error
	r.on(t, func() { err = r.m.Execute(id, action) })
	return err
}

func (r *rig) state(t *testing.T, id string) State {
	t.Helper()
	var st State
	r.on(t, func() {
		d, ok := r.m.Get(id)
		require.True(t, ok, id)
		st = d.State()
	})
	return st
}

func (r *rig) logged(msg string) int {
	n := 0
	for _, e := range r.hook.AllEntries() {
		if e.Message == msg {
			n++
		}
	}
	return n
}

func lastState(on bool, known bool) func() (bool, bool) {
	return func() (bool, bool) { return on, known }
}
