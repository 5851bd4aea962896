package loop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T, workers int) *Loop {
	t.Helper()
	l := New(workers, logrus.NewEntry(logrus.New()))
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l
}

func TestPostOrder(t *testing.T) {
	l := startLoop(t, 1)

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	require.Nil(t, l.Call(func() {}))

	require.Equal(t, 100, len(got))
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPostFromLoop(t *testing.T) {
	l := startLoop(t, 1)

	ran := make(chan struct{})
	l.Post(func() {
		l.Post(func() { close(ran) })
	})
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("nested post never ran")
	}
}

func TestPanicDoesNotStopLoop(t *testing.T) {
	l := startLoop(t, 1)

	l.Post(func() { panic("boom") })
	ran := false
	require.Nil(t, l.Call(func() { ran = true }))
	assert.True(t, ran)
}

func TestStop(t *testing.T) {
	l := New(1, logrus.NewEntry(logrus.New()))
	errc := make(chan error, 1)
	go func() { errc <- l.Run(context.Background()) }()

	require.Nil(t, l.Call(func() {}))
	l.Stop()
	l.Stop()
	assert.Nil(t, <-errc)
	assert.False(t, l.Post(func() {}))
	assert.True(t, errors.Is(l.Call(func() {}), ErrStopped))
}

func TestRunContextCancel(t *testing.T) {
	l := New(1, logrus.NewEntry(logrus.New()))
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()

	cancel()
	assert.True(t, errors.Is(<-errc, context.Canceled))
	assert.False(t, l.Post(func() {}))
}

func TestExecDeliversOnLoop(t *testing.T) {
	l := startLoop(t, 2)

	boom := errors.New("boom")
	got := make(chan error, 1)
	l.Exec(context.Background(), func() error { return boom }, func(err error) {
		got <- err
	})
	select {
	case err := <-got:
		assert.Equal(t, boom, err)
	case <-time.After(time.Second):
		t.Fatal("exec result never delivered")
	}
}

func TestExecBounded(t *testing.T) {
	l := startLoop(t, 2)

	var running, peak int32
	release := make(chan struct{})
	done := make(chan struct{}, 6)
	for i := 0; i < 6; i++ {
		l.Exec(context.Background(), func() error {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
			return nil
		}, func(error) { done <- struct{}{} })
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	for i := 0; i < 6; i++ {
		<-done
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))
}

func TestExecCancelledContext(t *testing.T) {
	l := startLoop(t, 1)

	block := make(chan struct{})
	started := make(chan struct{})
	defer close(block)
	l.Exec(context.Background(), func() error { close(started); <-block; return nil }, nil)
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := make(chan error, 1)
	ran := false
	l.Exec(ctx, func() error { ran = true; return nil }, func(err error) { got <- err })
	assert.True(t, errors.Is(<-got, context.Canceled))
	assert.False(t, ran)
}

func TestAfterFunc(t *testing.T) {
	l := startLoop(t, 1)

	fired := make(chan time.Time, 1)
	start := time.Now()
	require.Nil(t, l.Call(func() {
		l.AfterFunc(20*time.Millisecond, func() { fired <- time.Now() })
	}))
	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(start), 20*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestTimerStop(t *testing.T) {
	l := startLoop(t, 1)

	var fired int32
	var tm *Timer
	require.Nil(t, l.Call(func() {
		tm = l.AfterFunc(10*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	}))
	var stopped bool
	require.Nil(t, l.Call(func() { stopped = tm.Stop() }))
	assert.True(t, stopped)
	require.Nil(t, l.Call(func() { stopped = tm.Stop() }))
	assert.False(t, stopped)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestTimerStopAfterQueued(t *testing.T) {
	l := startLoop(t, 1)

	var fired int32
	var stopped bool
	require.Nil(t, l.Call(func() {
		tm := l.AfterFunc(time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
		// block the loop until the fire has been queued behind us
		time.Sleep(20 * time.Millisecond)
		stopped = tm.Stop()
	}))
	require.Nil(t, l.Call(func() {}))
	assert.True(t, stopped)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}
