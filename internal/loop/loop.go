// Package loop provides the single cooperative event loop that owns all hub
// state, a bounded executor for slow syscalls, and cancellable timers that
// fire on the loop.
package loop

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the executor size used when none is configured.
const DefaultWorkers = 4

// ErrStopped is returned when posting to a loop that is no longer running.
var ErrStopped = errors.New("loop: stopped")

// Loop runs posted functions one at a time, in order, on a single goroutine.
type Loop struct {
	log  *logrus.Entry
	sem  *semaphore.Weighted
	wake chan struct{}
	done chan struct{}

	mu      sync.Mutex
	queue   []func()
	stopped bool
}

// New creates a loop whose executor runs at most workers jobs at once.
func New(workers int, log *logrus.Entry) *Loop {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Loop{
		log:  log,
		sem:  semaphore.NewWeighted(int64(workers)),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Run processes posted functions until ctx is cancelled or Stop is called.
// Functions still queued at that point are discarded.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			l.call(fn)
		}

		l.mu.Lock()
		stopped := l.stopped
		l.mu.Unlock()
		if stopped {
			return nil
		}

		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithField("panic", r).Error("loop task panicked")
		}
	}()
	fn()
}

// Post queues fn to run on the loop. It never blocks and is safe from any
// goroutine, including the loop itself. It returns false once the loop has
// stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to return.
// It must not be called from the loop goroutine.
func (l *Loop) Call(fn func()) error {
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-ran:
		return nil
	case <-l.done:
		// the loop may have run fn just before exiting
		select {
		case <-ran:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Stop makes Run return after the current function. It is idempotent.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Exec runs work on the bounded executor and then posts done(err) to the loop.
// If ctx is cancelled while waiting for a worker, done receives ctx's error
// and work is not run.
func (l *Loop) Exec(ctx context.Context, work func() error, done func(error)) {
	go func() {
		err := l.sem.Acquire(ctx, 1)
		if err == nil {
			err = work()
			l.sem.Release(1)
		}
		if done != nil && !l.Post(func() { done(err) }) {
			l.log.WithError(err).Debug("loop stopped before exec result was delivered")
		}
	}()
}

// Timer is a cancellable callback scheduled on the loop.
// Timer methods must be called on the loop.
type Timer struct {
	t         *time.Timer
	cancelled bool
	fired     bool
}

// AfterFunc schedules fn to run on the loop after d. It must be called on the
// loop.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if tm.cancelled {
				return
			}
			tm.fired = true
			fn()
		})
	})
	return tm
}

// Stop cancels the timer. It takes effect immediately: a fire already queued
// on the loop will not run. It reports whether the callback was prevented.
func (tm *Timer) Stop() bool {
	if tm == nil || tm.cancelled || tm.fired {
		return false
	}
	tm.cancelled = true
	tm.t.Stop()
	return true
}
