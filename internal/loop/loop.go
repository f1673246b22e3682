// Package loop provides the single-threaded execution model the tile
// scheduler runs on.
//
// All mutable layer state is touched only from callbacks run by a
// Scheduler. Blocking work (network fetches) is handed to Go and reports
// back through Post; timed retries go through AfterFunc.
package loop

import (
	"context"
	"sync"
	"time"
)

// Scheduler serializes callbacks onto one logical thread.
type Scheduler interface {
	// Post queues fn to run on the loop.
	Post(fn func())
	// Go runs fn off the loop. fn must not touch loop-owned state
	// except through Post.
	Go(fn func())
	// AfterFunc queues fn to run on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func())
}

// Loop is a Scheduler backed by a goroutine draining an unbounded queue.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// New creates a loop. Nothing runs until Run is called.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post queues fn. It never blocks, so it is safe to call from the loop itself.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Go runs fn on a new goroutine.
func (l *Loop) Go(fn func()) {
	go fn()
}

// AfterFunc posts fn after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { l.Post(fn) })
}

// Run processes callbacks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })

	for {
		for {
			fn := l.next()
			if fn == nil {
				break
			}
			fn()
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Do runs fn on the loop and waits for it to return.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		fn()
		close(finished)
	})

	select {
	case <-finished:
		return nil
	case <-l.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}
