// Package loop provides the single-threaded task loop each tabsync context runs
// on. Storage notifications and deferred callbacks are queued here and executed
// one at a time, in arrival order.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Do once the loop has been closed.
var ErrClosed = errors.New("loop: closed")

type boundKey struct{}

// Loop runs posted tasks sequentially on one goroutine. Post never blocks, so
// it is safe to call from storage callbacks and from inside a running task.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	closed  bool
	once    sync.Once
}

// New starts a loop.
func New() *Loop {
	l := &Loop{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.stopped)

	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-l.wake:
			case <-l.done:
			}
			continue
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		task()
	}
}

// Post queues fn. It reports false when the loop is closed.
func (l *Loop) Post(fn func()) bool {
	if l == nil || fn == nil {
		return false
	}
	l.mu.Lock()
	if l.closed {
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

// Defer runs fn after every task queued before it, including the one
// currently running. Callers use it to break synchronous call chains.
func (l *Loop) Defer(fn func()) bool {
	return l.Post(fn)
}

// AfterFunc posts fn once d has elapsed. The returned timer can stop it.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() {
		l.Post(fn)
	})
}

// Bind marks ctx as running on l. Do calls made with a bound context run
// inline instead of queueing behind themselves.
func (l *Loop) Bind(ctx context.Context) context.Context {
	return context.WithValue(ctx, boundKey{}, l)
}

// OnLoop reports whether ctx was bound to l.
func (l *Loop) OnLoop(ctx context.Context) bool {
	bound, _ := ctx.Value(boundKey{}).(*Loop)
	return bound == l
}

// Do runs fn on the loop after every task queued before it and waits for it
// to return. fn receives a bound context. When ctx is already bound to l, fn
// runs inline. If ctx ends first Do returns ctx.Err() and fn still runs later.
func (l *Loop) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if l.OnLoop(ctx) {
		return fn(ctx)
	}

	bound := l.Bind(ctx)
	result := make(chan error, 1)
	if !l.Post(func() { result <- fn(bound) }) {
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush blocks until every task queued before the call has run.
func (l *Loop) Flush(ctx context.Context) error {
	reached := make(chan struct{})
	if !l.Post(func() { close(reached) }) {
		return nil
	}
	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains queued tasks and stops the loop. Tasks posted after Close are
// dropped. Close must not be called from inside a task.
func (l *Loop) Close() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.done)
		<-l.stopped
	})
}
