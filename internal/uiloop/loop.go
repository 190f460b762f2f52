// Package uiloop provides the single UI affinity execution context.
//
// Every adapter call, the sound throttle and foreground checks run on the one
// goroutine that serves a Loop. Producers on any goroutine hand work over with
// Run (fire-and-forget) or Do (wait for completion). Work runs in FIFO order.
package uiloop

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	logx "notifyd/pkg/logx"
)

var ErrClosed = errors.New("ui loop closed")

type Loop struct {
	log logx.Logger

	mu      sync.Mutex
	queue   []func()
	closed  bool
	serving bool

	wake chan struct{}
}

func New(log logx.Logger) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{
		log:  log.With(logx.String("comp", "uiloop")),
		wake: make(chan struct{}, 1),
	}
}

// Run enqueues fn. It never blocks. Work submitted after the loop has shut
// down is dropped.
func (l *Loop) Run(fn func()) {
	if fn == nil {
		return
	}
	if !l.enqueue(fn) {
		l.log.Debug("work dropped after shutdown")
	}
}

func (l *Loop) enqueue(fn func()) bool {
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

// Do enqueues fn and waits until it has run. It must not be called from the
// loop itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan struct{})
	ok := l.enqueue(func() {
		defer close(done)
		if fn != nil {
			fn()
		}
	})
	if !ok {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued, not yet started functions.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Serve runs queued work until ctx is done. Work already queued at shutdown
// still runs before Serve returns. A Loop is served at most once.
func (l *Loop) Serve(ctx context.Context) error {
	l.mu.Lock()
	if l.serving || l.closed {
		l.mu.Unlock()
		return errors.New("ui loop already served")
	}
	l.serving = true
	l.mu.Unlock()

	for {
		batch := l.take()
		for _, fn := range batch {
			l.exec(fn)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.closed = true
			rest := l.queue
			l.queue = nil
			l.mu.Unlock()
			for _, fn := range rest {
				l.exec(fn)
			}
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) take() []func() {
	l.mu.Lock()
	q := l.queue
	l.queue = nil
	l.mu.Unlock()
	return q
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("ui work panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}
