// Package runloop provides the single goroutine that owns all battle state.
// Server events, user commands, and timer continuations are posted here and
// run to completion one at a time, so coordinators never need their own
// locking.
package runloop

import (
	"context"
	"sync"
)

type Loop struct {
	inbox  chan func()
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func New(parent context.Context) *Loop {
	ctx, cancel := context.WithCancel(parent)
	l := &Loop{
		inbox:  make(chan func(), 64),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			return
		case fn := <-l.inbox:
			fn()
		}
	}
}

// Post enqueues fn to run on the loop. Returns false once the loop has shut
// down; late timer fires land here and are dropped on purpose.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.mu.Unlock()

	select {
	case l.inbox <- fn:
		return true
	case <-l.ctx.Done():
		return false
	}
}

// Call runs fn on the loop and blocks until it finishes. Must not be called
// from inside the loop itself.
func (l *Loop) Call(fn func()) bool {
	doneCh := make(chan struct{})
	if !l.Post(func() {
		fn()
		close(doneCh)
	}) {
		return false
	}
	select {
	case <-doneCh:
		return true
	case <-l.ctx.Done():
		return false
	}
}

func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	<-l.done
}

func (l *Loop) Done() <-chan struct{} { return l.ctx.Done() }
