// Package dispatch runs functions one at a time, in the order they were
// posted, on a single goroutine.
package dispatch

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned by Do after Stop.
var ErrStopped = errors.New("dispatch: stopped")

// Queue is an unbounded FIFO of functions served by one goroutine. Post
// never blocks, so functions running on the queue may post more work.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	stopped bool
	done    chan struct{}
}

// New starts a queue.
func New() *Queue {
	q := &Queue{wake: make(chan struct{}, 1), done: make(chan struct{})}
	go q.run()
	return q
}

// Post enqueues fn. It reports false if the queue is stopped.
func (q *Queue) Post(fn func()) bool {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the queue and waits for it to return. It must not be
// called from a function running on the queue.
func (q *Queue) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !q.Post(func() { defer close(finished); fn() }) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Stop discards pending work and ends the goroutine once the running
// function, if any, returns. It is safe to call more than once.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.pending = nil
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Done is closed when the goroutine has exited.
func (q *Queue) Done() <-chan struct{} { return q.done }

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			<-q.wake
			continue
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()
		fn()
	}
}
