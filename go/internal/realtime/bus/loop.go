// Package bus provides the typed signals and the serial dispatcher the
// realtime layer runs on. Every callback that touches session or reconciler
// state is posted to a single dispatcher and runs to completion before the
// next one starts.
package bus

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Dispatcher accepts work to be run serially.
type Dispatcher interface {
	Post(fn func())
}

// Queue is a FIFO dispatcher that is drained explicitly. Loop drains one from a
// goroutine; tests drain one by hand.
type Queue struct {
	mu     sync.Mutex
	tasks  []func()
	notify chan struct{}
	initMu sync.Once
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.init()
	return q
}

func (q *Queue) init() {
	q.initMu.Do(func() {
		q.notify = make(chan struct{}, 1)
	})
}

// Post appends fn. It never blocks, so tasks may post follow-up work.
func (q *Queue) Post(fn func()) {
	if fn == nil {
		return
	}
	q.init()

	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// RunPending runs queued tasks until the queue is empty, including tasks posted
// by the tasks themselves, and returns how many ran.
func (q *Queue) RunPending() int {
	ran := 0
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return ran
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		runTask(fn)
		ran++
	}
}

// Wait blocks until at least one task is queued or the timeout elapses.
func (q *Queue) Wait(timeout time.Duration) bool {
	q.init()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if q.Len() > 0 {
			return true
		}
		select {
		case <-q.notify:
		case <-deadline.C:
			return q.Len() > 0
		}
	}
}

func runTask(fn func()) {
	Guard("dispatcher task", fn)
}

// Guard runs fn and logs instead of propagating a panic. It reports whether fn
// returned normally.
func Guard(what string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("task", what).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("recovered panic")
			ok = false
		}
	}()
	fn()
	return true
}

// Loop is a Queue drained by a single goroutine.
type Loop struct {
	*Queue
}

// NewLoop creates a loop. Call Run to start draining it.
func NewLoop() *Loop {
	return &Loop{Queue: NewQueue()}
}

// Run drains the queue until ctx is cancelled. Tasks still queued at
// cancellation are dropped.
func (l *Loop) Run(ctx context.Context) error {
	l.init()
	log.Debug().Msg("dispatch loop started")
	for {
		l.RunPending()
		select {
		case <-ctx.Done():
			log.Debug().Msg("dispatch loop stopped")
			return ctx.Err()
		case <-l.notify:
		}
	}
}

// Do posts fn and waits until it has run.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
