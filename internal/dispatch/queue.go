// Package dispatch provides the single execution context on which all client
// state is mutated. Network I/O runs anywhere; the final write of a result is
// always posted here, so two completions never race on the same field.
package dispatch

import (
	"errors"
	"fmt"
	"sync"

	"moneymind/internal/log"
)

var ErrClosed = errors.New("dispatch queue closed")

// Queue runs submitted functions one at a time, in submission order, on a
// dedicated goroutine.
type Queue struct {
	tasks  chan func()
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
	logger *log.Logger
}

// NewQueue starts the queue goroutine. buffer is the number of pending tasks
// accepted before Post blocks.
func NewQueue(buffer int, logger *log.Logger) *Queue {
	if buffer < 0 {
		buffer = 0
	}
	if logger == nil {
		logger = log.Discard()
	}
	q := &Queue{
		tasks:  make(chan func(), buffer),
		done:   make(chan struct{}),
		logger: logger.WithComponent(log.ComponentDispatch),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for fn := range q.tasks {
		q.exec(fn)
	}
}

func (q *Queue) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Task panicked", log.FieldError, fmt.Sprint(r))
		}
	}()
	fn()
}

// Post enqueues fn without waiting for it to run.
func (q *Queue) Post(fn func()) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	q.tasks <- fn
	return nil
}

// Do enqueues fn and waits until it has run. Calling Do from a task deadlocks.
func (q *Queue) Do(fn func()) error {
	ran := make(chan struct{})
	if err := q.Post(func() {
		defer close(ran)
		fn()
	}); err != nil {
		return err
	}
	<-ran
	return nil
}

// Close stops accepting tasks and waits for the pending ones to finish.
// It must not be called from a task.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	<-q.done
}
