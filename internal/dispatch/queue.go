// Package dispatch provides the single-consumer execution context that
// stands in for the host's rendering dispatcher. Work posted here runs on
// exactly one goroutine in FIFO order, so state that is only safe to touch
// from the render context (the sampled instrument price, the regime
// aggregate's lock) is only ever touched there.
package dispatch

import (
	"sync"

	"regimesync/pkg/logger"
)

// Queue is a FIFO task executor with one consumer goroutine
type Queue struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool

	log *logger.Logger
}

// NewQueue starts the consumer goroutine. buffer bounds how many posted
// tasks may be pending before Post blocks.
func NewQueue(buffer int, log *logger.Logger) *Queue {
	if buffer <= 0 {
		buffer = 64
	}

	q := &Queue{
		tasks: make(chan func(), buffer),
		log:   log.With("component", "dispatch"),
	}

	q.wg.Add(1)
	go q.run()

	return q
}

func (q *Queue) run() {
	defer q.wg.Done()

	for task := range q.tasks {
		q.execute(task)
	}
}

func (q *Queue) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Errorw("Posted task panicked", "panic", r)
		}
	}()
	task()
}

// Post enqueues a task for execution on the queue's goroutine. Posting to a
// closed queue drops the task; ordering is FIFO relative to other posts from
// the same goroutine.
func (q *Queue) Post(task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.log.Debug("Task dropped, queue closed")
		return
	}
	q.tasks <- task
}

// Len returns the number of pending tasks
func (q *Queue) Len() int {
	return len(q.tasks)
}

// Close stops accepting tasks, drains pending work and waits for the
// consumer goroutine to exit
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
}
