// Package worker provides a single-goroutine task runner. Each runner
// executes submitted tasks strictly in order; a task failure is captured
// and re-surfaced to the caller at the next Join rather than crossing
// the goroutine boundary on its own.
package worker

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned when submitting to a closed runner.
var ErrClosed = errors.New("worker: runner closed")

// Task is one unit of work.
type Task func() error

// Runner runs tasks one at a time on a dedicated goroutine.
type Runner struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    *list.List
	maxQueue int
	busy     bool
	closed   bool
	err      error
}

// NewRunner starts a runner whose pending queue holds at most maxQueue
// tasks; Submit blocks while the queue is full.
func NewRunner(maxQueue int) *Runner {
	if maxQueue < 1 {
		maxQueue = 1
	}
	r := &Runner{
		queue:    list.New(),
		maxQueue: maxQueue,
	}
	r.cond = sync.NewCond(&r.mu)
	go r.loop()
	return r
}

func (r *Runner) loop() {
	for {
		r.mu.Lock()
		for r.queue.Len() == 0 && !r.closed {
			r.cond.Wait()
		}
		if r.queue.Len() == 0 && r.closed {
			r.mu.Unlock()
			return
		}
		front := r.queue.Front()
		r.queue.Remove(front)
		r.busy = true
		r.cond.Broadcast()
		r.mu.Unlock()

		task := front.Value.(Task)
		err := r.run(task)

		r.mu.Lock()
		r.busy = false
		if err != nil && r.err == nil {
			r.err = err
		}
		r.cond.Broadcast()
		r.mu.Unlock()
	}
}

// run executes the task, converting a panic into an error so the
// runner goroutine survives.
func (r *Runner) run(task Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("worker: task panic: %v", p)
		}
	}()
	return task()
}

// Submit queues a task. It blocks while the queue is full and returns
// ErrClosed once the runner is closed.
func (r *Runner) Submit(task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.queue.Len() >= r.maxQueue && !r.closed {
		r.cond.Wait()
	}
	if r.closed {
		return ErrClosed
	}
	r.queue.PushBack(task)
	r.cond.Broadcast()
	return nil
}

// Join waits for the current and all queued tasks to finish, then
// returns the first failure captured since the last Join (clearing it).
// Failure delivery assumes one joining client per runner: with several
// goroutines interleaving Submit and Join on the same runner, a Join
// can observe another submitter's captured error.
func (r *Runner) Join() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.queue.Len() > 0 || r.busy {
		r.cond.Wait()
	}
	err := r.err
	r.err = nil
	return err
}

// ForceJoin drops all queued-but-not-started tasks, waits out the
// in-flight task, and clears any captured failure. Used for teardown.
func (r *Runner) ForceJoin() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.queue.Init()
	for r.busy {
		r.cond.Wait()
	}
	r.err = nil
}

// Close stops the runner after the remaining queued tasks finish.
// Pending Submit calls fail with ErrClosed.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Pending returns the number of queued-but-not-started tasks.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Len()
}
