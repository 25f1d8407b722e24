// Package strand provides a serial execution context: tasks posted to a Strand
// run one at a time, in submission order, on whatever worker the Runner hands
// out. Different strands sharing one Runner execute in parallel.
package strand

import (
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Runner executes a task, usually on a pooled goroutine.
// *ants.Pool satisfies it.
type Runner interface {
	Submit(task func()) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(task func()) error

// Submit calls f(task).
func (f RunnerFunc) Submit(task func()) error { return f(task) }

// Inline runs tasks on the submitting goroutine. Posting from inside a task
// does not nest: the task is queued and picked up by the active drain loop.
var Inline Runner = RunnerFunc(func(task func()) error {
	task()
	return nil
})

// Goroutine runs every drain on a fresh goroutine.
var Goroutine Runner = RunnerFunc(func(task func()) error {
	go task()
	return nil
})

// NewPool creates an ants worker pool suitable as a shared Runner.
// size <= 0 means unbounded.
func NewPool(size int) (*ants.Pool, error) {
	if size <= 0 {
		size = -1
	}
	pool, err := ants.NewPool(size, ants.WithNonblocking(false), ants.WithPreAlloc(false))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return pool, nil
}

// Strand serializes tasks. The zero value is not usable; call New.
type Strand struct {
	runner Runner

	mu      sync.Mutex
	queue   []func()
	running bool
}

// New creates a strand draining on runner. A nil runner means Goroutine.
func New(runner Runner) *Strand {
	if runner == nil {
		runner = Goroutine
	}
	return &Strand{runner: runner}
}

// Post queues fn. It never runs fn concurrently with another task of the
// same strand and never blocks on a running task.
func (s *Strand) Post(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	if err := s.runner.Submit(s.drain); err != nil {
		// Pool closed or saturated: the queue must still make progress.
		go s.drain()
	}
}

// Pending reports the number of queued tasks not yet started.
func (s *Strand) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Strand) drain() {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		// Hand the remaining queue to a fresh drain before re-raising.
		s.mu.Lock()
		more := len(s.queue) > 0
		if !more {
			s.running = false
		}
		s.mu.Unlock()
		if more {
			if err := s.runner.Submit(s.drain); err != nil {
				go s.drain()
			}
		}
		panic(r)
	}()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.queue = nil
			s.mu.Unlock()
			return
		}
		task := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		task()
	}
}
