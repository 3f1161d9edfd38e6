package protocol

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// defaultSchedulerWorkers is the number of goroutines running task bodies.
	defaultSchedulerWorkers = 4

	// schedulerQueueSize bounds the number of bodies waiting for a worker.
	schedulerQueueSize = 256
)

// Scheduler is the shared facility that runs timers (polling ticks,
// response timeouts) and short callback bodies on a bounded worker pool.
//
// Thread Safety: all methods are safe for concurrent use.
type Scheduler struct {
	queue chan func()
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup

	logger Logger

	executed atomic.Uint64
	panics   atomic.Uint64
}

// NewScheduler starts a scheduler with the given number of workers
// (defaults to 4 when workers < 1).
func NewScheduler(workers int, logger Logger) *Scheduler {
	if workers < 1 {
		workers = defaultSchedulerWorkers
	}
	if logger == nil {
		logger = noopLogger{}
	}
	s := &Scheduler{
		queue:  make(chan func(), schedulerQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

// Submit queues fn for execution. It blocks while the queue is full and
// returns false once the scheduler is closed.
func (s *Scheduler) Submit(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- fn:
		return true
	case <-s.done:
		return false
	}
}

// After runs fn once after d unless the returned task is cancelled first.
func (s *Scheduler) After(d time.Duration, fn func()) *Task {
	t := newTask()
	t.timer = time.AfterFunc(d, func() {
		s.Submit(t.guard(fn))
	})
	return t
}

// Every runs fn after initial and then repeatedly, waiting period between
// the end of one run and the start of the next (fixed delay).
func (s *Scheduler) Every(initial, period time.Duration, fn func()) *Task {
	t := newTask()
	body := t.guard(fn)

	go func() {
		timer := time.NewTimer(initial)
		defer timer.Stop()
		for {
			select {
			case <-t.cancelled:
				return
			case <-s.done:
				return
			case <-timer.C:
			}

			finished := make(chan struct{})
			if !s.Submit(func() {
				defer close(finished)
				body()
			}) {
				return
			}
			select {
			case <-finished:
			case <-t.cancelled:
				return
			case <-s.done:
				return
			}
			timer.Reset(period)
		}
	}()
	return t
}

// Close stops the workers. Queued bodies that have not started are dropped.
func (s *Scheduler) Close() {
	s.once.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

// Executed returns how many bodies have run.
func (s *Scheduler) Executed() uint64 {
	return s.executed.Load()
}

// Panics returns how many bodies panicked.
func (s *Scheduler) Panics() uint64 {
	return s.panics.Load()
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.queue:
			s.run(fn)
		}
	}
}

func (s *Scheduler) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.logger.Error("scheduled task panic", "error", fmt.Sprintf("%v", r))
		}
	}()
	s.executed.Add(1)
	fn()
}

// Task is a handle to scheduled work.
type Task struct {
	cancelled chan struct{}
	once      sync.Once
	timer     *time.Timer
}

func newTask() *Task {
	return &Task{cancelled: make(chan struct{})}
}

// Cancel stops the task. It is idempotent and may be called from any
// goroutine, including from inside the task body.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		close(t.cancelled)
		if t.timer != nil {
			t.timer.Stop()
		}
	})
}

// Cancelled reports whether Cancel has been called.
func (t *Task) Cancelled() bool {
	if t == nil {
		return true
	}
	select {
	case <-t.cancelled:
		return true
	default:
		return false
	}
}

// guard wraps fn so it does nothing once the task is cancelled.
func (t *Task) guard(fn func()) func() {
	return func() {
		if t.Cancelled() {
			return
		}
		fn()
	}
}
