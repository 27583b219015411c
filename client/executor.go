package client

import (
	"errors"

	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
)

// ErrExecutorSaturated is returned when an executor has no capacity to run
// another task.
var ErrExecutorSaturated = errors.New("executor saturated")

// Executor runs connection background tasks.
type Executor interface {
	// Spawn runs task in the background, or returns an error if the task
	// could not be scheduled. If an error is returned task is never run.
	Spawn(task func()) error
}

// GoExecutor runs each task in a new goroutine.
type GoExecutor struct{}

func (GoExecutor) Spawn(task func()) error {
	go task()
	return nil
}

// BoundedExecutor runs each task in a new goroutine, limiting the number of
// tasks running at once.
type BoundedExecutor struct {
	sem     *semaphore.Weighted
	running *atomic.Int64
}

func NewBoundedExecutor(limit int64) *BoundedExecutor {
	return &BoundedExecutor{
		sem:     semaphore.NewWeighted(limit),
		running: atomic.NewInt64(0),
	}
}

// Spawn returns ErrExecutorSaturated if the limit of running tasks has been
// reached.
func (e *BoundedExecutor) Spawn(task func()) error {
	if !e.sem.TryAcquire(1) {
		return ErrExecutorSaturated
	}
	e.running.Inc()
	go func() {
		defer e.sem.Release(1)
		defer e.running.Dec()

		task()
	}()
	return nil
}

// Running returns the number of running tasks.
func (e *BoundedExecutor) Running() int64 {
	return e.running.Load()
}

var (
	_ Executor = GoExecutor{}
	_ Executor = &BoundedExecutor{}
)
