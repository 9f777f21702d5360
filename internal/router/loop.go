package router

import (
	"context"
	"time"

	"github.com/roach88/signalbox/internal/loggers"
)

const idlePollInterval = 5 * time.Millisecond

// Scheduler runs tasks asynchronously, one at a time, in the order they
// were scheduled. The router hands it one drain step per event so other
// scheduled work interleaves between events.
type Scheduler interface {
	Schedule(task func())
}

// Loop is a single-goroutine task scheduler.
//
// Schedule is safe from any goroutine. Run, RunPending and RunUntilIdle
// execute tasks and must not be called concurrently with each other: all
// tasks run on one goroutine, which is what gives the router its
// single-writer guarantee.
type Loop struct {
	tasks *queue[func()]
	logs  *loggers.Loggers
}

// NewLoop creates an empty loop.
func NewLoop(logs *loggers.Loggers) *Loop {
	return &Loop{
		tasks: newQueue[func()](),
		logs:  logs,
	}
}

// Schedule appends a task. Tasks scheduled after Stop are dropped.
func (l *Loop) Schedule(task func()) {
	if !l.tasks.Enqueue(task) {
		l.logs.Warn("loop stopped, task dropped")
	}
}

// Len returns the number of pending tasks.
func (l *Loop) Len() int {
	return l.tasks.Len()
}

// Run executes tasks until ctx is cancelled or Stop is called.
//
// A panicking task is logged and the loop continues with the next one.
func (l *Loop) Run(ctx context.Context) error {
	l.logs.Debug("loop starting")

	for {
		if task, ok := l.tasks.TryDequeue(); ok {
			l.runTask(task)
			continue
		}

		select {
		case <-ctx.Done():
			l.logs.Debug("loop stopping: context cancelled")
			l.tasks.Close()
			return ctx.Err()

		case <-l.tasks.Wait():
			// The signal channel is closed by Stop; an empty queue then
			// means there is nothing left to run.
			if l.tasks.Closed() && l.tasks.Len() == 0 {
				l.logs.Debug("loop stopping: stopped")
				return nil
			}
		}
	}
}

// RunPending executes tasks on the calling goroutine until none are left,
// including tasks scheduled by the tasks themselves. It returns how many
// ran.
func (l *Loop) RunPending() int {
	n := 0
	for {
		task, ok := l.tasks.TryDequeue()
		if !ok {
			return n
		}
		l.runTask(task)
		n++
	}
}

// RunUntilIdle runs tasks until no task is pending and busy reports false.
// busy lets callers wait for work that will schedule tasks later, such as
// timers in flight. busy is polled, so it need not wake the loop.
func (l *Loop) RunUntilIdle(ctx context.Context, busy func() bool) error {
	poll := time.NewTicker(idlePollInterval)
	defer poll.Stop()

	for {
		l.RunPending()
		if (busy == nil || !busy()) && l.tasks.Len() == 0 {
			return nil
		}
		if l.tasks.Len() > 0 {
			continue
		}
		if l.tasks.Closed() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.tasks.Wait():
		case <-poll.C:
		}
	}
}

// Stop closes the loop. Run returns once pending tasks are drained.
func (l *Loop) Stop() {
	l.tasks.Close()
}

func (l *Loop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logs.Error("task panicked", "panic", r)
		}
	}()
	task()
}
