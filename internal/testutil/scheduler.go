package testutil

import "sync"

// ManualScheduler queues tasks until the test runs them. It implements
// router.Scheduler and gives tests full control over when draining happens.
type ManualScheduler struct {
	mu    sync.Mutex
	tasks []func()
}

// Schedule appends a task.
func (s *ManualScheduler) Schedule(task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
}

// Pending returns the number of queued tasks.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// RunNext runs the oldest task. It returns false if none was queued.
func (s *ManualScheduler) RunNext() bool {
	s.mu.Lock()
	if len(s.tasks) == 0 {
		s.mu.Unlock()
		return false
	}
	task := s.tasks[0]
	s.tasks[0] = nil
	s.tasks = s.tasks[1:]
	s.mu.Unlock()

	task()
	return true
}

// RunAll runs tasks until none are left, including tasks scheduled while
// running. It returns how many ran.
func (s *ManualScheduler) RunAll() int {
	n := 0
	for s.RunNext() {
		n++
	}
	return n
}
