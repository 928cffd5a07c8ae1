package session

import (
	"sync"
	"time"

	"github.com/jammwork/jammwork-sub000/internal/clock"
)

// Scheduler runs delayed tasks keyed by id. Scheduling a key again
// replaces its pending task.
type Scheduler struct {
	clk clock.Clock

	mu      sync.Mutex
	tasks   map[string]*scheduledTask
	stopped bool
}

type scheduledTask struct {
	timer clock.Timer
}

// NewScheduler creates a scheduler driven by clk.
func NewScheduler(clk clock.Clock) *Scheduler {
	return &Scheduler{
		clk:   clk,
		tasks: make(map[string]*scheduledTask),
	}
}

// Schedule runs fn after d unless Cancel(key) is called first.
func (s *Scheduler) Schedule(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if old, ok := s.tasks[key]; ok {
		old.timer.Stop()
	}

	task := &scheduledTask{}
	task.timer = s.clk.AfterFunc(d, func() {
		s.mu.Lock()
		current, ok := s.tasks[key]
		if !ok || current != task {
			s.mu.Unlock()
			return
		}
		delete(s.tasks, key)
		s.mu.Unlock()

		fn()
	})
	s.tasks[key] = task
}

// Cancel stops the pending task for key. It reports whether one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[key]
	if !ok {
		return false
	}
	task.timer.Stop()
	delete(s.tasks, key)
	return true
}

// Pending reports whether a task is scheduled for key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Stop cancels every pending task and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for key, task := range s.tasks {
		task.timer.Stop()
		delete(s.tasks, key)
	}
}
