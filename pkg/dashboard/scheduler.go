// Package dashboard holds the session state of a threat dashboard skin: the
// severity reducer, the bounded live feed, map markers, the detail view and the
// rotating analysis ticker.
//
// Cosmetic timers (row highlight, marker expiry, ticker fade) are one-shot tasks
// owned by the component that scheduled them and cancelled on teardown.
package dashboard

import (
	"sync"
	"time"
)

// Task is a pending one-shot callback.
type Task struct {
	timer *time.Timer
	owner *Scheduler
	id    uint64
}

// Cancel stops the task. It reports whether the callback was prevented from running.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	stopped := t.timer.Stop()
	t.owner.forget(t.id)
	return stopped
}

// Scheduler owns a set of one-shot tasks.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[uint64]*Task
	nextID  uint64
	stopped bool
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[uint64]*Task)}
}

// After runs fn once after d. It returns nil when the scheduler is stopped.
func (s *Scheduler) After(d time.Duration, fn func()) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}

	s.nextID++
	t := &Task{owner: s, id: s.nextID}
	t.timer = time.AfterFunc(d, func() {
		if !s.forget(t.id) {
			return
		}
		fn()
	})
	s.tasks[t.id] = t
	return t
}

// forget removes a task and reports whether it was still pending.
func (s *Scheduler) forget(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return false
	}
	delete(s.tasks, id)
	return true
}

// Pending returns the number of tasks that have not fired or been cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every pending task and rejects new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, id)
	}
}
