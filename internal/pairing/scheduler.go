package pairing

import (
	"sync"
	"time"
)

// Scheduler owns a set of named repeating timers. Sessions juggle several
// cadences at once (countdown, resync, status poll); naming them and
// funneling teardown through CancelAll keeps a closed session from leaking
// a ticker into the next one.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]chan struct{}
}

func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[string]chan struct{})}
}

// Every runs fn on the given interval until the timer is cancelled.
// Scheduling a name that is already running replaces the old timer.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) {
	stop := make(chan struct{})

	s.mu.Lock()
	if old, ok := s.timers[name]; ok {
		close(old)
	}
	s.timers[name] = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stop, ok := s.timers[name]; ok {
		close(stop)
		delete(s.timers, name)
	}
}

// CancelAll stops every timer. Safe to call more than once.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, stop := range s.timers {
		close(stop)
		delete(s.timers, name)
	}
}

// Active reports whether a timer with this name is currently scheduled.
func (s *Scheduler) Active(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[name]
	return ok
}
