package counter

import (
	"sync"
	"time"
)

// Timer is a repeating timer: it fires once immediately, then every period
// until cancelled. A cancelled Timer never starts another fire.
type Timer struct {
	every time.Duration
	stop  chan struct{}
	once  sync.Once
}

func newTimer(every time.Duration) *Timer {
	return &Timer{every: every, stop: make(chan struct{})}
}

func (t *Timer) Every() time.Duration { return t.every }

// Cancel is non-blocking and idempotent. A fire already in progress completes.
func (t *Timer) Cancel() { t.once.Do(func() { close(t.stop) }) }

func (t *Timer) cancelled() bool {
	select {
	case <-t.stop:
		return true
	default:
		return false
	}
}

func (t *Timer) run(fire func()) {
	if t.cancelled() {
		return
	}
	fire()

	tk := time.NewTicker(t.every)
	defer tk.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-tk.C:
			if t.cancelled() {
				return
			}
			fire()
		}
	}
}

// Scheduler maps each chat to at most one live Timer.
//
// Lock order: a chat's state lock may be held while calling into the
// Scheduler, never the other way around.
type Scheduler struct {
	mu     sync.Mutex
	timers map[int64]*Timer
	fire   func(chatID int64, t *Timer)
}

// NewScheduler returns a Scheduler whose timers invoke fire with the chat id
// and the firing Timer, so stale fires can be detected with Owns.
func NewScheduler(fire func(chatID int64, t *Timer)) *Scheduler {
	return &Scheduler{timers: map[int64]*Timer{}, fire: fire}
}

// Start cancels any timer registered for chatID and installs a new one that
// fires immediately and then every interval.
func (s *Scheduler) Start(chatID int64, every time.Duration) *Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(chatID, every)
}

func (s *Scheduler) startLocked(chatID int64, every time.Duration) *Timer {
	if old := s.timers[chatID]; old != nil {
		old.Cancel()
	}
	t := newTimer(every)
	s.timers[chatID] = t
	go t.run(func() { s.fire(chatID, t) })
	return t
}

// Stop cancels the chat's timer. It reports whether one existed.
func (s *Scheduler) Stop(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[chatID]
	if !ok {
		return false
	}
	t.Cancel()
	delete(s.timers, chatID)
	return true
}

// Reschedule replaces an existing timer with one at the new interval. The new
// timer fires immediately. With no timer registered it does nothing and
// returns false.
func (s *Scheduler) Reschedule(chatID int64, every time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[chatID]; !ok {
		return false
	}
	s.startLocked(chatID, every)
	return true
}

// Owns reports whether t is the live timer for chatID.
func (s *Scheduler) Owns(chatID int64, t *Timer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[chatID] == t
}

func (s *Scheduler) Active(chatID int64) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[chatID]
	if !ok {
		return 0, false
	}
	return t.every, true
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// StopAll cancels every timer (shutdown).
func (s *Scheduler) StopAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.timers)
	for id, t := range s.timers {
		t.Cancel()
		delete(s.timers, id)
	}
	return n
}
