// Package counter runs one timed 1..N counting sequence per chat and hands
// every tick to a sender identity chosen round-robin.
package counter

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"rrcounter/internal/eventbus"
	"rrcounter/internal/identity"
	logx "rrcounter/pkg/logx"
)

const notifyTimeout = 10 * time.Second

type Service struct {
	pool   *identity.Pool
	limits atomic.Pointer[Limits]

	reg   *registry
	sched *Scheduler

	dispatch Dispatcher
	notifier Notifier
	obs      Observer
	format   Formatter
	log      logx.Logger
	bus      eventbus.Bus

	started     atomic.Uint64
	ticks       atomic.Uint64
	completions atomic.Uint64
	dispatchErr atomic.Uint64
}

func New(pool *identity.Pool, lim Limits, deps Deps) (*Service, error) {
	if pool == nil || pool.Len() == 0 {
		return nil, identity.ErrEmptyPool
	}
	if err := lim.Validate(); err != nil {
		return nil, err
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("counter: dispatcher is required")
	}
	if deps.Logger.IsZero() {
		deps.Logger = logx.Nop()
	}
	if deps.Format == nil {
		deps.Format = strconv.Itoa
	}
	s := &Service{
		pool:     pool,
		reg:      newRegistry(),
		dispatch: deps.Dispatcher,
		notifier: deps.Notifier,
		obs:      deps.Observer,
		format:   deps.Format,
		log:      deps.Logger,
		bus:      deps.Bus,
	}
	s.limits.Store(&lim)
	s.sched = NewScheduler(s.tick)
	return s, nil
}

func (s *Service) Limits() Limits { return *s.limits.Load() }

// ApplyLimits swaps bounds at runtime. Existing chat intervals are kept as-is;
// the new bounds apply to future SetInterval calls and ticks.
func (s *Service) ApplyLimits(lim Limits) error {
	if err := lim.Validate(); err != nil {
		return err
	}
	s.limits.Store(&lim)
	return nil
}

func (s *Service) IdentityCount() int { return s.pool.Len() }

// IdentityNames lists the sender identities in rotation order.
func (s *Service) IdentityNames() []string { return s.pool.Names() }

func (s *Service) state(chatID int64) *chatState {
	return s.reg.get(chatID, s.Limits().DefaultInterval)
}

// Start begins a fresh run (count 1, first identity) at the chat's interval.
// It returns ErrAlreadyRunning, with the current snapshot, if a run is active.
func (s *Service) Start(chatID int64) (Snapshot, error) {
	st := s.state(chatID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.running {
		return s.snapshotLocked(chatID, st), ErrAlreadyRunning
	}
	st.running = true
	st.current = 1
	st.nextIdentity = 0
	s.sched.Start(chatID, st.interval)

	s.started.Add(1)
	s.observeRunning()
	if s.obs != nil {
		s.obs.RunStarted()
	}
	s.log.Info("counter started", logx.Int64("chat_id", chatID), logx.Duration("interval", st.interval))
	eventbus.Publish(s.bus, EventStarted, Event{ChatID: chatID, Interval: st.interval})
	return s.snapshotLocked(chatID, st), nil
}

// Stop ends the chat's run. Calling it on an idle chat is a no-op.
func (s *Service) Stop(chatID int64) Snapshot {
	st := s.state(chatID)
	st.mu.Lock()
	defer st.mu.Unlock()

	wasRunning := st.running
	st.running = false
	hadTimer := s.sched.Stop(chatID)
	if wasRunning || hadTimer {
		s.observeRunning()
		s.log.Info("counter stopped", logx.Int64("chat_id", chatID), logx.Int("next", st.current))
		eventbus.Publish(s.bus, EventStopped, Event{ChatID: chatID, Count: st.current - 1})
	}
	return s.snapshotLocked(chatID, st)
}

// SetInterval parses raw as seconds (e.g. "2", "0.5") and applies it.
func (s *Service) SetInterval(chatID int64, raw string) (time.Duration, error) {
	d, err := ParseInterval(raw, s.Limits())
	if err != nil {
		return s.Interval(chatID), err
	}
	s.setInterval(chatID, d)
	return d, nil
}

// SetIntervalSeconds is SetInterval for numeric input.
func (s *Service) SetIntervalSeconds(chatID int64, secs float64) (time.Duration, error) {
	d, err := intervalFromSeconds(strconv.FormatFloat(secs, 'f', -1, 64), secs, s.Limits())
	if err != nil {
		return s.Interval(chatID), err
	}
	s.setInterval(chatID, d)
	return d, nil
}

// setInterval stores d and, if the chat has a live timer, replaces it. Count,
// running flag and identity cursor are untouched.
func (s *Service) setInterval(chatID int64, d time.Duration) {
	st := s.state(chatID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.interval = d
	rescheduled := s.sched.Reschedule(chatID, d)
	s.log.Info("interval set", logx.Int64("chat_id", chatID), logx.Duration("interval", d), logx.Bool("rescheduled", rescheduled))
	eventbus.Publish(s.bus, EventInterval, Event{ChatID: chatID, Interval: d})
}

// Interval returns the chat's current interval (default for unseen chats).
func (s *Service) Interval(chatID int64) time.Duration {
	st := s.state(chatID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.interval
}

func (s *Service) Snapshot(chatID int64) Snapshot {
	st := s.state(chatID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.snapshotLocked(chatID, st)
}

func (s *Service) snapshotLocked(chatID int64, st *chatState) Snapshot {
	snap := st.snapshot(chatID)
	snap.NextSender = s.pool.At(st.nextIdentity).Name
	_, snap.Scheduled = s.every(chatID)
	return snap
}

func (s *Service) Stats() Stats {
	return Stats{
		Chats:       s.reg.len(),
		Running:     s.sched.Len(),
		Started:     s.started.Load(),
		Ticks:       s.ticks.Load(),
		Completions: s.completions.Load(),
		DispatchErr: s.dispatchErr.Load(),
	}
}

// Close cancels every timer. Chat states are left as they are.
func (s *Service) Close() {
	if n := s.sched.StopAll(); n > 0 {
		s.log.Info("timers cancelled", logx.Int("count", n))
	}
	s.observeRunning()
}

func (s *Service) observeRunning() {
	if s.obs != nil {
		s.obs.SetRunning(s.sched.Len())
	}
}

// ParseInterval parses seconds and checks them against lim.
func ParseInterval(raw string, lim Limits) (time.Duration, error) {
	in := strings.TrimSpace(raw)
	v, err := strconv.ParseFloat(strings.ReplaceAll(in, ",", "."), 64)
	if err != nil {
		return 0, &ValidationError{Input: raw, Reason: "not a number", Min: lim.MinInterval, Max: lim.MaxInterval}
	}
	return intervalFromSeconds(raw, v, lim)
}

func intervalFromSeconds(raw string, v float64, lim Limits) (time.Duration, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ValidationError{Input: raw, Reason: "not a finite number", Min: lim.MinInterval, Max: lim.MaxInterval}
	}
	if v <= 0 || v > lim.MaxInterval.Seconds() {
		return 0, &ValidationError{Input: raw, Reason: "out of range", Min: lim.MinInterval, Max: lim.MaxInterval}
	}
	d := time.Duration(math.Round(v * float64(time.Second)))
	if d < lim.MinInterval || d > lim.MaxInterval {
		return 0, &ValidationError{Input: raw, Reason: "out of range", Min: lim.MinInterval, Max: lim.MaxInterval}
	}
	return d, nil
}
