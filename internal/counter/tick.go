package counter

import (
	"context"
	"time"

	"rrcounter/internal/delivery"
	"rrcounter/internal/eventbus"
	logx "rrcounter/pkg/logx"
)

// tick runs on every timer fire. State is mutated under the chat lock; the
// hand-off to the delivery pipeline and the completion notice happen after it
// is released.
func (s *Service) tick(chatID int64, t *Timer) {
	st := s.state(chatID)
	st.mu.Lock()

	// A fire racing a stop or a reschedule is expected; drop it.
	if !st.running || !s.sched.Owns(chatID, t) {
		st.mu.Unlock()
		return
	}

	if st.current > s.Limits().MaxCount {
		st.running = false
		s.sched.Stop(chatID)
		final := st.current - 1
		st.mu.Unlock()
		s.finish(chatID, final)
		return
	}

	n := st.current
	st.current++
	id := s.pool.Next(&st.nextIdentity)
	st.mu.Unlock()

	s.ticks.Add(1)
	if s.obs != nil {
		s.obs.TickEmitted()
	}

	job := delivery.Job{Identity: id, ChatID: chatID, Seq: n, Text: s.format(n)}
	if err := s.dispatch.Dispatch(context.Background(), job); err != nil {
		s.dispatchErr.Add(1)
		s.log.Warn("tick dispatch failed", logx.Int64("chat_id", chatID), logx.Int("n", n), logx.String("identity", id.Name), logx.Err(err))
	}
}

func (s *Service) finish(chatID int64, final int) {
	s.completions.Add(1)
	s.observeRunning()
	if s.obs != nil {
		s.obs.RunFinished()
	}
	s.log.Info("counter finished", logx.Int64("chat_id", chatID), logx.Int("final", final))
	eventbus.Publish(s.bus, EventFinished, Event{ChatID: chatID, Count: final})

	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := s.notifier.NotifyCompletion(ctx, chatID, final); err != nil {
		s.log.Warn("completion notice failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// every returns the live timer period for chatID, if any.
func (s *Service) every(chatID int64) (time.Duration, bool) {
	return s.sched.Active(chatID)
}
