// Package report posts a periodic status summary of the counter and the
// delivery pipeline on a cron schedule.
package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"rrcounter/internal/counter"
	"rrcounter/internal/delivery"
	kit "rrcounter/internal/transport"
	logx "rrcounter/pkg/logx"
	"rrcounter/pkg/tgui"
)

type Config struct {
	Enabled  bool
	Schedule string
	// ChatID receives the report. Zero means log only.
	ChatID   int64
	Timezone string
}

// Sources supplies the numbers for one report. Any func may be nil.
// Identities lists sender names in rotation order.
type Sources struct {
	Counter    func() counter.Stats
	Delivery   func() delivery.DispatcherStats
	Identities func() []string
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether expr is a schedule the service accepts.
func ValidateSchedule(expr string) error {
	_, err := parser.Parse(strings.TrimSpace(expr))
	return err
}

type Service struct {
	log     logx.Logger
	sender  kit.Adapter
	src     Sources
	started time.Time

	// applyMu serializes Apply; mu guards c only and is never held while
	// waiting for a running job.
	applyMu sync.Mutex
	mu      sync.Mutex
	c       *cron.Cron
	stopped bool
	chatID  atomic.Int64
}

func New(src Sources, sender kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, sender: sender, src: src, started: time.Now()}
}

// Apply (re)starts the cron with cfg. A disabled config just stops it. On
// error the previous schedule keeps running.
func (s *Service) Apply(cfg Config) error {
	cfg.Schedule = strings.TrimSpace(cfg.Schedule)
	var (
		sched cron.Schedule
		loc   = time.Local
		err   error
	)
	if cfg.Enabled {
		sched, err = parser.Parse(cfg.Schedule)
		if err != nil {
			return fmt.Errorf("report schedule %q: %w", cfg.Schedule, err)
		}
		if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
			if loc, err = time.LoadLocation(tz); err != nil {
				return fmt.Errorf("report timezone %q: %w", tz, err)
			}
		}
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	old := s.c
	s.c = nil
	s.mu.Unlock()
	if old != nil {
		// waits for a report in flight
		<-old.Stop().Done()
	}
	s.chatID.Store(cfg.ChatID)
	if !cfg.Enabled {
		return nil
	}
	c := cron.New(cron.WithParser(parser), cron.WithLocation(loc))
	c.Schedule(sched, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("report failed", logx.Err(err))
		}
	}))
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.c = c
	c.Start()
	s.log.Info("report scheduled", logx.String("schedule", cfg.Schedule), logx.String("tz", loc.String()), logx.Int64("chat_id", cfg.ChatID))
	return nil
}

// Stop halts the cron and waits for a running report, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.stopped = true
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// RunOnce builds a report, logs it and posts it to the configured chat.
func (s *Service) RunOnce(ctx context.Context) error {
	chatID := s.chatID.Load()

	var cs counter.Stats
	var ds delivery.DispatcherStats
	if s.src.Counter != nil {
		cs = s.src.Counter()
	}
	if s.src.Delivery != nil {
		ds = s.src.Delivery()
	}
	s.log.Info("status report",
		logx.Int("chats", cs.Chats),
		logx.Int("running", cs.Running),
		logx.Uint64("ticks", cs.Ticks),
		logx.Uint64("completions", cs.Completions),
		logx.Int("queue", ds.QueueLen),
		logx.Uint64("sent", ds.Sent),
		logx.Uint64("failed", ds.Failed),
		logx.Uint64("dropped", ds.Dropped),
	)
	if chatID == 0 || s.sender == nil {
		return nil
	}
	var names []string
	if s.src.Identities != nil {
		names = s.src.Identities()
	}
	text := Render(cs, ds, names, time.Since(s.started))
	if _, err := s.sender.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		return fmt.Errorf("send report to %d: %w", chatID, err)
	}
	return nil
}

// Render formats a report message.
func Render(cs counter.Stats, ds delivery.DispatcherStats, senders []string, uptime time.Duration) string {
	var b strings.Builder
	b.WriteString("📊 گزارش شمارنده\n")
	fmt.Fprintf(&b, "• زمان اجرا: %s\n", uptime.Truncate(time.Second))
	fmt.Fprintf(&b, "• چت‌ها: %d (در حال اجرا: %d)\n", cs.Chats, cs.Running)
	if len(senders) > 0 {
		fmt.Fprintf(&b, "• بات‌ها: %s\n", strings.Join(senders, "، "))
	}
	fmt.Fprintf(&b, "• شروع: %d | پایان کامل: %d\n", cs.Started, cs.Completions)
	fmt.Fprintf(&b, "• تیک‌ها: %d | خطای صف: %d\n", cs.Ticks, cs.DispatchErr)
	fmt.Fprintf(&b, "• صف ارسال: %d/%d | موفق: %d | ناموفق: %d | حذف‌شده: %d", ds.QueueLen, ds.QueueCap, ds.Sent, ds.Failed, ds.Dropped)
	return tgui.Clip(b.String(), tgui.MaxMessageRunes)
}
