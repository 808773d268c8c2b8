package control

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"rrcounter/internal/counter"
	"rrcounter/internal/delivery"
	"rrcounter/internal/identity"
	"rrcounter/internal/storage"
	kit "rrcounter/internal/transport"
	logx "rrcounter/pkg/logx"
)

type sent struct {
	to     kit.ChatTarget
	text   string
	markup any
}

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sent
	answers []string
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var markup any
	if opt != nil {
		markup = opt.ReplyMarkupAdapter
	}
	f.sent = append(f.sent, sent{to: to, text: text, markup: markup})
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, id, text string) error {
	f.mu.Lock()
	f.answers = append(f.answers, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.text)
	}
	return out
}

func (f *fakeAdapter) last() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sent{}
	}
	return f.sent[len(f.sent)-1]
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(ctx context.Context, job delivery.Job) error { return nil }

type memAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (m *memAudit) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

type harness struct {
	ad      *fakeAdapter
	svc     *counter.Service
	audit   *memAudit
	bot     *Bot
	updates chan kit.Update
}

func newHarness(t *testing.T, owners []int64) *harness {
	t.Helper()
	pool, err := identity.New(identity.Identity{Name: "bot1", Token: "a"}, identity.Identity{Name: "bot2", Token: "b"})
	if err != nil {
		t.Fatal(err)
	}
	lim := counter.Limits{
		DefaultInterval: time.Hour,
		MinInterval:     200 * time.Millisecond,
		MaxInterval:     2 * time.Hour,
		MaxCount:        1000,
	}
	svc, err := counter.New(pool, lim, counter.Deps{Dispatcher: nopDispatcher{}, Logger: logx.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{ad: &fakeAdapter{}, svc: svc, audit: &memAudit{}, updates: make(chan kit.Update, 8)}
	h.bot = New(Config{Owners: owners, Workers: 1}, h.ad, svc, h.audit, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.bot.Run(ctx, h.updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		svc.Close()
	})
	return h
}

func (h *harness) message(from int64, text string) {
	h.updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 42, FromID: from, Text: text}}
}

func (h *harness) click(from int64, data string) {
	h.updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb-" + data, ChatID: 42, FromID: from, Data: data}}
}

// waitSent waits until n replies were sent and returns the last one.
func (h *harness) waitSent(t *testing.T, n int) sent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(h.ad.texts()) >= n {
			return h.ad.last()
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("replies = %q, want %d", h.ad.texts(), n)
	return sent{}
}

func TestControlsPanel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.message(7, "/start")
	got := h.waitSent(t, 1)
	if got.to.ChatID != 42 {
		t.Fatalf("reply chat = %d", got.to.ChatID)
	}
	if got.markup == nil {
		t.Fatal("controls reply has no keyboard")
	}
	if !strings.Contains(got.text, "2 بات نوبتی") || !strings.Contains(got.text, "1 تا 1000") {
		t.Fatalf("controls text = %q", got.text)
	}

	h.message(7, "/help@rr_counter_bot")
	if got := h.waitSent(t, 2); got.markup == nil {
		t.Fatal("/help reply has no keyboard")
	}
}

func TestUnknownCommandsAndPlainTextIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.message(7, "/nope")
	h.message(7, "hello")
	h.message(7, "/status")
	got := h.waitSent(t, 1)
	if !strings.Contains(got.text, "وضعیت شمارنده: متوقف") || !strings.Contains(got.text, "بات بعدی: bot1 (1 از 2)") {
		t.Fatalf("status text = %q", got.text)
	}
	time.Sleep(30 * time.Millisecond)
	if n := len(h.ad.texts()); n != 1 {
		t.Fatalf("replies = %d, want 1", n)
	}
}

func TestIntervalCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.message(7, "/interval")
	if got := h.waitSent(t, 1); got.text != currentIntervalText(time.Hour) {
		t.Fatalf("current interval text = %q", got.text)
	}

	h.message(7, "/interval abc")
	if got := h.waitSent(t, 2); got.text != invalidIntervalText(h.svc.Limits()) {
		t.Fatalf("invalid interval text = %q", got.text)
	}
	if h.svc.Interval(42) != time.Hour {
		t.Fatalf("interval changed on bad input: %s", h.svc.Interval(42))
	}

	h.message(7, "/interval 0.5")
	if got := h.waitSent(t, 3); got.text != intervalSetText(500*time.Millisecond) {
		t.Fatalf("set interval text = %q", got.text)
	}
	if h.svc.Interval(42) != 500*time.Millisecond {
		t.Fatalf("interval = %s", h.svc.Interval(42))
	}

	h.message(7, "/interval 2 ثانیه")
	if got := h.waitSent(t, 4); got.text != intervalSetText(2*time.Second) {
		t.Fatalf("interval with trailing word = %q", got.text)
	}
	if h.svc.Interval(42) != 2*time.Second {
		t.Fatalf("interval = %s", h.svc.Interval(42))
	}
	if got := h.audit.actions(); len(got) != 3 || got[0] != storage.ActionInterval {
		t.Fatalf("audit = %v", got)
	}
}

func TestStartStopButtons(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.click(7, cbStart)
	if got := h.waitSent(t, 1); got.text != startedText(time.Hour, 2) {
		t.Fatalf("started text = %q", got.text)
	}
	if !h.svc.Snapshot(42).Running {
		t.Fatal("counter not running after start")
	}

	h.click(7, cbStart)
	if got := h.waitSent(t, 2); got.text != txtAlreadyRunning {
		t.Fatalf("second start text = %q", got.text)
	}

	h.click(7, cbStop)
	if got := h.waitSent(t, 3); got.text != txtStopped {
		t.Fatalf("stop text = %q", got.text)
	}
	if h.svc.Snapshot(42).Running {
		t.Fatal("counter still running after stop")
	}

	h.click(7, cbHelpInterval)
	if got := h.waitSent(t, 4); got.text != intervalHelpText(h.svc.Limits()) {
		t.Fatalf("interval help text = %q", got.text)
	}

	h.ad.mu.Lock()
	answers := len(h.ad.answers)
	h.ad.mu.Unlock()
	if answers != 4 {
		t.Fatalf("callback answers = %d, want 4", answers)
	}
	if got := h.audit.actions(); len(got) != 2 || got[0] != storage.ActionStart || got[1] != storage.ActionStop {
		t.Fatalf("audit = %v", got)
	}
}

func TestOwnersAllowlist(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []int64{1})

	h.message(2, "/status")
	if got := h.waitSent(t, 1); got.text != txtUnauthorized {
		t.Fatalf("stranger reply = %q", got.text)
	}
	h.click(2, cbStart)
	time.Sleep(30 * time.Millisecond)
	if h.svc.Snapshot(42).Running {
		t.Fatal("stranger started the counter")
	}

	h.bot.SetOwners(nil)
	h.message(2, "/status")
	if got := h.waitSent(t, 2); !strings.Contains(got.text, "وضعیت شمارنده") {
		t.Fatalf("status after clearing owners = %q", got.text)
	}
}

func TestNotifyCompletion(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	audit := &memAudit{}
	b := New(Config{}, ad, nil, audit, logx.Nop())

	if err := b.NotifyCompletion(context.Background(), 99, 1000); err != nil {
		t.Fatalf("NotifyCompletion() = %v", err)
	}
	got := ad.last()
	if got.to.ChatID != 99 || got.text != finishedText(1000) {
		t.Fatalf("notice = %+v", got)
	}
	if a := audit.actions(); len(a) != 1 || a[0] != storage.ActionFinish {
		t.Fatalf("audit = %v", a)
	}
}

func TestCommandsMenu(t *testing.T) {
	t.Parallel()
	b := New(Config{}, &fakeAdapter{}, nil, nil, logx.Nop())
	var names []string
	for _, c := range b.Commands() {
		names = append(names, c.Command)
	}
	if strings.Join(names, ",") != "start,help,interval,status" {
		t.Fatalf("menu = %v", names)
	}
}

func TestControlsKeyboardMatchesCallbacks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	kb := controlsKeyboard()
	if err := kb.Err(); err != nil {
		t.Fatalf("keyboard: %v", err)
	}
	for _, row := range kb.Markup().InlineKeyboard {
		for _, btn := range row {
			if _, ok := h.bot.callbacks[btn.Data]; !ok {
				t.Errorf("button %q has no callback handler", btn.Data)
			}
		}
	}
}
