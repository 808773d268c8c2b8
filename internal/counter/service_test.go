package counter

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"rrcounter/internal/delivery"
	"rrcounter/internal/identity"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []delivery.Job
	err  error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, job delivery.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return f.err
}

func (f *fakeDispatcher) snapshot() []delivery.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery.Job(nil), f.jobs...)
}

type completion struct {
	chatID int64
	final  int
}

type fakeNotifier struct{ ch chan completion }

func (f *fakeNotifier) NotifyCompletion(_ context.Context, chatID int64, final int) error {
	f.ch <- completion{chatID: chatID, final: final}
	return nil
}

func testPool(t *testing.T) *identity.Pool {
	t.Helper()
	p, err := identity.New(
		identity.Identity{Name: "A", Token: "ta"},
		identity.Identity{Name: "B", Token: "tb"},
		identity.Identity{Name: "C", Token: "tc"},
	)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func testLimits(maxCount int, def time.Duration) Limits {
	return Limits{DefaultInterval: def, MinInterval: time.Millisecond, MaxInterval: 10 * time.Second, MaxCount: maxCount}
}

func newTestService(t *testing.T, lim Limits) (*Service, *fakeDispatcher, *fakeNotifier) {
	t.Helper()
	disp := &fakeDispatcher{}
	notif := &fakeNotifier{ch: make(chan completion, 4)}
	s, err := New(testPool(t), lim, Deps{
		Dispatcher: disp,
		Notifier:   notif,
		Format:     func(n int) string { return "n=" + strconv.Itoa(n) },
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s, disp, notif
}

func waitJobs(t *testing.T, d *fakeDispatcher, n int) []delivery.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if jobs := d.snapshot(); len(jobs) >= n {
			return jobs
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d jobs (have %d)", n, len(d.snapshot()))
	return nil
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()
	disp := &fakeDispatcher{}
	if _, err := New(nil, testLimits(3, time.Second), Deps{Dispatcher: disp}); !errors.Is(err, identity.ErrEmptyPool) {
		t.Fatalf("nil pool err = %v", err)
	}
	bad := Limits{DefaultInterval: time.Second, MinInterval: 2 * time.Second, MaxInterval: time.Second, MaxCount: 3}
	if _, err := New(testPool(t), bad, Deps{Dispatcher: disp}); err == nil {
		t.Fatal("expected error for min > max")
	}
	if _, err := New(testPool(t), testLimits(3, time.Second), Deps{}); err == nil {
		t.Fatal("expected error for missing dispatcher")
	}
}

func TestLimitsValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		lim  Limits
		ok   bool
	}{
		{"valid", Limits{time.Second, 200 * time.Millisecond, time.Hour, 1000}, true},
		{"zero max count", Limits{time.Second, 200 * time.Millisecond, time.Hour, 0}, false},
		{"zero min", Limits{time.Second, 0, time.Hour, 10}, false},
		{"min above max", Limits{time.Second, 2 * time.Hour, time.Hour, 10}, false},
		{"default outside", Limits{2 * time.Hour, time.Second, time.Hour, 10}, false},
		{"min equals max", Limits{time.Second, time.Second, time.Second, 1}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.lim.Validate(); (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v, ok=%v", err, tt.ok)
			}
		})
	}
}

func TestRunToCompletionRoundRobin(t *testing.T) {
	t.Parallel()
	s, disp, notif := newTestService(t, testLimits(3, 20*time.Millisecond))

	if _, err := s.Start(7); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	select {
	case c := <-notif.ch:
		if c.chatID != 7 || c.final != 3 {
			t.Fatalf("completion = %+v, want chat 7 final 3", c)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("run did not complete")
	}

	jobs := disp.snapshot()
	want := []struct {
		seq int
		id  string
	}{{1, "A"}, {2, "B"}, {3, "C"}}
	if len(jobs) != len(want) {
		t.Fatalf("jobs = %d, want %d", len(jobs), len(want))
	}
	for i, w := range want {
		if jobs[i].Seq != w.seq || jobs[i].Identity.Name != w.id || jobs[i].ChatID != 7 {
			t.Fatalf("job %d = (%d,%s), want (%d,%s)", i, jobs[i].Seq, jobs[i].Identity.Name, w.seq, w.id)
		}
		if jobs[i].Text != "n="+strconv.Itoa(w.seq) {
			t.Fatalf("job %d text = %q", i, jobs[i].Text)
		}
	}

	snap := s.Snapshot(7)
	if snap.Running || snap.Current != 4 || snap.Scheduled {
		t.Fatalf("final snapshot = %+v", snap)
	}
	if st := s.Stats(); st.Completions != 1 || st.Ticks != 3 || st.Running != 0 {
		t.Fatalf("stats = %+v", st)
	}

	time.Sleep(60 * time.Millisecond)
	if n := len(disp.snapshot()); n != 3 {
		t.Fatalf("ticks after completion: %d jobs", n)
	}
}

func TestStartWhileRunning(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestService(t, testLimits(1000, time.Second))
	if _, err := s.Start(1); err != nil {
		t.Fatal(err)
	}
	snap, err := s.Start(1)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start() err = %v", err)
	}
	if !snap.Running || snap.Interval != time.Second {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestStartResetsCountAndCursor(t *testing.T) {
	t.Parallel()
	s, disp, _ := newTestService(t, testLimits(1000, 10*time.Millisecond))
	if _, err := s.Start(3); err != nil {
		t.Fatal(err)
	}
	waitJobs(t, disp, 2)
	s.Stop(3)
	if snap := s.Snapshot(3); snap.Current < 3 || snap.Running {
		t.Fatalf("snapshot after ticks = %+v", snap)
	}

	snap, err := s.Start(3)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Current != 1 || snap.NextIdentity != 0 || !snap.Running {
		t.Fatalf("restart snapshot = %+v, want current=1 next=0", snap)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	s, disp, _ := newTestService(t, testLimits(1000, 10*time.Millisecond))
	if _, err := s.Start(5); err != nil {
		t.Fatal(err)
	}
	waitJobs(t, disp, 1)

	first := s.Stop(5)
	second := s.Stop(5)
	if first.Running || second.Running || first.Scheduled || second.Scheduled {
		t.Fatalf("stop snapshots = %+v / %+v", first, second)
	}
	n := len(disp.snapshot())
	time.Sleep(50 * time.Millisecond)
	if got := len(disp.snapshot()); got != n {
		t.Fatalf("ticks after stop: %d -> %d", n, got)
	}

	// never-started chat
	if snap := s.Stop(99); snap.Running {
		t.Fatalf("stop on idle chat = %+v", snap)
	}
}

func TestSetIntervalValidation(t *testing.T) {
	t.Parallel()
	lim := Limits{DefaultInterval: time.Second, MinInterval: 200 * time.Millisecond, MaxInterval: time.Hour, MaxCount: 10}
	s, _, _ := newTestService(t, lim)

	valid := []struct {
		raw  string
		want time.Duration
	}{
		{"2", 2 * time.Second},
		{"0.5", 500 * time.Millisecond},
		{" 0.2 ", 200 * time.Millisecond},
		{"3600", time.Hour},
		{"1,5", 1500 * time.Millisecond},
	}
	for _, v := range valid {
		got, err := s.SetInterval(11, v.raw)
		if err != nil || got != v.want {
			t.Fatalf("SetInterval(%q) = %v, %v; want %v", v.raw, got, err, v.want)
		}
		if s.Interval(11) != v.want {
			t.Fatalf("Interval after %q = %v", v.raw, s.Interval(11))
		}
	}

	before := s.Interval(11)
	for _, raw := range []string{"", "abc", "0", "-1", "0.1", "3601", "NaN", "Inf", "1e300"} {
		_, err := s.SetInterval(11, raw)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("SetInterval(%q) err = %v, want *ValidationError", raw, err)
		}
		if ve.Min != lim.MinInterval || ve.Max != lim.MaxInterval {
			t.Fatalf("ValidationError bounds = %v..%v", ve.Min, ve.Max)
		}
		if s.Interval(11) != before {
			t.Fatalf("interval changed after invalid %q", raw)
		}
	}

	if got, err := s.SetIntervalSeconds(11, 0.75); err != nil || got != 750*time.Millisecond {
		t.Fatalf("SetIntervalSeconds(0.75) = %v, %v", got, err)
	}
	if _, err := s.SetIntervalSeconds(11, -2); err == nil {
		t.Fatal("SetIntervalSeconds(-2) should fail")
	}
}

func TestSetIntervalOnIdleChatDoesNotSchedule(t *testing.T) {
	t.Parallel()
	s, disp, _ := newTestService(t, testLimits(10, time.Second))
	if _, err := s.SetInterval(42, "0.01"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.every(42); ok {
		t.Fatal("reschedule on a never-started chat created a timer")
	}
	time.Sleep(30 * time.Millisecond)
	if n := len(disp.snapshot()); n != 0 {
		t.Fatalf("idle chat emitted %d ticks", n)
	}
	if snap := s.Snapshot(42); snap.Running || snap.Interval != 10*time.Millisecond {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestRescheduleKeepsPosition(t *testing.T) {
	t.Parallel()
	s, disp, _ := newTestService(t, testLimits(1000, 200*time.Millisecond))
	if _, err := s.Start(8); err != nil {
		t.Fatal(err)
	}
	waitJobs(t, disp, 2)

	if _, err := s.SetInterval(8, "5"); err != nil {
		t.Fatal(err)
	}
	if every, ok := s.every(8); !ok || every != 5*time.Second {
		t.Fatalf("timer period = %v (ok=%v), want 5s", every, ok)
	}

	// The replacement timer fires once immediately and continues the sequence.
	jobs := waitJobs(t, disp, 3)
	if jobs[2].Seq != 3 || jobs[2].Identity.Name != "C" {
		t.Fatalf("third tick = (%d,%s), want (3,C)", jobs[2].Seq, jobs[2].Identity.Name)
	}
	time.Sleep(300 * time.Millisecond)
	if n := len(disp.snapshot()); n != 3 {
		t.Fatalf("ticks after reschedule = %d, want 3", n)
	}
	snap := s.Snapshot(8)
	if !snap.Running || snap.Current != 4 || snap.NextIdentity != 0 || snap.Interval != 5*time.Second {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestDispatchFailureDoesNotStopRun(t *testing.T) {
	t.Parallel()
	s, disp, notif := newTestService(t, testLimits(2, 10*time.Millisecond))
	disp.err = errors.New("queue full")
	if _, err := s.Start(4); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-notif.ch:
		if c.final != 2 {
			t.Fatalf("final = %d", c.final)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("run did not complete")
	}
	if st := s.Stats(); st.DispatchErr != 2 {
		t.Fatalf("dispatch errors = %d, want 2", st.DispatchErr)
	}
}

func TestApplyLimits(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestService(t, testLimits(10, time.Second))
	if err := s.ApplyLimits(Limits{MaxCount: 0}); err == nil {
		t.Fatal("ApplyLimits accepted invalid limits")
	}
	next := Limits{DefaultInterval: 2 * time.Second, MinInterval: time.Second, MaxInterval: time.Minute, MaxCount: 50}
	if err := s.ApplyLimits(next); err != nil {
		t.Fatal(err)
	}
	if s.Limits() != next {
		t.Fatalf("Limits() = %+v", s.Limits())
	}
	if got := s.Interval(1234); got != 2*time.Second {
		t.Fatalf("new chat interval = %v, want new default", got)
	}
	if _, err := s.SetInterval(1234, "0.5"); err == nil {
		t.Fatal("0.5s should be below the new minimum")
	}
}

func TestDistinctChatsRunIndependently(t *testing.T) {
	t.Parallel()
	s, disp, notif := newTestService(t, testLimits(3, 5*time.Millisecond))
	for _, id := range []int64{1, 2, 3} {
		if _, err := s.Start(id); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case <-notif.ch:
		case <-time.After(3 * time.Second):
			t.Fatal("runs did not complete")
		}
	}
	perChat := map[int64][]delivery.Job{}
	for _, j := range disp.snapshot() {
		perChat[j.ChatID] = append(perChat[j.ChatID], j)
	}
	for id, jobs := range perChat {
		if len(jobs) != 3 {
			t.Fatalf("chat %d got %d jobs", id, len(jobs))
		}
		for i, j := range jobs {
			if j.Seq != i+1 || j.Identity.Name != []string{"A", "B", "C"}[i] {
				t.Fatalf("chat %d job %d = (%d,%s)", id, i, j.Seq, j.Identity.Name)
			}
		}
	}
}

func TestSnapshotNamesNextSender(t *testing.T) {
	t.Parallel()
	s, disp, _ := newTestService(t, testLimits(1000, time.Hour))
	if got := s.IdentityNames(); len(got) != 3 || got[0] != "A" || got[2] != "C" {
		t.Fatalf("IdentityNames() = %v", got)
	}
	if snap := s.Snapshot(11); snap.NextSender != "A" {
		t.Fatalf("idle chat next sender = %q, want A", snap.NextSender)
	}

	// the first tick fires at once and goes to A
	if _, err := s.Start(11); err != nil {
		t.Fatal(err)
	}
	waitJobs(t, disp, 1)
	if snap := s.Snapshot(11); snap.NextSender != "B" || snap.NextIdentity != 1 {
		t.Fatalf("snapshot after first tick = %+v", snap)
	}
}
