package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"rrcounter/internal/eventbus"
	rtsup "rrcounter/internal/runtime/supervisor"
	logx "rrcounter/pkg/logx"
)

var (
	ErrQueueFull = errors.New("delivery queue full")
	ErrStopped   = errors.New("delivery dispatcher stopped")
)

const (
	EventSent    = "delivery.sent"
	EventFailed  = "delivery.failed"
	EventDropped = "delivery.dropped"
)

// Config controls the async delivery pipeline.
type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec float64 // per identity; Telegram allows roughly one message per second per chat
	Burst      int
}

// Observer receives delivery metrics.
type Observer interface {
	ObserveDelivery(identity string, err error, took time.Duration)
	SetQueueDepth(n int)
}

// Outcome is the payload of delivery bus events.
type Outcome struct {
	ChatID   int64  `json:"chat_id"`
	Seq      int    `json:"seq"`
	Identity string `json:"identity"`
	Error    string `json:"error,omitempty"`
}

type DispatcherStats struct {
	QueueLen int
	QueueCap int
	Sent     uint64
	Failed   uint64
	Dropped  uint64
}

// Dispatcher is a queue + worker pool + per-identity rate limit. Delivery is
// at-most-once: a failed or dropped job is reported and forgotten.
//
// It is safe for concurrent use.
type Dispatcher struct {
	mu sync.Mutex

	log  logx.Logger
	bus  eventbus.Bus
	obs  Observer
	send Deliverer

	cfg      Config
	limiters map[string]*rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan Job
	sup       *rtsup.Supervisor
	stopDone  chan struct{}

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

func NewDispatcher(cfg Config, send Deliverer, log logx.Logger, bus eventbus.Bus, obs Observer) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{log: log, bus: bus, obs: obs, send: send, limiters: map[string]*rate.Limiter{}}
	d.applyLocked(cfg)
	return d
}

func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.applyLocked(cfg)
	d.mu.Unlock()
}

func (d *Dispatcher) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	d.cfg = cfg
	// Limiters are rebuilt lazily with the new rate.
	d.limiters = map[string]*rate.Limiter{}
}

func (d *Dispatcher) limiter(identity string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg.RatePerSec <= 0 {
		return nil
	}
	lim, ok := d.limiters[identity]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(d.cfg.RatePerSec), d.cfg.Burst)
		d.limiters[identity] = lim
	}
	return lim
}

// Start launches the workers. It is idempotent. Queue size and worker count
// changes made through Apply take effect on the next Start.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.stopDone != nil {
		done := d.stopDone
		d.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		d.mu.Lock()
	}
	if d.queue != nil {
		d.mu.Unlock()
		return
	}
	d.queue = make(chan Job, d.cfg.QueueSize)
	d.accepting = true
	workers := d.cfg.Workers
	d.sup = rtsup.New(ctx,
		rtsup.WithLogger(d.log.With(logx.String("comp", "delivery"))),
		rtsup.WithCancelOnError(false),
	)
	sup := d.sup
	q := d.queue
	d.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			d.workerLoop(c, q)
			d.mu.Lock()
			stopping := d.stopDone != nil
			d.mu.Unlock()
			if stopping || c.Err() != nil {
				return context.Canceled
			}
			return errors.New("delivery worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	d.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("queue", cap(q)))
}

// Stop stops intake and drains the queue until ctx is done.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	q := d.queue
	sup := d.sup
	if q == nil {
		d.mu.Unlock()
		return
	}
	if d.stopDone != nil {
		done := d.stopDone
		d.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	d.stopDone = done
	d.accepting = false
	d.mu.Unlock()

	go func() {
		defer close(done)
		d.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		d.mu.Lock()
		d.queue = nil
		d.sup = nil
		d.stopDone = nil
		d.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Dispatch enqueues job without blocking. A full queue drops the job.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	if !d.accepting || d.queue == nil {
		d.mu.Unlock()
		return ErrStopped
	}
	q := d.queue
	d.sendWG.Add(1)
	d.mu.Unlock()
	defer d.sendWG.Done()

	select {
	case q <- job:
		if d.obs != nil {
			d.obs.SetQueueDepth(len(q))
		}
		return nil
	default:
		d.dropped.Add(1)
		d.publish(EventDropped, job, ErrQueueFull)
		return ErrQueueFull
	}
}

func (d *Dispatcher) Stats() DispatcherStats {
	d.mu.Lock()
	q := d.queue
	d.mu.Unlock()
	st := DispatcherStats{Sent: d.sent.Load(), Failed: d.failed.Load(), Dropped: d.dropped.Load()}
	if q != nil {
		st.QueueLen, st.QueueCap = len(q), cap(q)
	}
	return st
}

func (d *Dispatcher) workerLoop(ctx context.Context, q <-chan Job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			if d.obs != nil {
				d.obs.SetQueueDepth(len(q))
			}
			d.deliver(ctx, j)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j Job) {
	if lim := d.limiter(j.Identity.Name); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			d.failed.Add(1)
			d.publish(EventFailed, j, err)
			return
		}
	}

	start := time.Now()
	err := d.send.Deliver(ctx, j.Identity, j.ChatID, j.Text)
	took := time.Since(start)
	if d.obs != nil {
		d.obs.ObserveDelivery(j.Identity.Name, err, took)
	}
	if err != nil {
		d.failed.Add(1)
		d.log.Warn("delivery failed",
			logx.Int64("chat_id", j.ChatID),
			logx.Int("seq", j.Seq),
			logx.String("identity", j.Identity.Name),
			logx.Duration("took", took),
			logx.Err(err),
		)
		d.publish(EventFailed, j, err)
		return
	}
	d.sent.Add(1)
	d.publish(EventSent, j, nil)
}

func (d *Dispatcher) publish(typ string, j Job, err error) {
	o := Outcome{ChatID: j.ChatID, Seq: j.Seq, Identity: j.Identity.Name}
	if err != nil {
		o.Error = err.Error()
	}
	eventbus.Publish(d.bus, typ, o)
}
