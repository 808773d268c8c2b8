package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"rrcounter/internal/config"
	"rrcounter/internal/control"
	"rrcounter/internal/counter"
	"rrcounter/internal/delivery"
	"rrcounter/internal/eventbus"
	"rrcounter/internal/metrics"
	"rrcounter/internal/report"
	rtsup "rrcounter/internal/runtime/supervisor"
	"rrcounter/internal/storage"
	kit "rrcounter/internal/transport"
	telegram "rrcounter/internal/transport/telegram/adapter"
	"rrcounter/pkg/numwords"
	logx "rrcounter/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	metrics    *metrics.Metrics
	metricsSrv *metrics.Server
	sender     *delivery.Sender
	dispatcher *delivery.Dispatcher
	counter    *counter.Service
	control    *control.Bot
	report     *report.Service

	updates chan kit.Update
}

type Option func(*options)

type options struct {
	adapter kit.Adapter
}

// WithAdapter replaces the Telegram controller adapter (tests).
func WithAdapter(ad kit.Adapter) Option { return func(o *options) { o.adapter = ad } }

// completionRelay forwards finished runs to the control bot, which is built
// after the counter service.
type completionRelay struct {
	bot atomic.Pointer[control.Bot]
}

func (r *completionRelay) NotifyCompletion(ctx context.Context, chatID int64, finalCount int) error {
	b := r.bot.Load()
	if b == nil {
		return errors.New("control bot not ready")
	}
	return b.NotifyCompletion(ctx, chatID, finalCount)
}

func New(cfgm *config.Manager, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	ad := o.adapter
	if ad == nil {
		acfg, err := mapAdapterConfig(cfg)
		if err != nil {
			return nil, err
		}
		bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
		tg, err := telegram.New(acfg, bootLog)
		if err != nil {
			return nil, err
		}
		ad = tg
	}

	// Bootstrap with Telegram logging off, set the target, then apply the
	// final config so Apply does not warn about a missing target.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	if chatID, ok := logTarget(cfg); ok {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	pool, err := buildPool(cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	m := metrics.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		if store, err = storage.Open(sc, log.With(logx.String("comp", "storage"))); err != nil {
			return nil, err
		}
		log.Info("audit storage enabled", logx.String("driver", sc.Driver))
	}

	timeout, err := mapSenderTimeout(cfg)
	if err != nil {
		return nil, err
	}
	sender := delivery.NewSender(cfg.Delivery.APIURL, timeout)
	disp := delivery.NewDispatcher(mapDispatcherConfig(cfg), sender, log.With(logx.String("comp", "delivery")), bus, m)

	relay := &completionRelay{}
	ctr, err := counter.New(pool, mapLimits(cfg), counter.Deps{
		Dispatcher: disp,
		Notifier:   relay,
		Observer:   m,
		Format:     numwords.Tick,
		Logger:     log.With(logx.String("comp", "counter")),
		Bus:        bus,
	})
	if err != nil {
		return nil, err
	}

	var auditor control.Auditor
	if store != nil {
		auditor = store
	}
	bot := control.New(control.Config{Owners: cfg.Telegram.OwnerUserIDs}, ad, ctr, auditor, log.With(logx.String("comp", "control")))
	relay.bot.Store(bot)

	rep := report.New(report.Sources{Counter: ctr.Stats, Delivery: disp.Stats, Identities: ctr.IdentityNames}, ad, log.With(logx.String("comp", "report")))

	log.Info("app configured",
		logx.Int("identities", pool.Len()),
		logx.Int("max_count", cfg.Counter.MaxCount),
		logx.Bool("webhook", cfg.Telegram.Webhook.Enabled),
	)

	return &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		adapter:    ad,
		metrics:    m,
		metricsSrv: metrics.NewServer(m, log.With(logx.String("comp", "metrics"))),
		sender:     sender,
		dispatcher: disp,
		counter:    ctr,
		control:    bot,
		report:     rep,
		updates:    make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	if err := a.metrics.WatchSupervisor("app", a.sup.Counters); err != nil {
		a.log.Warn("supervisor metrics not registered", logx.Err(err))
	}
	cur := a.cfgm.Get()

	// reject bad hot reloads before commit
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapAdapterConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSenderTimeout(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if err := mapLimits(cfg).Validate(); err != nil {
			return err
		}
		if cfg.Report.Enabled {
			return report.ValidateSchedule(cfg.Report.Schedule)
		}
		return nil
	})

	// The dispatcher outlives the app context so Stop can drain queued ticks.
	a.dispatcher.Start(context.WithoutCancel(a.sup.Context()))
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("control.dispatch", func(c context.Context) error {
		return a.control.Run(c, a.updates)
	})

	if err := a.report.Apply(mapReportConfig(cur)); err != nil {
		return err
	}
	a.metricsSrv.Reconfigure(a.sup.Context(), mapMetricsConfig(cur))

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// ticks are frequent; keep this at debug
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, last, newCfg)
				last = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started")
	return nil
}

// applyConfig fans a validated reload out to the live components.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if keys := restartRequired(prev, next); len(keys) > 0 {
		a.log.Warn("config change needs a restart to take effect", logx.String("keys", strings.Join(keys, ",")))
	}

	if chatID, ok := logTarget(next); ok {
		a.logs.SetTelegramTarget(chatID, next.Logging.Telegram.ThreadID)
	} else {
		a.logs.SetTelegramTarget(0, 0)
	}
	a.logs.Apply(mapLogConfig(next))

	if err := a.counter.ApplyLimits(mapLimits(next)); err != nil {
		a.log.Warn("invalid counter limits; keeping previous", logx.Err(err))
	}
	a.dispatcher.Apply(mapDispatcherConfig(next))
	if d, err := mapSenderTimeout(next); err == nil {
		a.sender.SetTimeout(d)
	}
	a.control.SetOwners(next.Telegram.OwnerUserIDs)
	if err := a.report.Apply(mapReportConfig(next)); err != nil {
		a.log.Warn("invalid report config; keeping previous", logx.Err(err))
	}
	a.metricsSrv.Reconfigure(ctx, mapMetricsConfig(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// restartRequired lists changed keys that are only read at startup.
func restartRequired(prev, next *config.Config) []string {
	var keys []string
	if prev.Telegram.Token != next.Telegram.Token {
		keys = append(keys, "telegram.token")
	}
	if prev.Telegram.PollTimeout != next.Telegram.PollTimeout {
		keys = append(keys, "telegram.poll_timeout")
	}
	if prev.Telegram.Webhook != next.Telegram.Webhook {
		keys = append(keys, "telegram.webhook")
	}
	if prev.Delivery.APIURL != next.Delivery.APIURL {
		keys = append(keys, "delivery.api_url")
	}
	if !sameIdentities(prev.SenderIdentities(), next.SenderIdentities()) {
		keys = append(keys, "counter.identities")
	}
	ps, _, _ := mapStorageConfig(prev)
	ns, _, _ := mapStorageConfig(next)
	if ps != ns {
		keys = append(keys, "storage")
	}
	return keys
}

func sameIdentities(a, b []config.IdentityConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component can't stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// No new ticks after this point; queued ones still drain.
	step("counter", time.Second, func(context.Context) error { a.counter.Close(); return nil })
	step("report", time.Second, func(c context.Context) error { a.report.Stop(c); return nil })
	step("dispatcher", 3*time.Second, func(c context.Context) error { a.dispatcher.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("metrics", time.Second, func(c context.Context) error { a.metricsSrv.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
