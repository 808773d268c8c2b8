// Package metrics keeps Prometheus collectors for the counter and the
// delivery pipeline on a private registry and serves them over HTTP.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rrcounter/internal/delivery"
	rtsup "rrcounter/internal/runtime/supervisor"
)

const namespace = "rrcounter"

// Metrics implements counter.Observer and delivery.Observer.
type Metrics struct {
	reg *prometheus.Registry

	ticks        prometheus.Counter
	runsStarted  prometheus.Counter
	runsFinished prometheus.Counter
	running      prometheus.Gauge

	deliveries *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	queueDepth prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total",
			Help: "Counter values handed to the delivery pipeline.",
		}),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_started_total",
			Help: "Counter runs started.",
		}),
		runsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_finished_total",
			Help: "Counter runs that reached the maximum count.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "running_chats",
			Help: "Chats with an active counter.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "delivery", Name: "messages_total",
			Help: "Delivery attempts by sender identity and result.",
		}, []string{"identity", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "delivery", Name: "duration_seconds",
			Help:    "sendMessage latency by sender identity.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		}, []string{"identity"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "delivery", Name: "queue_depth",
			Help: "Jobs waiting in the dispatcher queue.",
		}),
	}
	m.reg.MustRegister(
		m.ticks, m.runsStarted, m.runsFinished, m.running,
		m.deliveries, m.latency, m.queueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// WatchSupervisor exports a supervisor's goroutine counters under the given
// name. Each name may be registered once.
func (m *Metrics) WatchSupervisor(name string, counters func() rtsup.Counters) error {
	labels := prometheus.Labels{"supervisor": name}
	active := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "supervisor", Name: "goroutines_active",
		Help: "Goroutines currently running under the supervisor.", ConstLabels: labels,
	}, func() float64 { return float64(counters().Active) })
	started := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "supervisor", Name: "goroutines_started_total",
		Help: "Goroutines started under the supervisor, restarts included.", ConstLabels: labels,
	}, func() float64 { return float64(counters().Started) })
	if err := m.reg.Register(active); err != nil {
		return err
	}
	if err := m.reg.Register(started); err != nil {
		m.reg.Unregister(active)
		return err
	}
	return nil
}

func (m *Metrics) RunStarted()      { m.runsStarted.Inc() }
func (m *Metrics) RunFinished()     { m.runsFinished.Inc() }
func (m *Metrics) TickEmitted()     { m.ticks.Inc() }
func (m *Metrics) SetRunning(n int) { m.running.Set(float64(n)) }

func (m *Metrics) ObserveDelivery(identity string, err error, took time.Duration) {
	m.deliveries.WithLabelValues(identity, result(err)).Inc()
	m.latency.WithLabelValues(identity).Observe(took.Seconds())
}

func (m *Metrics) SetQueueDepth(n int) { m.queueDepth.Set(float64(n)) }

func result(err error) string {
	if err == nil {
		return "ok"
	}
	var de *delivery.Error
	if errors.As(err, &de) {
		switch {
		case de.Timeout():
			return "timeout"
		case de.Status == http.StatusTooManyRequests || de.Code == http.StatusTooManyRequests:
			return "rate_limited"
		case de.Err == nil:
			return "api_error"
		}
	}
	return "error"
}
