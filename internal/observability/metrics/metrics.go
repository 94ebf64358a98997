// Package metrics exposes relay pipeline counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Relay implements relay.Metrics on a private registry, so tests and
// multiple instances never collide on the global one.
type Relay struct {
	reg *prometheus.Registry

	received   *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	dispatched prometheus.Counter
	latency    prometheus.Histogram
	queueDepth prometheus.Gauge
}

func NewRelay() *Relay {
	m := &Relay{reg: prometheus.NewRegistry()}
	m.received = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "events_total",
		Help:      "Events seen by intake, by result (accepted, duplicate, no_id, overflow, closed)",
	}, []string{"result"})
	m.dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "dropped_total",
		Help:      "Events discarded by the dispatcher, by reason",
	}, []string{"reason"})
	m.dispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "dispatched_total",
		Help:      "Notifications delivered to the sink",
	})
	m.latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "relay",
		Name:      "dispatch_latency_seconds",
		Help:      "Time from intake acceptance to successful delivery",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})
	m.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "queue_depth",
		Help:      "Events waiting for the dispatcher",
	})
	m.reg.MustRegister(
		m.received, m.dropped, m.dispatched, m.latency, m.queueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Relay) EventReceived(result string) { m.received.WithLabelValues(result).Inc() }
func (m *Relay) EventDropped(reason string)  { m.dropped.WithLabelValues(reason).Inc() }

func (m *Relay) EventDispatched(latency time.Duration) {
	m.dispatched.Inc()
	m.latency.Observe(latency.Seconds())
}

func (m *Relay) QueueDepth(n int) { m.queueDepth.Set(float64(n)) }

// Registry is exposed so the app can add collectors for state it owns.
func (m *Relay) Registry() *prometheus.Registry { return m.reg }

func (m *Relay) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
