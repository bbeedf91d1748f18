package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/knxsync/internal/knx"
	"github.com/nerrad567/knxsync/internal/syncer"
)

const namespace = "knxsync"

// StatsFunc reports the knxd connection statistics at scrape time.
type StatsFunc func() knx.Stats

// Metrics holds the Prometheus collectors on a private registry.
//
// Thread Safety: All methods are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	entities prometheus.Gauge
	reloads  prometheus.Counter
}

// NewMetrics creates the collectors. stats may be nil, in which case no bus
// metrics are exported.
func NewMetrics(stats StatsFunc) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Processed synchronization events by kind, category and outcome.",
		}, []string{"kind", "category", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "Time spent handling one event.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"kind"}),
		entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entities",
			Help:      "Entities currently synchronized.",
		}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Handler set loads, the initial one included.",
		}),
	}

	m.registry.MustRegister(
		m.events,
		m.duration,
		m.entities,
		m.reloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if stats != nil {
		m.registerBus(stats)
	}
	return m
}

func (m *Metrics) registerBus(stats StatsFunc) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "connected",
			Help:      "1 when the knxd connection is up.",
		}, func() float64 {
			if stats().Connected {
				return 1
			}
			return 0
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "telegrams_sent_total",
			Help:      "Telegrams sent to knxd.",
		}, func() float64 { return float64(stats().TelegramsTx) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "telegrams_received_total",
			Help:      "Telegrams received from knxd.",
		}, func() float64 { return float64(stats().TelegramsRx) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "errors_total",
			Help:      "knxd connection errors.",
		}, func() float64 { return float64(stats().ErrorsTotal) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "reconnects_total",
			Help:      "knxd reconnections.",
		}, func() float64 { return float64(stats().ReconnectsTotal) }),
	)
}

// Observe implements syncer.Observer.
func (m *Metrics) Observe(ev syncer.Event) {
	if ev.Kind == syncer.EventReload {
		m.reloads.Inc()
		m.entities.Set(float64(ev.Entities))
		return
	}
	m.events.WithLabelValues(string(ev.Kind), string(ev.Category), string(ev.Outcome)).Inc()
	m.duration.WithLabelValues(string(ev.Kind)).Observe(ev.Duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
