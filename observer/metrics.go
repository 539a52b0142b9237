package observer

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wippyai/hermes-islands/event"
)

const namespace = "hermes"

// Metrics collects island event counters.
type Metrics struct {
	events    *prometheus.CounterVec
	invokes   *prometheus.HistogramVec
	allocated *prometheus.CounterVec
	results   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Island events published, by kind.",
		}, []string{"kind", "island"}),
		invokes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invoke_duration_seconds",
			Help:      "Entry point invocation time.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"island", "outcome"}),
		allocated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocated_bytes_total",
			Help:      "Bytes reported through ALLOC events.",
		}, []string{"island"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_total",
			Help:      "Values reported through the RESULT side channel.",
		}, []string{"island"}),
	}

	for _, c := range []prometheus.Collector{m.events, m.invokes, m.allocated, m.results} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Subscribe attaches the metrics to bus.
func (m *Metrics) Subscribe(bus *event.Bus) {
	bus.SubscribeAll(m.Observe)
}

// Observe records one event.
func (m *Metrics) Observe(e event.Event) {
	m.events.WithLabelValues(e.Kind.String(), e.Island).Inc()

	switch e.Kind {
	case event.InvokeEnd:
		m.invokes.WithLabelValues(e.Island, "ok").Observe(time.Duration(e.Value).Seconds())
	case event.InvokeFail:
		m.invokes.WithLabelValues(e.Island, "fail").Observe(time.Duration(e.Value).Seconds())
	case event.Alloc:
		m.allocated.WithLabelValues(e.Island).Add(float64(e.Value))
	case event.Result:
		m.results.WithLabelValues(e.Island).Inc()
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
