// README: Prometheus collectors for dispatch, location ingestion and the realtime hub.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is nil-safe: every method is a no-op on a nil receiver so tests can skip it.
type Metrics struct {
	assignments     *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	sweeps          prometheus.Counter
	locationSamples prometheus.Counter
	connections     prometheus.Gauge
	published       prometheus.Counter
	dropped         prometheus.Counter
}

// New registers the collectors on reg (prometheus.DefaultRegisterer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_assignments_total",
			Help: "Assignment state transitions by resulting status",
		}, []string{"outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_rejections_total",
			Help: "Courier rejections, implicit ones come from the timeout sweeper",
		}, []string{"implicit"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_sweeps_total",
			Help: "Timeout sweeper passes",
		}),
		locationSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "location_samples_total",
			Help: "Accepted courier location samples",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_connections",
			Help: "Registered realtime connections",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_published_total",
			Help: "Messages enqueued to realtime connections",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_messages_dropped_total",
			Help: "Messages dropped because an outbound queue was full",
		}),
	}
	reg.MustRegister(m.assignments, m.rejections, m.sweeps, m.locationSamples, m.connections, m.published, m.dropped)
	return m
}

func (m *Metrics) Assignment(outcome string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Rejection(implicit bool) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(strconv.FormatBool(implicit)).Inc()
}

func (m *Metrics) Sweep() {
	if m == nil {
		return
	}
	m.sweeps.Inc()
}

func (m *Metrics) LocationSample() {
	if m == nil {
		return
	}
	m.locationSamples.Inc()
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) Published(n int) {
	if m == nil {
		return
	}
	m.published.Add(float64(n))
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
