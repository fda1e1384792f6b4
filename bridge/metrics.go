package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts capsules and how they were disposed. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	raisedTotal   prometheus.Counter
	disposedTotal *prometheus.CounterVec
	misuseTotal   prometheus.Counter
	live          prometheus.Gauge
}

// NewMetrics creates the custody metrics under namespace and registers them
// with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		raisedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capsules_raised_total",
			Help:      "Exceptions intercepted by the throw hook",
		}),
		disposedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capsules_disposed_total",
			Help:      "Capsules disposed, by disposition",
		}, []string{"disposition"}),
		misuseTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capsule_misuse_total",
			Help:      "Restore calls on capsules that were already disposed",
		}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capsules_live",
			Help:      "Capsules currently holding custody of an exception",
		}),
	}

	reg.MustRegister(m.raisedTotal, m.disposedTotal, m.misuseTotal, m.live)
	return m
}

func (m *Metrics) raised() {
	if m == nil {
		return
	}
	m.raisedTotal.Inc()
	m.live.Inc()
}

func (m *Metrics) disposed(d Disposition) {
	if m == nil {
		return
	}
	m.disposedTotal.WithLabelValues(d.String()).Inc()
	m.live.Dec()
}

func (m *Metrics) misused() {
	if m == nil {
		return
	}
	m.misuseTotal.Inc()
}
