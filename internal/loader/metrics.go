package loader

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Load results used as the "result" label.
const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Metrics are the loader's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	loaded   prometheus.Gauge
	loads    *prometheus.CounterVec
	unloads  prometheus.Counter
	duration *prometheus.HistogramVec
}

// NewMetrics creates the loader collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		loaded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "servicedesk",
			Subsystem: "loader",
			Name:      "modules_loaded",
			Help:      "Number of modules currently loaded.",
		}),
		loads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicedesk",
			Subsystem: "loader",
			Name:      "module_loads_total",
			Help:      "Module load attempts by module and result.",
		}, []string{"module", "result"}),
		unloads: f.NewCounter(prometheus.CounterOpts{
			Namespace: "servicedesk",
			Subsystem: "loader",
			Name:      "module_unloads_total",
			Help:      "Modules removed by explicit unload or teardown.",
		}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "servicedesk",
			Subsystem: "loader",
			Name:      "module_create_duration_seconds",
			Help:      "Time spent in plugin Create.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"module"}),
	}
}

func (m *Metrics) observeLoad(module string, err error, took time.Duration) {
	if m == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultFailure
	}
	m.loads.WithLabelValues(module, result).Inc()
	m.duration.WithLabelValues(module).Observe(took.Seconds())
}

func (m *Metrics) observeUnload() {
	if m == nil {
		return
	}
	m.unloads.Inc()
}

func (m *Metrics) setLoaded(n int) {
	if m == nil {
		return
	}
	m.loaded.Set(float64(n))
}
