// Package metrics exports the node's space and allocation counters to
// Prometheus. All methods are safe on a nil *Metrics, so components can run
// without a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors
type Metrics struct {
	activeContainers      prometheus.Gauge
	unavailableContainers prometheus.Gauge
	directoryFreeBytes    *prometheus.GaugeVec
	directoryAvailable    *prometheus.GaugeVec
	probeErrors           *prometheus.CounterVec
	probeDuration         prometheus.Histogram
	allocations           *prometheus.CounterVec
	escalatorState        prometheus.Gauge
	fatalConditions       *prometheus.CounterVec
	walSegments           prometheus.Counter
}

// New registers the collectors on reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		activeContainers: f.NewGauge(prometheus.GaugeOpts{
			Name: "diskguard_active_containers",
			Help: "Number of block containers in state active or full",
		}),
		unavailableContainers: f.NewGauge(prometheus.GaugeOpts{
			Name: "diskguard_unavailable_containers",
			Help: "Number of block containers whose directory is over its reservation",
		}),
		directoryFreeBytes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "diskguard_directory_free_bytes",
			Help: "Free bytes observed by the latest probe",
		}, []string{"dir"}),
		directoryAvailable: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "diskguard_directory_available",
			Help: "1 if the directory is above its reserved margin, 0 otherwise",
		}, []string{"dir"}),
		probeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "diskguard_probe_errors_total",
			Help: "Free space queries that failed",
		}, []string{"dir"}),
		probeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name: "diskguard_probe_duration_seconds",
			Help: "Duration of one probe over every configured directory",
			Buckets: []float64{
				0.0001, // 100us
				0.001,  // 1ms
				0.01,   // 10ms
				0.1,    // 100ms
				1,      // stuck device
			},
		}),
		allocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "diskguard_allocations_total",
			Help: "Block allocations by purpose and result",
		}, []string{"purpose", "result"}), // result: "ok", "no_space"
		escalatorState: f.NewGauge(prometheus.GaugeOpts{
			Name: "diskguard_escalator_state",
			Help: "Failure escalator state: 0 normal, 1 degraded, 2 terminating",
		}),
		fatalConditions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "diskguard_fatal_conditions_total",
			Help: "Fatal space conditions raised by kind",
		}, []string{"kind"}),
		walSegments: f.NewCounter(prometheus.CounterOpts{
			Name: "diskguard_wal_segments_total",
			Help: "WAL segments created",
		}),
	}
}

// SetContainerCounts publishes the allocator counters
func (m *Metrics) SetContainerCounts(active, unavailable int64) {
	if m == nil {
		return
	}
	m.activeContainers.Set(float64(active))
	m.unavailableContainers.Set(float64(unavailable))
}

// ObserveDirectory records the result of probing one directory
func (m *Metrics) ObserveDirectory(dir string, freeBytes uint64, available bool) {
	if m == nil {
		return
	}
	m.directoryFreeBytes.WithLabelValues(dir).Set(float64(freeBytes))
	v := 0.0
	if available {
		v = 1
	}
	m.directoryAvailable.WithLabelValues(dir).Set(v)
}

// IncProbeError counts a failed free space query
func (m *Metrics) IncProbeError(dir string) {
	if m == nil {
		return
	}
	m.probeErrors.WithLabelValues(dir).Inc()
}

// ObserveProbe records how long a full probe took
func (m *Metrics) ObserveProbe(d time.Duration) {
	if m == nil {
		return
	}
	m.probeDuration.Observe(d.Seconds())
}

// IncAllocation counts a block allocation attempt
func (m *Metrics) IncAllocation(purpose, result string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(purpose, result).Inc()
}

// SetEscalatorState publishes the escalator state
func (m *Metrics) SetEscalatorState(state int32) {
	if m == nil {
		return
	}
	m.escalatorState.Set(float64(state))
}

// IncFatal counts a fatal condition
func (m *Metrics) IncFatal(kind string) {
	if m == nil {
		return
	}
	m.fatalConditions.WithLabelValues(kind).Inc()
}

// IncWALSegment counts a new WAL segment
func (m *Metrics) IncWALSegment() {
	if m == nil {
		return
	}
	m.walSegments.Inc()
}
