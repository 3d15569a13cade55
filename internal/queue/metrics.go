package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the queue's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	jobsFinished   *prometheus.CounterVec
	failures       *prometheus.CounterVec
	exportDuration *prometheus.HistogramVec
	acquireSource  prometheus.Histogram
	pending        prometheus.Gauge
	active         prometheus.Gauge
}

// NewMetrics registers the queue collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vexport_jobs_finished_total",
			Help: "Export jobs that reached a terminal status, by preset and outcome",
		}, []string{"preset", "outcome"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vexport_job_failures_total",
			Help: "Failed or cancelled export jobs by error kind",
		}, []string{"kind"}),
		exportDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vexport_export_duration_seconds",
			Help:    "Wall clock from transcode start to terminal outcome",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"preset"}),
		acquireSource: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vexport_source_acquire_seconds",
			Help:    "Time spent in Transcoder.Begin preparing the source",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vexport_queue_pending",
			Help: "Jobs waiting for the worker",
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vexport_queue_active",
			Help: "1 while a job is being exported",
		}),
	}
}

func (m *Metrics) observeFinished(preset string, status Status, kind string, export time.Duration) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(preset, string(status)).Inc()
	if status != StatusCompleted {
		m.failures.WithLabelValues(kind).Inc()
	}
	if export > 0 {
		m.exportDuration.WithLabelValues(preset).Observe(export.Seconds())
	}
}

func (m *Metrics) observeAcquire(d time.Duration) {
	if m == nil {
		return
	}
	m.acquireSource.Observe(d.Seconds())
}

func (m *Metrics) setDepth(pending int, active bool) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	if active {
		m.active.Set(1)
	} else {
		m.active.Set(0)
	}
}
