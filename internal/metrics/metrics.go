// Package metrics exposes Prometheus instrumentation for the case engine.
// Collectors register once on first use; callers hold the singleton and
// record through nil-safe methods so instrumentation never becomes a
// correctness dependency.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	internalerrors "github.com/custodian-dfir/custodian/internal/errors"
)

// Metrics manages Prometheus instrumentation for case, mount, evidence
// and reconciliation activity.
type Metrics struct {
	caseOps         *prometheus.CounterVec
	mountOps        *prometheus.CounterVec
	verifications   *prometheus.CounterVec
	hashBytes       prometheus.Counter
	hashDuration    prometheus.Histogram
	hashJobs        *prometheus.CounterVec
	reconcileRuns   prometheus.Counter
	reconcileDur    prometheus.Histogram
	reconcileMounts *prometheus.GaugeVec
	remounts        prometheus.Counter
	activeJobs      prometheus.Gauge
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the process-wide metrics instance, registering collectors
// on first call.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{
		caseOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "custodian",
				Subsystem: "case",
				Name:      "operations_total",
				Help:      "Case store operations partitioned by operation and result.",
			},
			[]string{"operation", "result"},
		),
		mountOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "custodian",
				Subsystem: "mount",
				Name:      "operations_total",
				Help:      "Mount manager operations partitioned by operation and result.",
			},
			[]string{"operation", "result"},
		),
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "custodian",
				Subsystem: "evidence",
				Name:      "verifications_total",
				Help:      "Evidence verifications partitioned by result.",
			},
			[]string{"result"},
		),
		hashBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "custodian",
				Subsystem: "hasher",
				Name:      "bytes_total",
				Help:      "Total bytes read while hashing evidence.",
			},
		),
		hashDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "custodian",
				Subsystem: "hasher",
				Name:      "duration_seconds",
				Help:      "Duration of evidence hash computations.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		hashJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "custodian",
				Subsystem: "hasher",
				Name:      "jobs_total",
				Help:      "Hash computations partitioned by result.",
			},
			[]string{"result"},
		),
		reconcileRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "custodian",
				Subsystem: "reconcile",
				Name:      "runs_total",
				Help:      "Completed reconciliation passes.",
			},
		),
		reconcileDur: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "custodian",
				Subsystem: "reconcile",
				Name:      "duration_seconds",
				Help:      "Duration of reconciliation passes.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		reconcileMounts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "custodian",
				Subsystem: "reconcile",
				Name:      "mounts",
				Help:      "Mount records by status after the most recent pass.",
			},
			[]string{"status"},
		),
		remounts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "custodian",
				Subsystem: "reconcile",
				Name:      "remounts_total",
				Help:      "Successful automatic remounts.",
			},
		),
		activeJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "custodian",
				Subsystem: "workers",
				Name:      "jobs_active",
				Help:      "Background jobs currently executing.",
			},
		),
	}

	prometheus.MustRegister(
		m.caseOps,
		m.mountOps,
		m.verifications,
		m.hashBytes,
		m.hashDuration,
		m.hashJobs,
		m.reconcileRuns,
		m.reconcileDur,
		m.reconcileMounts,
		m.remounts,
		m.activeJobs,
	)

	return m
}

// RecordCaseOp counts one case store operation.
func (m *Metrics) RecordCaseOp(operation string, err error) {
	if m == nil {
		return
	}
	m.caseOps.WithLabelValues(operation, resultLabel(err)).Inc()
}

// RecordMountOp counts one mount manager operation.
func (m *Metrics) RecordMountOp(operation string, err error) {
	if m == nil {
		return
	}
	m.mountOps.WithLabelValues(operation, resultLabel(err)).Inc()
}

// RecordVerification counts one completed evidence verification.
func (m *Metrics) RecordVerification(result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
}

// RecordHash records a finished hash computation.
func (m *Metrics) RecordHash(bytes int64, duration time.Duration, err error) {
	if m == nil {
		return
	}
	if bytes > 0 {
		m.hashBytes.Add(float64(bytes))
	}
	if duration > 0 {
		m.hashDuration.Observe(duration.Seconds())
	}
	m.hashJobs.WithLabelValues(resultLabel(err)).Inc()
}

// RecordReconcile records the outcome of one reconciliation pass.
func (m *Metrics) RecordReconcile(active, missing, errored, remounted int, duration time.Duration) {
	if m == nil {
		return
	}
	m.reconcileRuns.Inc()
	m.reconcileDur.Observe(duration.Seconds())
	m.reconcileMounts.WithLabelValues("active").Set(float64(active))
	m.reconcileMounts.WithLabelValues("missing").Set(float64(missing))
	m.reconcileMounts.WithLabelValues("error").Set(float64(errored))
	if remounted > 0 {
		m.remounts.Add(float64(remounted))
	}
}

// IncActiveJobs increments the active background job gauge.
func (m *Metrics) IncActiveJobs() {
	if m == nil {
		return
	}
	m.activeJobs.Inc()
}

// DecActiveJobs decrements the active background job gauge.
func (m *Metrics) DecActiveJobs() {
	if m == nil {
		return
	}
	m.activeJobs.Dec()
}

// resultLabel maps an error to a stable label value: "success" for nil,
// otherwise the error kind.
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return string(internalerrors.KindOf(err))
}
