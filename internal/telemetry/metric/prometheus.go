package metric

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "rhema"

// Operation results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds all engine metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	Entries       prometheus.Gauge
	StoredBytes   prometheus.Gauge
	OriginalBytes prometheus.Gauge

	CleanupRemoved  *prometheus.CounterVec
	PassDuration    *prometheus.HistogramVec
	PassItems       *prometheus.CounterVec
	DedupBytesSaved prometheus.Counter
	Corruptions     prometheus.Counter

	Backups *prometheus.CounterVec

	BadgerLSMSize      prometheus.Gauge
	BadgerValueLogSize prometheus.Gauge
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Storage operations by operation and result.",
		}, []string{"op", "result"}),

		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Storage operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"op"}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "cache_hits_total",
			Help:      "Retrieves served from resident payloads.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "cache_misses_total",
			Help:      "Retrieves that loaded the payload from the backend.",
		}),

		Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "entries",
			Help:      "Number of live entries.",
		}),

		StoredBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "stored_bytes",
			Help:      "Payload bytes held after compression and encryption.",
		}),

		OriginalBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "original_bytes",
			Help:      "Payload bytes as supplied by callers.",
		}),

		CleanupRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "removed_total",
			Help:      "Entries removed by cleanup, by reason.",
		}, []string{"reason"}),

		PassDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "optimize",
			Name:      "pass_duration_seconds",
			Help:      "Optimization pass duration.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"pass"}),

		PassItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimize",
			Name:      "items_total",
			Help:      "Entries processed by optimization passes, by pass and outcome.",
		}, []string{"pass", "outcome"}),

		DedupBytesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimize",
			Name:      "dedup_bytes_saved_total",
			Help:      "Bytes reclaimed by deduplication.",
		}),

		Corruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "corruptions_total",
			Help:      "Checksum mismatches detected on load or validation.",
		}),

		Backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "created_total",
			Help:      "Backup archives by result.",
		}, []string{"result"}),

		BadgerLSMSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "badger",
			Name:      "lsm_size_bytes",
			Help:      "Badger LSM tree size in bytes.",
		}),

		BadgerValueLogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "badger",
			Name:      "value_log_size_bytes",
			Help:      "Badger value log size in bytes.",
		}),
	}

	m.registry.MustRegister(
		m.Operations,
		m.OperationDuration,
		m.CacheHits,
		m.CacheMisses,
		m.Entries,
		m.StoredBytes,
		m.OriginalBytes,
		m.CleanupRemoved,
		m.PassDuration,
		m.PassItems,
		m.DedupBytesSaved,
		m.Corruptions,
		m.Backups,
		m.BadgerLSMSize,
		m.BadgerValueLogSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveOp records one operation outcome and its latency.
func (m *Metrics) ObserveOp(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.Operations.WithLabelValues(op, result).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Hit records a cache hit.
func (m *Metrics) Hit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

// Miss records a cache miss.
func (m *Metrics) Miss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

// SetUsage updates the entry and byte gauges.
func (m *Metrics) SetUsage(entries int, stored, original int64) {
	if m == nil {
		return
	}
	m.Entries.Set(float64(entries))
	m.StoredBytes.Set(float64(stored))
	m.OriginalBytes.Set(float64(original))
}

// CleanupRemovedAdd counts entries removed for reason.
func (m *Metrics) CleanupRemovedAdd(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CleanupRemoved.WithLabelValues(reason).Add(float64(n))
}

// ObservePass records a finished optimization pass.
func (m *Metrics) ObservePass(pass string, d time.Duration) {
	if m == nil {
		return
	}
	m.PassDuration.WithLabelValues(pass).Observe(d.Seconds())
}

// PassItemsAdd counts entries a pass processed with outcome.
func (m *Metrics) PassItemsAdd(pass, outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.PassItems.WithLabelValues(pass, outcome).Add(float64(n))
}

// DedupSaved counts bytes reclaimed by deduplication.
func (m *Metrics) DedupSaved(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.DedupBytesSaved.Add(float64(n))
}

// Corruption counts a detected checksum mismatch.
func (m *Metrics) Corruption() {
	if m != nil {
		m.Corruptions.Inc()
	}
}

// Backup records a backup attempt.
func (m *Metrics) Backup(err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.Backups.WithLabelValues(result).Inc()
}

// SetBadgerSize updates the Badger size gauges.
func (m *Metrics) SetBadgerSize(lsm, vlog int64) {
	if m == nil {
		return
	}
	m.BadgerLSMSize.Set(float64(lsm))
	m.BadgerValueLogSize.Set(float64(vlog))
}

// WriteTextfile writes the registry to path in text exposition format.
// The write is atomic so a scraping collector never sees a partial file.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return fmt.Errorf("metric: metrics not initialized")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("metric: create textfile dir: %w", err)
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
