package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wispfire/chunkstore/pkg/chunkstore"
)

// StoreMetrics is the Prometheus implementation of chunkstore.Metrics.
// A nil *StoreMetrics is valid and records nothing, so call sites never
// need nil checks of their own.
type StoreMetrics struct {
	getBytes    prometheus.Counter
	setBytes    prometheus.Counter
	gets        prometheus.Counter
	sets        prometheus.Counter
	deletes     prometheus.Counter
	compactions prometheus.Counter
	reclaimed   prometheus.Counter
	corruptions prometheus.Counter
	opSeconds   *prometheus.HistogramVec

	liveKeys    prometheus.Gauge
	usefulBytes prometheus.Gauge
	wastedBytes prometheus.Gauge
	fileSize    prometheus.Gauge
}

// NewStoreMetrics creates a Prometheus-backed metrics sink for a store.
//
// Returns nil if metrics are not enabled (InitRegistry not called); a nil
// sink has zero overhead.
func NewStoreMetrics() *StoreMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &StoreMetrics{
		gets: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chunkstore_gets_total",
			Help: "Total number of successful chunk reads",
		}),
		sets: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chunkstore_sets_total",
			Help: "Total number of successful chunk writes",
		}),
		deletes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chunkstore_deletes_total",
			Help: "Total number of successful chunk deletes",
		}),
		getBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chunkstore_get_bytes_total",
			Help: "Total payload bytes read",
		}),
		setBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chunkstore_set_bytes_total",
			Help: "Total payload bytes written",
		}),
		compactions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chunkstore_compactions_total",
			Help: "Total number of completed compactions",
		}),
		reclaimed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chunkstore_compaction_reclaimed_bytes_total",
			Help: "Total bytes reclaimed by compaction",
		}),
		corruptions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chunkstore_corruption_events_total",
			Help: "Total number of detected corruption events",
		}),
		opSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chunkstore_operation_duration_seconds",
			Help:    "Latency of store operations by type",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}), // "get", "set", "del", "compact"
		liveKeys: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "chunkstore_live_keys",
			Help: "Number of distinct keys with a live entry",
		}),
		usefulBytes: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "chunkstore_useful_bytes",
			Help: "Payload bytes belonging to live entries",
		}),
		wastedBytes: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "chunkstore_wasted_bytes",
			Help: "Payload bytes belonging to superseded or deleted entries",
		}),
		fileSize: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "chunkstore_file_size_bytes",
			Help: "Current log file size",
		}),
	}
}

// ObserveGet records a successful chunk read.
func (m *StoreMetrics) ObserveGet(bytes int, d time.Duration) {
	if m == nil {
		return
	}
	m.gets.Inc()
	m.getBytes.Add(float64(bytes))
	m.opSeconds.WithLabelValues("get").Observe(d.Seconds())
}

// ObserveSet records a successful chunk write.
func (m *StoreMetrics) ObserveSet(bytes int, d time.Duration) {
	if m == nil {
		return
	}
	m.sets.Inc()
	m.setBytes.Add(float64(bytes))
	m.opSeconds.WithLabelValues("set").Observe(d.Seconds())
}

// ObserveDelete records a successful tombstone append.
func (m *StoreMetrics) ObserveDelete(d time.Duration) {
	if m == nil {
		return
	}
	m.deletes.Inc()
	m.opSeconds.WithLabelValues("del").Observe(d.Seconds())
}

// ObserveCompaction records a completed compaction.
func (m *StoreMetrics) ObserveCompaction(reclaimed int64, d time.Duration) {
	if m == nil {
		return
	}
	m.compactions.Inc()
	if reclaimed > 0 {
		m.reclaimed.Add(float64(reclaimed))
	}
	m.opSeconds.WithLabelValues("compact").Observe(d.Seconds())
}

// RecordCorruption records a detected corruption event.
func (m *StoreMetrics) RecordCorruption() {
	if m == nil {
		return
	}
	m.corruptions.Inc()
}

// SetUsage reports the store's occupancy after a mutation.
func (m *StoreMetrics) SetUsage(liveKeys int, usefulBytes, wastedBytes uint64, fileSize int64) {
	if m == nil {
		return
	}
	m.liveKeys.Set(float64(liveKeys))
	m.usefulBytes.Set(float64(usefulBytes))
	m.wastedBytes.Set(float64(wastedBytes))
	m.fileSize.Set(float64(fileSize))
}

var _ chunkstore.Metrics = (*StoreMetrics)(nil)
