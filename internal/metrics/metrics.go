// Package metrics provides Prometheus metrics for atomkv
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the storage engine.
type Metrics struct {
	PagesAllocatedTotal prometheus.Counter
	PagesFreedTotal     prometheus.Counter

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	WALBytesWrittenTotal prometheus.Counter

	CommitsTotal   prometheus.Counter
	RollbacksTotal prometheus.Counter

	ActiveReaders prometheus.Gauge
	WriterHeld    prometheus.Gauge

	RecoveryReplayedTotal prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics returns the process-wide atomkv collectors, creating and
// registering them against the default Prometheus registry on the
// first call; later calls return the same collectors.
func NewMetrics() *Metrics {
	defaultOnce.Do(func() { defaultMetrics = newMetrics() })
	return defaultMetrics
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.PagesAllocatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atomkv_pages_allocated_total",
		Help: "Total number of pages allocated from the free list or file growth",
	})
	m.PagesFreedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atomkv_pages_freed_total",
		Help: "Total number of pages released to the free list",
	})

	m.CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atomkv_cache_hits_total",
		Help: "Total number of page cache hits",
	})
	m.CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atomkv_cache_misses_total",
		Help: "Total number of page cache misses",
	})

	m.WALBytesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atomkv_wal_bytes_written_total",
		Help: "Total number of bytes appended to the write-ahead log",
	})

	m.CommitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atomkv_commits_total",
		Help: "Total number of write transactions committed",
	})
	m.RollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atomkv_rollbacks_total",
		Help: "Total number of write transactions rolled back",
	})

	m.ActiveReaders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atomkv_active_readers",
		Help: "Number of currently open read transactions",
	})
	m.WriterHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atomkv_writer_held",
		Help: "1 if the single writer lock is currently held, 0 otherwise",
	})

	m.RecoveryReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atomkv_recovery_replayed_total",
		Help: "Total number of WAL operations replayed by recovery",
	})

	return m
}
