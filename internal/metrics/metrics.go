// Package metrics holds the Prometheus collectors of the tactic board engine.
// No per-board or per-uuid labels: cardinality stays bounded by piece kinds
// and task kinds.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolEntries tracks pooled entries by piece kind and state (in_use, available).
	PoolEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tacticboard_pool_entries",
		Help: "Pooled scene objects by kind and state.",
	}, []string{"kind", "state"})

	// PoolOverflowTotal counts unpooled temporaries handed out on exhaustion.
	PoolOverflowTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tacticboard_pool_overflow_total",
		Help: "Acquisitions served by unpooled temporaries because the pool was full.",
	}, []string{"kind"})

	// SaveTasksTotal counts page persistence tasks by kind and result.
	SaveTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tacticboard_save_tasks_total",
		Help: "Page persistence tasks, by kind (create/update/delete) and result.",
	}, []string{"kind", "result"})

	// SaveQueueDepth is the number of persistence tasks not yet settled.
	SaveQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tacticboard_save_queue_depth",
		Help: "Page persistence tasks queued or running.",
	})

	// CyclerTicksTotal counts page cycler ticks by mode.
	CyclerTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tacticboard_cycler_ticks_total",
		Help: "Page cycler ticks, by mode (render/capture).",
	}, []string{"mode"})

	// RecordingsTotal counts recording sessions by negotiated format and result.
	RecordingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tacticboard_recordings_total",
		Help: "Recording sessions, by format and result (ok/short/failed).",
	}, []string{"format", "result"})

	// RecordingChunkBytes observes emitted encoder fragment sizes.
	RecordingChunkBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tacticboard_recording_chunk_bytes",
		Help:    "Size of encoder fragments collected per timeslice.",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
	})
)

// SetPoolEntries publishes the pooled entry split for one piece kind.
func SetPoolEntries(kind string, inUse, available int) {
	PoolEntries.WithLabelValues(kind, "in_use").Set(float64(inUse))
	PoolEntries.WithLabelValues(kind, "available").Set(float64(available))
}
