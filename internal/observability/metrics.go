package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics for the VM runtime, ported from
// the teacher daemon's Metrics struct and renamed to this domain's events.
type Metrics struct {
	TasksActive          prometheus.Gauge
	TasksStartedTotal     prometheus.Counter
	TasksDoneTotal        prometheus.Counter

	ChunksStoredTotal   prometheus.Counter
	ChunksDeletedTotal  prometheus.Counter
	BroadcastMatchesTotal prometheus.Counter

	RingBytesEnqueuedTotal prometheus.Counter
	RingBytesDroppedTotal  prometheus.Counter

	RecordsAppendedTotal      prometheus.Counter
	RecordParityRepairsTotal  prometheus.Counter
	RecordParityFailuresTotal prometheus.Counter

	DispatcherResyncsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics against the
// default registry, as promauto does in the teacher's NewMetrics.
func NewMetrics() *Metrics {
	return &Metrics{
		TasksActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "smallvm_tasks_active",
			Help: "Currently running or waiting tasks",
		}),
		TasksStartedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smallvm_tasks_started_total",
			Help: "Total tasks started",
		}),
		TasksDoneTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smallvm_tasks_done_total",
			Help: "Total tasks that terminated",
		}),
		ChunksStoredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smallvm_chunks_stored_total",
			Help: "Total chunk code store operations",
		}),
		ChunksDeletedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smallvm_chunks_deleted_total",
			Help: "Total chunk delete operations",
		}),
		BroadcastMatchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smallvm_broadcast_matches_total",
			Help: "Total broadcast-hat chunks matched and started",
		}),
		RingBytesEnqueuedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smallvm_ring_bytes_enqueued_total",
			Help: "Total bytes successfully queued on the output ring",
		}),
		RingBytesDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smallvm_ring_messages_dropped_total",
			Help: "Total outbound messages dropped for lack of ring space",
		}),
		RecordsAppendedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smallvm_records_appended_total",
			Help: "Total persistent records appended",
		}),
		RecordParityRepairsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smallvm_record_parity_repairs_total",
			Help: "Total records reconstructed from Reed-Solomon parity shards",
		}),
		RecordParityFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smallvm_record_parity_failures_total",
			Help: "Total records that could not be reconstructed from parity",
		}),
		DispatcherResyncsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smallvm_dispatcher_resyncs_total",
				Help: "Total dispatcher resync events by reason",
			},
			[]string{"reason"},
		),
	}
}

// Handler exposes the default Prometheus registry for scraping, the same
// convenience method the teacher daemon's Metrics.Handler provides.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
