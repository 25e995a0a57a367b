package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for LendLedger.
type Metrics struct {
	// --- Core processing ---
	CoreCommandsApplied  *prometheus.CounterVec
	CoreCommandsRejected *prometheus.CounterVec
	CoreCommandDuration  *prometheus.HistogramVec
	CoreSequence         prometheus.Gauge

	// --- Ledger totals ---
	MarketCollateral *prometheus.GaugeVec
	MarketBorrowed   *prometheus.GaugeVec
	VaultBalance     *prometheus.GaugeVec

	// --- Channel & backpressure ---
	ProjectionDrops     prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter

	// --- Persistence ---
	PersistCommandsWritten prometheus.Counter
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Projections ---
	ProjectionUpdateDur prometheus.Histogram
	ProjectionLastSeq   prometheus.Gauge

	// --- Query / HTTP API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CoreCommandsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_core_commands_applied_total",
			Help: "Commands successfully applied by the core",
		}, []string{"command_type"}),

		CoreCommandsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_core_commands_rejected_total",
			Help: "Commands rejected (duplicate, validation, transfer fault)",
		}, []string{"command_type", "reason"}),

		CoreCommandDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command in the core",
			Buckets: latencyBuckets,
		}, []string{"command_type"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_core_sequence",
			Help: "Current global sequence number",
		}),

		MarketCollateral: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_market_collateral_amount",
			Help: "Total collateral recorded on the market ledger",
		}, []string{"market_id"}),

		MarketBorrowed: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_market_borrowed_amount",
			Help: "Total borrowed recorded on the market ledger",
		}, []string{"market_id"}),

		VaultBalance: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_vault_balance",
			Help: "Real custodial balance per market vault",
		}, []string{"market_id", "vault"}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_backpressure_total",
			Help: "Times the core blocked on the persist channel",
		}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"command_type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		PersistCommandsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_commands_written_total",
			Help: "Commands written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		ProjectionUpdateDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),

		ProjectionLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_projection_last_sequence",
			Help: "Last projected sequence",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
