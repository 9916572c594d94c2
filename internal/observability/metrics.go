package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the execution engine.
type Metrics struct {
	// --- Order processing ---
	OrdersSubmitted *prometheus.CounterVec // market
	OrdersExecuted  *prometheus.CounterVec // market
	OrdersRejected  *prometheus.CounterVec // market, reason
	OrdersSkipped   *prometheus.CounterVec // market, reason
	OrdersCancelled *prometheus.CounterVec // market
	OrdersPending   prometheus.Gauge
	BatchDuration   *prometheus.HistogramVec // kind (orders|liquidations)
	BatchItems      *prometheus.HistogramVec // kind

	// --- Liquidation ---
	Liquidations        *prometheus.CounterVec // market
	LiquidationsSkipped *prometheus.CounterVec // market, reason

	// --- Funding ---
	FundingAccruals prometheus.Counter

	// --- Pool ---
	PoolMainBalance   *prometheus.GaugeVec // asset
	PoolBufferBalance *prometheus.GaugeVec // asset
	PoolDeposits      *prometheus.CounterVec
	PoolWithdrawals   *prometheus.CounterVec

	// --- Oracle ---
	QuoteUpdates     prometheus.Counter
	QuotesStale      *prometheus.CounterVec // market
	ReferenceUpdates prometheus.Counter

	// --- Shell ---
	IngestMessages   *prometheus.CounterVec // subject
	IngestDuplicates prometheus.Counter
	PersistRows      prometheus.Counter
	PersistErrors    prometheus.Counter
	PublishDrops     prometheus.Counter
	RecordChanSize   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	batchBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
	}

	return &Metrics{
		OrdersSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_orders_submitted_total",
			Help: "Orders accepted into the order book",
		}, []string{"market"}),
		OrdersExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_orders_executed_total",
			Help: "Orders filled against the pool",
		}, []string{"market"}),
		OrdersRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_orders_rejected_total",
			Help: "Orders deleted with margin and fee refunded",
		}, []string{"market", "reason"}),
		OrdersSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_orders_skipped_total",
			Help: "Orders left untouched for a future retry",
		}, []string{"market", "reason"}),
		OrdersCancelled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_orders_cancelled_total",
			Help: "Orders cancelled by their owner or an OCO link",
		}, []string{"market"}),
		OrdersPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_orders_pending",
			Help: "Orders currently resting in the book",
		}),
		BatchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_batch_duration_seconds",
			Help:    "Wall time to process one execution batch",
			Buckets: batchBuckets,
		}, []string{"kind"}),
		BatchItems: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_batch_items",
			Help:    "Items per execution batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}, []string{"kind"}),

		Liquidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liquidations_total",
			Help: "Positions liquidated",
		}, []string{"market"}),
		LiquidationsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liquidations_skipped_total",
			Help: "Liquidation batch entries reported and skipped",
		}, []string{"market", "reason"}),

		FundingAccruals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_funding_accruals_total",
			Help: "Funding tracker updates applied",
		}),

		PoolMainBalance: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_pool_main_balance",
			Help: "Main pool balance per asset (1e18-scaled, as float)",
		}, []string{"asset"}),
		PoolBufferBalance: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_pool_buffer_balance",
			Help: "Buffer balance per asset (1e18-scaled, as float)",
		}, []string{"asset"}),
		PoolDeposits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_pool_deposits_total",
			Help: "LP deposits",
		}, []string{"asset"}),
		PoolWithdrawals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_pool_withdrawals_total",
			Help: "LP withdrawals",
		}, []string{"asset"}),

		QuoteUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_oracle_quote_updates_total",
			Help: "Pushed oracle quote updates applied",
		}),
		QuotesStale: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_oracle_quotes_stale_total",
			Help: "Fills refused because the candidate quote was stale",
		}, []string{"market"}),
		ReferenceUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_oracle_reference_updates_total",
			Help: "Reference price / unrealized PnL batches applied",
		}),

		IngestMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_ingest_messages_total",
			Help: "NATS messages consumed per subject",
		}, []string{"subject"}),
		IngestDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_ingest_duplicates_total",
			Help: "Redelivered batch ids dropped by the dedup LRU",
		}),
		PersistRows: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_rows_total",
			Help: "Outcome rows written to Postgres",
		}),
		PersistErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_errors_total",
			Help: "Postgres write failures",
		}),
		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_publish_drops_total",
			Help: "Outcome records dropped on a full publish channel",
		}),
		RecordChanSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_record_chan_size",
			Help: "Outcome records queued for the shell",
		}),
	}
}
