package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the margin ledger daemon.
type Metrics struct {
	// --- Core processing ---
	OpsApplied   *prometheus.CounterVec
	OpsRejected  *prometheus.CounterVec
	OpDuration   *prometheus.HistogramVec
	StateHashDur prometheus.Histogram
	LastSequence prometheus.Gauge

	// --- Book state ---
	OpenInterest          prometheus.Gauge
	InsuranceFundBalance  prometheus.Gauge
	SocialLossPerContract *prometheus.GaugeVec
	SettlementStatus      prometheus.Gauge
	TotalAccounts         prometheus.Gauge
	LiquidationsTotal     prometheus.Counter

	// --- Channels & backpressure ---
	ChannelSize     *prometheus.GaugeVec
	ChannelCapacity *prometheus.GaugeVec
	PublishDrops    prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates prometheus.Counter
	DedupLRUSize          prometheus.Gauge

	// --- Persistence ---
	PersistOpsWritten prometheus.Counter
	PersistBatchSize  prometheus.Histogram
	PersistErrors     *prometheus.CounterVec
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	ReplayOpsTotal    prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics registers all metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OpsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_ops_applied_total",
			Help: "Operations applied to the ledger, by operation type.",
		}, []string{"op"}),
		OpsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_ops_rejected_total",
			Help: "Operations rejected with no state change, by operation type.",
		}, []string{"op"}),
		OpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_op_duration_seconds",
			Help:    "Wall time to apply one operation.",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 12),
		}, []string{"op"}),
		StateHashDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_state_hash_duration_seconds",
			Help:    "Wall time to compute the ledger state hash.",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10),
		}),
		LastSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "perp_last_sequence",
			Help: "Sequence number of the last applied operation.",
		}),

		OpenInterest: factory.NewGauge(prometheus.GaugeOpts{
			Name: "perp_open_interest",
			Help: "Open interest per side (long equals short by invariant).",
		}),
		InsuranceFundBalance: factory.NewGauge(prometheus.GaugeOpts{
			Name: "perp_insurance_fund_balance",
			Help: "Insurance fund balance in collateral units.",
		}),
		SocialLossPerContract: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_social_loss_per_contract",
			Help: "Per-contract social loss accumulator, by side.",
		}, []string{"side"}),
		SettlementStatus: factory.NewGauge(prometheus.GaugeOpts{
			Name: "perp_settlement_status",
			Help: "Settlement lifecycle: 0=normal 1=settling 2=settled.",
		}),
		TotalAccounts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "perp_total_accounts",
			Help: "Accounts in the append-only directory.",
		}),
		LiquidationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "perp_liquidations_total",
			Help: "Executed liquidations.",
		}),

		ChannelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_channel_size",
			Help: "Current depth of internal channels.",
		}, []string{"channel"}),
		ChannelCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_channel_capacity",
			Help: "Capacity of internal channels.",
		}, []string{"channel"}),
		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "perp_publish_drops_total",
			Help: "Applied-op notifications dropped on the non-blocking publish path.",
		}),

		IdempotencyDuplicates: factory.NewCounter(prometheus.CounterOpts{
			Name: "perp_idempotency_duplicates_total",
			Help: "Commands dropped as duplicates by idempotency key.",
		}),
		DedupLRUSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "perp_dedup_lru_size",
			Help: "Entries in the idempotency LRU.",
		}),

		PersistOpsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_ops_written_total",
			Help: "Operation records written to the op log.",
		}),
		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_persist_batch_size",
			Help:    "Op records per persistence batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_persist_errors_total",
			Help: "Persistence failures, by stage.",
		}, []string{"stage"}),
		SnapshotTaken: factory.NewCounter(prometheus.CounterOpts{
			Name: "perp_snapshot_taken_total",
			Help: "Ledger snapshots written.",
		}),
		SnapshotDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_snapshot_duration_seconds",
			Help:    "Wall time to serialize and store one snapshot.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		ReplayOpsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "perp_replay_ops_total",
			Help: "Op records replayed during recovery.",
		}),

		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_query_requests_total",
			Help: "Query API requests, by endpoint.",
		}, []string{"endpoint"}),
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_query_duration_seconds",
			Help:    "Query API latency, by endpoint.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"endpoint"}),
	}
}
