package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for AuctionLedger.
type Metrics struct {
	// --- Core processing ---
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	CoreSequence     prometheus.Gauge

	// --- Auction state ---
	HighestBid         prometheus.Gauge
	UniqueBidders      prometheus.Gauge
	HeldBalance        prometheus.Gauge
	CommissionAccrued  prometheus.Gauge
	DeadlineExtensions prometheus.Counter
	DeadlineUnix       prometheus.Gauge
	AuctionState       prometheus.Gauge

	// --- Settlement ---
	TransfersOut       *prometheus.CounterVec
	TransferredAmount  *prometheus.CounterVec
	TransferFailures   *prometheus.CounterVec
	CommissionCollected prometheus.Counter

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ProjectionDrops     prometheus.Counter
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram

	// --- Persistence ---
	PersistRowsWritten  prometheus.Counter
	PersistBatchSize    prometheus.Histogram
	PersistBatchDur     prometheus.Histogram
	PersistErrors       *prometheus.CounterVec
	PersistRetry        prometheus.Counter
	PersistLastSequence prometheus.Gauge

	// --- Snapshot / recovery ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CommandsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_core_commands_applied_total",
			Help: "Commands successfully applied by the engine",
		}, []string{"command_type"}),

		CommandsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_core_commands_rejected_total",
			Help: "Commands rejected (dedup, validation, capacity, state, transfer)",
		}, []string{"command_type", "reason"}),

		CommandDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auction_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command in the engine",
			Buckets: latencyBuckets,
		}, []string{"command_type"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auction_core_sequence",
			Help: "Current engine output sequence number",
		}),

		HighestBid: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auction_highest_bid",
			Help: "Leading accumulated bid amount",
		}),

		UniqueBidders: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auction_unique_bidders",
			Help: "Distinct registered bidders",
		}),

		HeldBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auction_held_balance",
			Help: "Value currently held by the ledger",
		}),

		CommissionAccrued: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auction_commission_accrued",
			Help: "Commission accrued and not yet swept",
		}),

		DeadlineExtensions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auction_deadline_extensions_total",
			Help: "Anti-sniping deadline extensions applied",
		}),

		DeadlineUnix: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auction_deadline_unix_seconds",
			Help: "Current auction deadline as unix time",
		}),

		AuctionState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auction_state",
			Help: "Auction lifecycle state (0=open 1=paused 2=closed)",
		}),

		TransfersOut: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_transfers_out_total",
			Help: "Completed outbound transfers",
		}, []string{"reason"}),

		TransferredAmount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_transferred_amount_total",
			Help: "Total value moved out of the ledger",
		}, []string{"reason"}),

		TransferFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_transfer_failures_total",
			Help: "Outbound transfers that failed and were rolled back",
		}, []string{"reason"}),

		CommissionCollected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auction_commission_collected_total",
			Help: "Commission retained from outbound transfers",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "auction_channel_size",
			Help: "Current queue depth per internal channel",
		}, []string{"channel"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "auction_channel_capacity",
			Help: "Capacity per internal channel",
		}, []string{"channel"}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auction_projection_drops_total",
			Help: "Outputs dropped on the projection channel",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auction_publish_drops_total",
			Help: "Notifications dropped by the outbound publisher",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auction_persist_backpressure_total",
			Help: "Blocking sends into the persistence channel",
		}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_idempotency_duplicates_total",
			Help: "Duplicate commands detected",
		}, []string{"tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auction_dedup_lru_size",
			Help: "Entries in the in-memory dedup LRU",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auction_dedup_lru_evictions_total",
			Help: "Evictions from the in-memory dedup LRU",
		}),

		DedupTier2Duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "auction_dedup_tier2_duration_seconds",
			Help:    "Postgres dedup lookup duration",
			Buckets: latencyBuckets,
		}),

		PersistRowsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auction_persist_rows_written_total",
			Help: "Rows written by the persistence worker",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "auction_persist_batch_size",
			Help:    "Outputs per persisted batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "auction_persist_batch_duration_seconds",
			Help:    "Time to persist one batch",
			Buckets: prometheus.DefBuckets,
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_persist_errors_total",
			Help: "Persistence errors by stage",
		}, []string{"stage"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auction_persist_retries_total",
			Help: "Persistence batch retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auction_persist_last_sequence",
			Help: "Highest sequence durably persisted",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auction_snapshots_taken_total",
			Help: "Engine snapshots written",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "auction_snapshot_duration_seconds",
			Help:    "Time to write a snapshot",
			Buckets: prometheus.DefBuckets,
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auction_snapshot_last_sequence",
			Help: "Sequence of the latest snapshot",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auction_replay_events_total",
			Help: "Notifications replayed during recovery",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_query_requests_total",
			Help: "Query API requests",
		}, []string{"method"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auction_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_query_errors_total",
			Help: "Query API errors",
		}, []string{"method"}),
	}
}
