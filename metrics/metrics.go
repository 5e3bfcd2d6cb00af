package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// ConnectivityOnline is 1 while the sync coordinator believes the backend is reachable.
	ConnectivityOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dodanati",
		Subsystem: "engine",
		Name:      "connectivity_online",
		Help:      "Whether the engine currently considers itself online (best-effort).",
	})

	// QueueDepth is the current number of reports waiting in the offline queue.
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dodanati",
		Subsystem: "engine",
		Name:      "offline_queue_depth",
		Help:      "Current number of hazard reports held in the offline queue.",
	})

	// ReportsQueuedTotal counts reports placed into the offline queue.
	ReportsQueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dodanati",
		Subsystem: "engine",
		Name:      "reports_queued_total",
		Help:      "Total number of hazard reports queued locally for later sync.",
	})

	// SyncReportsTotal counts per-report sync outcomes.
	SyncReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dodanati",
		Subsystem: "engine",
		Name:      "sync_reports_total",
		Help:      "Total number of queued reports pushed to the backend, labeled by result.",
	}, []string{"result"})

	// SyncBatchesTotal counts bulk sync rounds by outcome.
	SyncBatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dodanati",
		Subsystem: "engine",
		Name:      "sync_batches_total",
		Help:      "Total number of bulk sync rounds, labeled by result.",
	}, []string{"result"})

	// HazardFetchesTotal counts viewport fetches by outcome.
	HazardFetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dodanati",
		Subsystem: "engine",
		Name:      "hazard_fetches_total",
		Help:      "Total number of nearby-hazard fetches, labeled by result.",
	}, []string{"result"})

	// HazardFetchDurationSeconds is the time a viewport fetch takes end to end.
	HazardFetchDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dodanati",
		Subsystem: "engine",
		Name:      "hazard_fetch_duration_seconds",
		Help:      "End-to-end duration of a nearby-hazard fetch.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	// CacheServedTotal counts reads answered from the persisted hazard cache.
	CacheServedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dodanati",
		Subsystem: "engine",
		Name:      "hazard_cache_served_total",
		Help:      "Total number of hazard reads served from the local cache instead of the network.",
	})

	// AlertsAnnouncedTotal counts proximity warnings actually spoken.
	AlertsAnnouncedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dodanati",
		Subsystem: "engine",
		Name:      "alerts_announced_total",
		Help:      "Total number of proximity alerts announced to the driver.",
	})

	// AlertsSuppressedTotal counts candidate alerts dropped by a gate, labeled by reason.
	AlertsSuppressedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dodanati",
		Subsystem: "engine",
		Name:      "alerts_suppressed_total",
		Help:      "Total number of in-range hazards not announced, labeled by suppression reason.",
	}, []string{"reason"})
)

var (
	serverOnce sync.Once

	// HazardsCreatedTotal counts brand new hazards inserted by the backend.
	HazardsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dodanati",
		Subsystem: "server",
		Name:      "hazards_created_total",
		Help:      "Total number of new hazards created from incoming reports.",
	})

	// HazardsMergedTotal counts reports folded into an existing hazard.
	HazardsMergedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dodanati",
		Subsystem: "server",
		Name:      "hazards_merged_total",
		Help:      "Total number of incoming reports merged into an existing hazard.",
	})

	// HazardsDeactivatedTotal counts hazards retired, labeled by reason.
	HazardsDeactivatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dodanati",
		Subsystem: "server",
		Name:      "hazards_deactivated_total",
		Help:      "Total number of hazards deactivated, labeled by reason.",
	}, []string{"reason"})

	// NearbyRequestsTotal counts viewport queries by the mode they resolved to.
	NearbyRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dodanati",
		Subsystem: "server",
		Name:      "nearby_requests_total",
		Help:      "Total number of nearby-hazard requests, labeled by resolved response mode.",
	}, []string{"mode"})

	// BulkItemsTotal counts bulk sync items by outcome.
	BulkItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dodanati",
		Subsystem: "server",
		Name:      "bulk_sync_items_total",
		Help:      "Total number of bulk sync items processed, labeled by result.",
	}, []string{"result"})

	// LiveFeedClients is the current number of live feed subscribers.
	LiveFeedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dodanati",
		Subsystem: "server",
		Name:      "live_feed_clients",
		Help:      "Current number of websocket subscribers on the live hazard feed.",
	})
)

// Register registers engine metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ConnectivityOnline,
			QueueDepth,
			ReportsQueuedTotal,
			SyncReportsTotal,
			SyncBatchesTotal,
			HazardFetchesTotal,
			HazardFetchDurationSeconds,
			CacheServedTotal,
			AlertsAnnouncedTotal,
			AlertsSuppressedTotal,
		)
	})
}

// RegisterServer registers backend metrics with the default Prometheus
// registry. Safe to call multiple times.
func RegisterServer() {
	serverOnce.Do(func() {
		prometheus.MustRegister(
			HazardsCreatedTotal,
			HazardsMergedTotal,
			HazardsDeactivatedTotal,
			NearbyRequestsTotal,
			BulkItemsTotal,
			LiveFeedClients,
		)
	})
}
