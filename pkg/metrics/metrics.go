package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session/transaction metrics
	SessionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nexus_sessions_total",
			Help: "Total number of open sessions",
		},
	)

	TransactionsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexus_transactions_open",
			Help: "Number of open transactions by mode",
		},
		[]string{"mode"},
	)

	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_transactions_total",
			Help: "Total number of transactions by outcome (commit/cancel)",
		},
		[]string{"outcome"},
	)

	TransactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexus_transaction_duration_seconds",
			Help:    "Transaction lifetime in seconds, from begin to commit/cancel",
			Buckets: prometheus.DefBuckets,
		},
	)

	SlowQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nexus_slow_queries_total",
			Help: "Total number of statements exceeding the slow-query threshold",
		},
	)

	// Query execution metrics
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexus_query_duration_seconds",
			Help:    "Per-statement execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"statement"},
	)

	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_queries_total",
			Help: "Total number of executed statements by kind and outcome",
		},
		[]string{"statement", "outcome"},
	)

	// Live query metrics
	LiveQueriesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nexus_live_queries_active",
			Help: "Number of currently active LIVE SELECT queries",
		},
	)

	NotificationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nexus_notifications_total",
			Help: "Total number of notifications delivered to LIVE SELECT consumers",
		},
	)

	// Index metrics
	HNSWLayerSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexus_hnsw_layer_size",
			Help: "Number of elements resident in an HNSW index layer",
		},
		[]string{"index", "layer"},
	)

	HNSWSearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexus_hnsw_search_duration_seconds",
			Help:    "Time taken by an HNSW k-NN search in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// View maintenance metrics
	ViewUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_view_updates_total",
			Help: "Total number of incremental view updates by action",
		},
		[]string{"action"},
	)

	ViewRecalculationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nexus_view_recalculations_total",
			Help: "Total number of view group recalculations falling back to a full re-aggregation",
		},
	)

	// Storage metrics
	KVTransactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexus_kv_transaction_duration_seconds",
			Help:    "Underlying KV transaction duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(TransactionsOpen)
	prometheus.MustRegister(TransactionsTotal)
	prometheus.MustRegister(TransactionDuration)
	prometheus.MustRegister(SlowQueriesTotal)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(LiveQueriesActive)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(HNSWLayerSize)
	prometheus.MustRegister(HNSWSearchDuration)
	prometheus.MustRegister(ViewUpdatesTotal)
	prometheus.MustRegister(ViewRecalculationsTotal)
	prometheus.MustRegister(KVTransactionDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
