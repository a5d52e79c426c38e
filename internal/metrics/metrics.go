package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecodeli",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ecodeli",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	deliveryTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecodeli",
			Subsystem: "delivery",
			Name:      "transitions_total",
			Help:      "Delivery status transitions by target status.",
		},
		[]string{"to"},
	)

	codeVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecodeli",
			Subsystem: "delivery",
			Name:      "code_verifications_total",
			Help:      "Validation code checks by outcome (ok, invalid, locked).",
		},
		[]string{"outcome"},
	)

	walletMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecodeli",
			Subsystem: "wallet",
			Name:      "mutations_total",
			Help:      "Ledger rows written by transaction type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	settlementItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecodeli",
			Subsystem: "settlement",
			Name:      "items_total",
			Help:      "Settlement cycle items by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	settlementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ecodeli",
			Subsystem: "settlement",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of settlement cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	staleWithdrawals = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ecodeli",
			Subsystem: "settlement",
			Name:      "stale_withdrawals",
			Help:      "PROCESSING withdrawals older than the stale threshold at the last cycle.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		deliveryTransitions,
		codeVerifications,
		walletMutations,
		settlementItems,
		settlementDuration,
		staleWithdrawals,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func RecordTransition(to string) {
	deliveryTransitions.WithLabelValues(to).Inc()
}

func RecordCodeVerification(outcome string) {
	codeVerifications.WithLabelValues(outcome).Inc()
}

func RecordWalletMutation(txType, outcome string) {
	walletMutations.WithLabelValues(txType, outcome).Inc()
}

func RecordSettlementItem(kind, outcome string) {
	settlementItems.WithLabelValues(kind, outcome).Inc()
}

func ObserveSettlementCycle(d time.Duration) {
	settlementDuration.Observe(d.Seconds())
}

func SetStaleWithdrawals(n int) {
	staleWithdrawals.Set(float64(n))
}
