package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the review queue and aggregation
var (
	MessagesReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "truckcount_messages_received_total",
			Help: "Total number of messages received from the broker into the slot",
		},
	)

	DecodeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "truckcount_decode_failures_total",
			Help: "Total number of message bodies that could not be decoded",
		},
	)

	EmptyPollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "truckcount_empty_polls_total",
			Help: "Total number of receives that returned no message",
		},
	)

	LeaseExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "truckcount_lease_expired_total",
			Help: "Total number of deletes rejected because the lease had lapsed",
		},
	)

	ApprovalsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "truckcount_approvals_total",
			Help: "Total number of approval records persisted",
		},
	)

	RedeliveriesSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "truckcount_redeliveries_skipped_total",
			Help: "Total number of redelivered messages acknowledged because they were already approved",
		},
	)

	PurgedMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "truckcount_purged_messages_total",
			Help: "Total number of messages deleted by purge",
		},
	)

	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "truckcount_sync_duration_seconds",
			Help:    "Duration of daily total recomputation",
			Buckets: prometheus.DefBuckets,
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(MessagesReceivedTotal)
	prometheus.MustRegister(DecodeFailuresTotal)
	prometheus.MustRegister(EmptyPollsTotal)
	prometheus.MustRegister(LeaseExpiredTotal)
	prometheus.MustRegister(ApprovalsTotal)
	prometheus.MustRegister(RedeliveriesSkippedTotal)
	prometheus.MustRegister(PurgedMessagesTotal)
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}
