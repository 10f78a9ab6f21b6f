package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	MessagesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replog_messages_processed_total",
		Help: "Total number of inbound messages processed, by message type",
	}, []string{"type"})

	RecordsAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "replog_records_appended_total",
		Help: "Total number of records appended to the uncommitted log",
	})

	RecordsPolled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "replog_records_polled_total",
		Help: "Total number of committed records returned to consumers",
	})

	RoundsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "replog_commit_rounds_started_total",
		Help: "Total number of commit rounds started by this node",
	})

	RoundsResolved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "replog_commit_rounds_resolved_total",
		Help: "Total number of commit rounds fully acknowledged and resolved",
	})

	RoundsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "replog_commit_rounds_expired_total",
		Help: "Total number of commit rounds abandoned after the commit timeout",
	})

	RoundsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "replog_commit_rounds_in_flight",
		Help: "Current number of unresolved commit rounds",
	})

	RoundDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "replog_commit_round_duration_seconds",
		Help:    "Histogram of commit round duration from start to resolution",
		Buckets: prometheus.DefBuckets,
	})
)
