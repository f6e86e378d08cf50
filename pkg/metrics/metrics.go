// Package metrics provides Prometheus metrics for forcesync sync runs.
// It exposes counters and histograms for the operations that matter when
// debugging a slow or aborted sync: records emitted per stream, API calls
// by endpoint and status, bulk job polling behavior and checkpoint cadence.
//
// # Basic Usage
//
//	metrics.RecordsRead.WithLabelValues("Account", "bulk").Inc()
//
//	timer := prometheus.NewTimer(metrics.JobWaitDuration.WithLabelValues("Account"))
//	state, err := client.WaitForJob(ctx, jobID)
//	timer.ObserveDuration()
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsRead tracks records emitted per stream.
	// Labels: stream (entity name), strategy (bulk/rest)
	RecordsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forcesync_records_read_total",
			Help: "Total number of records read per stream",
		},
		[]string{"stream", "strategy"},
	)

	// StateCheckpoints tracks state messages emitted per stream.
	StateCheckpoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forcesync_state_checkpoints_total",
			Help: "Total number of state checkpoint messages emitted",
		},
		[]string{"stream"},
	)

	// APIRequests tracks vendor API calls.
	// Labels: endpoint (token/describe/query/bulk_create/bulk_status/bulk_results/bulk_delete), status
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forcesync_api_requests_total",
			Help: "Total number of Salesforce API requests",
		},
		[]string{"endpoint", "status"},
	)

	// JobPollAttempts tracks bulk job status polls per stream.
	JobPollAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forcesync_job_poll_attempts_total",
			Help: "Total number of bulk job status polls",
		},
		[]string{"stream"},
	)

	// JobWaitDuration tracks how long bulk jobs take to reach a terminal state.
	JobWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "forcesync_job_wait_duration_seconds",
			Help: "Time spent waiting for bulk jobs to complete",
			Buckets: []float64{
				1,    // trivial jobs
				5,    //
				15,   //
				60,   // typical wide entities
				300,  //
				900,  // close to the polling deadline
				3600, //
			},
		},
		[]string{"stream"},
	)

	// StreamsRateLimited counts streams halted by a vendor rate limit.
	StreamsRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forcesync_streams_rate_limited_total",
			Help: "Total number of streams halted by REQUEST_LIMIT_EXCEEDED",
		},
	)
)
