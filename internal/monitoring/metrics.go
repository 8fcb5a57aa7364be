// Package monitoring exposes prometheus metrics, a store-backed health
// snapshot, and threshold alerting for the pipeline.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	VendorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpipe_vendor_calls_total",
			Help: "Total vendor API calls by operation and outcome",
		},
		[]string{"vendor", "op", "outcome"},
	)

	VendorCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "leadpipe_vendor_call_duration_seconds",
			Help: "Vendor API call latency in seconds",
		},
		[]string{"vendor", "op"},
	)

	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpipe_jobs_finished_total",
			Help: "Batch jobs finished by workflow and status",
		},
		[]string{"workflow", "status"},
	)

	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadpipe_jobs_active",
			Help: "Batch jobs currently running",
		},
	)

	LeadsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpipe_leads_processed_total",
			Help: "Leads processed by finished jobs, by workflow",
		},
		[]string{"workflow"},
	)
)
