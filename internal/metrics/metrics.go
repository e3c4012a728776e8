// Package metrics provides Prometheus metrics for the extraction and audit pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Model / remote call metrics
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brsr_calls_total",
			Help: "Logical calls to the model or remote service, by outcome",
		},
		[]string{"site", "outcome"},
	)

	CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brsr_call_duration_seconds",
			Help:    "Duration of logical calls including retries",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"site"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brsr_retries_total",
			Help: "Retryable failures followed by another attempt",
		},
		[]string{"site", "reason"},
	)

	BackoffDelay = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brsr_backoff_delay_seconds",
			Help:    "Backoff waits between attempts",
			Buckets: []float64{1, 5, 10, 15, 20, 40, 80, 160},
		},
		[]string{"site"},
	)

	PacingDelay = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "brsr_pacing_delay_seconds",
			Help:    "Fixed waits between documents during extraction",
			Buckets: []float64{0, 1, 5, 12, 30},
		},
	)

	// Pipeline output metrics
	RowsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brsr_rows_extracted_total",
			Help: "Rows accumulated per table",
		},
		[]string{"table"},
	)

	Verdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brsr_audit_verdicts_total",
			Help: "Audit verdicts by derived status and agreement with the model",
		},
		[]string{"status", "model_agrees"},
	)

	Findings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brsr_audit_findings_total",
			Help: "Audit findings by severity and source",
		},
		[]string{"severity", "source"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brsr_http_requests_total",
			Help: "HTTP requests served by brsrd",
		},
		[]string{"route", "status"},
	)
)

// RecordCall records the outcome and duration of a logical call.
func RecordCall(site, outcome string, d time.Duration) {
	CallsTotal.WithLabelValues(site, outcome).Inc()
	CallDuration.WithLabelValues(site).Observe(d.Seconds())
}

// RecordRetry records a retry and the wait preceding it.
func RecordRetry(site, reason string, delay time.Duration) {
	RetriesTotal.WithLabelValues(site, reason).Inc()
	BackoffDelay.WithLabelValues(site).Observe(delay.Seconds())
}

// RecordPacing records an inter-document wait.
func RecordPacing(d time.Duration) {
	PacingDelay.Observe(d.Seconds())
}

// RecordRows records accumulated row counts for both tables.
func RecordRows(table14, table15 int) {
	RowsExtracted.WithLabelValues("table14").Add(float64(table14))
	RowsExtracted.WithLabelValues("table15").Add(float64(table15))
}
