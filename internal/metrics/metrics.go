package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	analysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfa_analytics_analyses_total",
		Help: "Uploaded extracts analysed, by outcome",
	}, []string{"outcome"}) // outcome=success|rejected|error

	analysisDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transfa_analytics_analysis_duration_seconds",
		Help:    "Time spent parsing and analysing one uploaded extract",
		Buckets: prometheus.DefBuckets,
	})

	rowsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfa_analytics_rows_skipped_total",
		Help: "Extract rows skipped because they could not be parsed",
	})

	assessmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfa_analytics_assessments_total",
		Help: "Reset subscribers assessed, by source and verdict",
	}, []string{"source", "verdict"}) // source=upload|scheduled

	alertsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfa_analytics_fraud_alerts_total",
		Help: "Fraud alerts published, by outcome",
	}, []string{"outcome"}) // outcome=success|error

	eventsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfa_analytics_events_consumed_total",
		Help: "Bus events consumed, by routing key and outcome",
	}, []string{"routing_key", "outcome"}) // outcome=ok|dropped|retry

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfa_analytics_upload_rate_limited_total",
		Help: "Uploads rejected by the per-analyst rate limit",
	})
)

func IncAnalysis(outcome string) { analysesTotal.WithLabelValues(outcome).Inc() }

func ObserveAnalysisDuration(d time.Duration) { analysisDurationSeconds.Observe(d.Seconds()) }

func AddRowsSkipped(n int) {
	if n > 0 {
		rowsSkippedTotal.Add(float64(n))
	}
}

func IncAssessment(source, verdict string) {
	assessmentsTotal.WithLabelValues(source, verdict).Inc()
}

func IncAlert(outcome string) { alertsPublishedTotal.WithLabelValues(outcome).Inc() }

func IncEvent(routingKey, outcome string) {
	eventsConsumedTotal.WithLabelValues(routingKey, outcome).Inc()
}

func IncRateLimited() { rateLimitedTotal.Inc() }
