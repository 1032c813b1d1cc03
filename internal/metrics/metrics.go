package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qrattend",
		Name:      "submissions_total",
		Help:      "Attendance submissions by outcome and rejection reason.",
	}, []string{"outcome", "reason"})

	fraudSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qrattend",
		Name:      "fraud_signals_total",
		Help:      "Fraud signals written by type.",
	}, []string{"type"})

	submitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "qrattend",
		Name:      "submission_duration_seconds",
		Help:      "Time spent validating one submission, store calls included.",
		Buckets:   prometheus.DefBuckets,
	})

	alertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qrattend",
		Name:      "alerts_total",
		Help:      "Fraud alerts forwarded by the worker, by result.",
	}, []string{"result"})
)

// ObserveSubmission records one resolved submission.
func ObserveSubmission(outcome, reason string, took time.Duration) {
	if reason == "" {
		reason = "none"
	}
	submissions.WithLabelValues(outcome, reason).Inc()
	submitDuration.Observe(took.Seconds())
}

// ObserveSignal counts a fraud signal.
func ObserveSignal(signalType string) {
	fraudSignals.WithLabelValues(signalType).Inc()
}

// ObserveAlert counts a worker delivery attempt ("sent", "skipped", "failed").
func ObserveAlert(result string) {
	alertsSent.WithLabelValues(result).Inc()
}
