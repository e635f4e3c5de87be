package media

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tierAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tale_weaver_media_tier_attempts_total",
			Help: "Total number of media pipeline tier attempts.",
		},
		[]string{"pipeline", "tier", "outcome"}, // outcome: success или вид отказа
	)
	pipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tale_weaver_media_pipeline_duration_seconds",
			Help:    "Histogram of media pipeline operation durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pipeline"},
	)
)

func observeTier(pipeline, tier string, kind FailureKind) {
	outcome := "success"
	if kind != FailureNone {
		outcome = kind.String()
	}
	tierAttemptsTotal.With(prometheus.Labels{"pipeline": pipeline, "tier": tier, "outcome": outcome}).Inc()
}

func observeDuration(pipeline string, seconds float64) {
	pipelineDuration.With(prometheus.Labels{"pipeline": pipeline}).Observe(seconds)
}
