// Package metrics provides Prometheus instrumentation for the sentinel engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DecisionsTotal counts final pipeline decisions.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "decisions_total",
			Help:      "Final mitigation decisions by outcome.",
		},
		[]string{"decision"},
	)

	// DegradedTotal counts assessments that completed in degraded mode.
	DegradedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "degraded_total",
			Help:      "Assessments resolved through the fail-safe path.",
		},
	)

	// PolicyResolutionsTotal counts policy resolutions by source tier.
	PolicyResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "policy_resolutions_total",
			Help:      "Policy resolutions by source (memory, redis, network, stale, default).",
		},
		[]string{"source"},
	)

	// ValidationsTotal counts server validation round-trips by result.
	ValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "validations_total",
			Help:      "Server validation calls by result (ok, timeout, error, invalid).",
		},
		[]string{"result"},
	)

	// ChallengeOutcomesTotal counts interactive verification outcomes.
	ChallengeOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "challenge_outcomes_total",
			Help:      "Challenge and bunker gate outcomes by kind and result.",
		},
		[]string{"kind", "result"},
	)

	// PipelineDuration observes end-to-end assessment latency.
	PipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sentinel",
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end assessment pipeline duration.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// ActiveSessions tracks sessions currently held in the registry.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "active_sessions",
			Help:      "Sessions currently tracked by the registry.",
		},
	)
)

// Register registers all collectors with the default registry.
// Call once at startup.
func Register() {
	prometheus.MustRegister(
		DecisionsTotal,
		DegradedTotal,
		PolicyResolutionsTotal,
		ValidationsTotal,
		ChallengeOutcomesTotal,
		PipelineDuration,
		ActiveSessions,
	)
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
