// Package metrics provides Prometheus instrumentation for the moderation
// engine. It exposes counters for verdicts and actions, cache and quota
// gauges, and histograms for classification latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesTotal counts processed messages, labeled by outcome:
	// "clean", "violation", "exempt", or "error".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flushguard_messages_total",
		Help: "Total number of messages processed",
	}, []string{"outcome"})

	// VerdictsTotal counts verdicts by source and severity.
	VerdictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flushguard_verdicts_total",
		Help: "Total number of verdicts produced",
	}, []string{"source", "severity"})

	// ActionsTotal counts enforcement actions by kind.
	ActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flushguard_actions_total",
		Help: "Total number of enforcement actions issued",
	}, []string{"action"})

	// CacheLookups counts verdict cache lookups by result: "hit" or "miss".
	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flushguard_cache_lookups_total",
		Help: "Total number of verdict cache lookups",
	}, []string{"result"})

	// ClassifyLatency records end-to-end classification latency in seconds,
	// labeled by the path that produced the verdict.
	ClassifyLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flushguard_classify_latency_seconds",
		Help:    "Classification latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"source"})

	// QuotaUsed tracks the current reserved units per AI provider.
	QuotaUsed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flushguard_quota_used",
		Help: "Currently reserved AI call budget units per provider",
	}, []string{"provider"})

	// SweepBacklog tracks the number of messages claimed per sweep cycle.
	SweepBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flushguard_sweep_batch_size",
		Help: "Number of backlog messages claimed in the last sweep cycle",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		VerdictsTotal,
		ActionsTotal,
		CacheLookups,
		ClassifyLatency,
		QuotaUsed,
		SweepBacklog,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
