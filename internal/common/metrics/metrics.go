package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TranslationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlsearch_translations_total",
			Help: "Total number of query translations by outcome",
		},
		[]string{"status"},
	)

	ResolverLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlsearch_resolver_lookups_total",
			Help: "Total number of identifier lookups by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlsearch_searches_total",
			Help: "Total number of occurrence searches by outcome",
		},
		[]string{"status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "nlsearch_stage_duration_seconds",
			Help: "Duration of pipeline stage execution in seconds",
		},
		[]string{"stage"},
	)
)
