// Package metrics exposes routing engine activity as Prometheus metrics.
//
// Collectors live on a private registry so several Metrics can coexist in
// tests. The run command exports the registry with WriteTextfile for the
// node_exporter textfile collector.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/solatis/routingfilter/internal/types"
)

// Metrics contains the routing collectors.
type Metrics struct {
	registry *prometheus.Registry

	matches       *prometheus.CounterVec
	ruleMatches   *prometheus.CounterVec
	matchDuration *prometheus.HistogramVec
	rulesLoaded   *prometheus.GaugeVec
	reloads       *prometheus.CounterVec
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		matches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routingfilter_matches_total",
				Help: "Total number of events matched, by outcome",
			},
			[]string{"namespace", "result"},
		),

		ruleMatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routingfilter_rule_matches_total",
				Help: "Total number of results produced per rule",
			},
			[]string{"namespace", "rule_id"},
		),

		matchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "routingfilter_match_duration_seconds",
				Help:    "Duration of a single event match in seconds",
				Buckets: prometheus.ExponentialBuckets(0.000001, 2, 18), // 1µs to ~131ms
			},
			[]string{"namespace"},
		),

		rulesLoaded: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "routingfilter_rules_loaded",
				Help: "Number of rules currently loaded",
			},
			[]string{"namespace"},
		),

		reloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routingfilter_reloads_total",
				Help: "Total number of rule reloads, by source and outcome",
			},
			[]string{"source", "result"},
		),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveMatch records one Match call.
func (m *Metrics) ObserveMatch(ns types.Namespace, results []types.MatchResult, err error, elapsed time.Duration) {
	result := "unmatched"
	switch {
	case errors.Is(err, types.ErrNotNumeric):
		result = "type_error"
	case err != nil:
		result = "error"
	case len(results) > 0:
		result = "matched"
	}
	m.matches.WithLabelValues(string(ns), result).Inc()
	m.matchDuration.WithLabelValues(string(ns)).Observe(elapsed.Seconds())

	for _, r := range results {
		m.ruleMatches.WithLabelValues(string(ns), string(r.ID)).Inc()
	}
}

// SetRulesLoaded records the rule count of a namespace.
func (m *Metrics) SetRulesLoaded(ns types.Namespace, n int) {
	m.rulesLoaded.WithLabelValues(string(ns)).Set(float64(n))
}

// RecordReload records a reload attempt from source ("file", "redis", "db").
func (m *Metrics) RecordReload(source string, err error) {
	result := "ok"
	if err != nil {
		result = "partial"
	}
	m.reloads.WithLabelValues(source, result).Inc()
}

// WriteTextfile writes the registry in text exposition format to path.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
