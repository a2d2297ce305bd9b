// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "facegate"

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

var (
	// MatchTotal counts matcher decisions by mode and outcome ("match", "no_match", "error").
	MatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "matcher",
		Name:      "decisions_total",
		Help:      "Matcher decisions by mode and outcome",
	}, []string{"mode", "outcome"})

	// MatchDistance observes the distance of accepted matches.
	MatchDistance = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "matcher",
		Name:      "match_distance",
		Help:      "Cosine distance of accepted matches",
		Buckets:   []float64{0.02, 0.05, 0.1, 0.15, 0.2, 0.25, 0.3, 0.35, 0.4},
	}, []string{"mode"})

	// ExtractionDuration observes embedding provider latency.
	ExtractionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "embedder",
		Name:      "extraction_duration_seconds",
		Help:      "Latency of embedding extraction calls",
		Buckets:   histogramBuckets,
	})

	// ExtractionFailures counts failed extractions by reason.
	ExtractionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embedder",
		Name:      "failures_total",
		Help:      "Failed embedding extractions by reason",
	}, []string{"reason"})

	// TokensActive tracks the size of the session table.
	TokensActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "tokens_active",
		Help:      "Number of live session tokens",
	})

	// HistoryDropped counts history entries that could not be stored.
	HistoryDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "history",
		Name:      "dropped_total",
		Help:      "History entries dropped by reason",
	}, []string{"reason"})

	// HTTPRequests counts processed HTTP requests.
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Count of processed HTTP requests",
	}, []string{"method", "route", "status"})

	// HTTPDuration observes handler latency.
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution of HTTP handlers",
		Buckets:   histogramBuckets,
	}, []string{"method", "route"})
)

var registerOnce sync.Once

// Register adds all collectors to reg. Safe to call more than once.
func Register(reg prometheus.Registerer) error {
	var err error
	registerOnce.Do(func() {
		collectors := []prometheus.Collector{
			MatchTotal, MatchDistance, ExtractionDuration, ExtractionFailures,
			TokensActive, HistoryDropped, HTTPRequests, HTTPDuration,
		}
		for _, c := range collectors {
			if regErr := reg.Register(c); regErr != nil {
				var are prometheus.AlreadyRegisteredError
				if errors.As(regErr, &are) {
					continue
				}
				err = regErr
				return
			}
		}
	})
	return err
}

// ObserveMatch records a matcher decision.
func ObserveMatch(mode string, found bool, distance float64) {
	if found {
		MatchTotal.WithLabelValues(mode, "match").Inc()
		MatchDistance.WithLabelValues(mode).Observe(distance)
		return
	}
	MatchTotal.WithLabelValues(mode, "no_match").Inc()
}
