// Package metrics exposes generation and dispatch counters for Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yangwenmai/softpost/internal/model"
)

const namespace = "softpost"

// Collector records generation and dispatch telemetry. It satisfies
// engine.Recorder and scheduler.Recorder.
type Collector struct {
	generationAttempts *prometheus.CounterVec
	generationResults  *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	dispatchTotal      *prometheus.CounterVec
	dispatchDuration   *prometheus.HistogramVec
}

// New registers the collector's metrics on reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		generationAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_attempts_total",
				Help:      "Generation attempts by platform and outcome",
			},
			[]string{"platform", "outcome"}, // valid, invalid, provider_error, parse_error
		),
		generationResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_results_total",
				Help:      "Finished artifact generations by platform and result",
			},
			[]string{"platform", "result"}, // accepted, best_effort, exhausted
		),
		validationFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_failures_total",
				Help:      "Failed validator checks by check name",
			},
			[]string{"check"},
		),
		dispatchTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Scheduled post dispatches by platform and outcome",
			},
			[]string{"platform", "outcome"}, // published, requeued, failed
		),
		dispatchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of a single post dispatch in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
			},
			[]string{"platform"},
		),
	}
}

func (c *Collector) GenerationAttempt(platform model.Platform, outcome string) {
	c.generationAttempts.WithLabelValues(string(platform), outcome).Inc()
}

func (c *Collector) GenerationResult(platform model.Platform, result string) {
	c.generationResults.WithLabelValues(string(platform), result).Inc()
}

func (c *Collector) ValidationFailure(check string) {
	c.validationFailures.WithLabelValues(check).Inc()
}

// Dispatch records one finished dispatch.
func (c *Collector) Dispatch(platform model.Platform, outcome string, d time.Duration) {
	c.dispatchTotal.WithLabelValues(string(platform), outcome).Inc()
	c.dispatchDuration.WithLabelValues(string(platform)).Observe(d.Seconds())
}
