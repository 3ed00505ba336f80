// Package metrics exposes retention and ingestion metrics to prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bryan-buckman/gleaner/internal/retention"
)

const namespace = "gleaner"

// Run results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Ingest outcomes.
const (
	OutcomePersisted = "persisted"
	OutcomeDropped   = "dropped"
)

// Collector owns a private registry with every gleaner metric. It implements
// retention.Observer.
type Collector struct {
	registry *prometheus.Registry

	runs       *prometheus.CounterVec
	hidden     prometheus.Counter
	candidates *prometheus.CounterVec
	duration   prometheus.Histogram
	ingest     *prometheus.CounterVec
}

var _ retention.Observer = (*Collector)(nil)

// NewCollector registers the metrics on registry. A nil registry gets a new
// one with the Go runtime and process collectors.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	c := &Collector{
		registry: registry,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "runs_total",
			Help:      "Retention runs on a single feed, by result.",
		}, []string{"result"}),
		hidden: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "items_hidden_total",
			Help:      "Items moved to the hidden state or dropped before storage.",
		}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "candidates_total",
			Help:      "Deletion candidates found, by criterion.",
		}, []string{"criterion"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "run_duration_seconds",
			Help:      "Duration of a retention run on a single feed.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}),
		ingest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "items_total",
			Help:      "Fetched items that were new to the store, by outcome.",
		}, []string{"outcome"}),
	}
	registry.MustRegister(c.runs, c.hidden, c.candidates, c.duration, c.ingest)

	// Expose zero values before the first run.
	for _, r := range []string{ResultSuccess, ResultError} {
		c.runs.WithLabelValues(r)
	}
	for _, crit := range []retention.Criterion{retention.CriterionAge, retention.CriterionCount, retention.CriterionRead} {
		c.candidates.WithLabelValues(string(crit))
	}
	for _, o := range []string{OutcomePersisted, OutcomeDropped} {
		c.ingest.WithLabelValues(o)
	}
	return c
}

// ObserveRun records one feed run.
func (c *Collector) ObserveRun(report *retention.Report, elapsed time.Duration, err error) {
	c.duration.Observe(elapsed.Seconds())
	if err != nil {
		c.runs.WithLabelValues(ResultError).Inc()
		return
	}
	c.runs.WithLabelValues(ResultSuccess).Inc()
	if report == nil {
		return
	}
	c.hidden.Add(float64(len(report.Hidden)))
	for crit, n := range report.Candidates {
		c.candidates.WithLabelValues(string(crit)).Add(float64(n))
	}
}

// RecordIngest records the fate of fetched items that were not stored yet.
func (c *Collector) RecordIngest(persisted, dropped int) {
	c.ingest.WithLabelValues(OutcomePersisted).Add(float64(persisted))
	c.ingest.WithLabelValues(OutcomeDropped).Add(float64(dropped))
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
