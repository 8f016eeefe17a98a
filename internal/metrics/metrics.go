// Package metrics exposes pipeline counters in Prometheus format.
//
// Metrics:
//
//	genpipe_attempts_total{operation,outcome}   remote attempts by outcome
//	genpipe_operation_seconds{operation}        end-to-end executor latency
//	genpipe_jobs_started_total                  generation jobs started
//	genpipe_jobs_finished_total{phase}          jobs reaching complete/error
//	genpipe_jobs_active                         jobs currently streaming
//	genpipe_frames_dropped_total                malformed stream frames
//	genpipe_poll_reads_total{satisfied}         reconciliation reads
//
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Attempt outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeRetry       = "retry"
	OutcomeFailed      = "failed"
	OutcomeAlreadyDone = "already_done"
)

// Collector holds the registered pipeline metrics.
type Collector struct {
	registry *prometheus.Registry

	attempts      *prometheus.CounterVec
	opLatency     *prometheus.HistogramVec
	jobsStarted   prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	jobsActive    prometheus.Gauge
	framesDropped prometheus.Counter
	pollReads     *prometheus.CounterVec
}

// NewCollector registers all metrics on reg. A nil reg gets a fresh registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		registry: reg,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "genpipe_attempts_total",
			Help: "Remote operation attempts by outcome",
		}, []string{"operation", "outcome"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "genpipe_operation_seconds",
			Help:    "Latency of resilient operations including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "genpipe_jobs_started_total",
			Help: "Generation jobs started",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "genpipe_jobs_finished_total",
			Help: "Generation jobs reaching a terminal phase",
		}, []string{"phase"}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "genpipe_jobs_active",
			Help: "Generation jobs currently in flight",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "genpipe_frames_dropped_total",
			Help: "Malformed stream frames skipped",
		}),
		pollReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "genpipe_poll_reads_total",
			Help: "Reconciliation reads by predicate result",
		}, []string{"satisfied"}),
	}
	reg.MustRegister(
		c.attempts,
		c.opLatency,
		c.jobsStarted,
		c.jobsFinished,
		c.jobsActive,
		c.framesDropped,
		c.pollReads,
	)
	return c
}

// Registry returns the registry metrics are registered on.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) RecordAttempt(operation, outcome string) {
	if c == nil {
		return
	}
	c.attempts.WithLabelValues(operation, outcome).Inc()
}

func (c *Collector) ObserveOperation(operation string, d time.Duration) {
	if c == nil {
		return
	}
	c.opLatency.WithLabelValues(operation).Observe(d.Seconds())
}

func (c *Collector) JobStarted() {
	if c == nil {
		return
	}
	c.jobsStarted.Inc()
	c.jobsActive.Inc()
}

func (c *Collector) JobFinished(phase string) {
	if c == nil {
		return
	}
	c.jobsFinished.WithLabelValues(phase).Inc()
	c.jobsActive.Dec()
}

func (c *Collector) FrameDropped() {
	if c == nil {
		return
	}
	c.framesDropped.Inc()
}

func (c *Collector) PollRead(satisfied bool) {
	if c == nil {
		return
	}
	c.pollReads.WithLabelValues(strconv.FormatBool(satisfied)).Inc()
}

// Handler serves the registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
