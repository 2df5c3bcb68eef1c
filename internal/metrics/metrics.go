// Package metrics holds the prometheus collectors and trace helpers for the
// meeting pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeStale   = "stale"
	OutcomeSkipped = "skipped"
)

// Pipeline holds the stage collectors.
type Pipeline struct {
	registry *prometheus.Registry

	StageTotal      *prometheus.CounterVec
	StageSeconds    *prometheus.HistogramVec
	DispatchRejects prometheus.Counter
	SweptTotal      prometheus.Counter
}

// New registers the pipeline collectors on a fresh registry, together with
// the go runtime and process collectors.
func New() *Pipeline {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Pipeline{
		registry: reg,
		StageTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aisecretary_stage_total",
				Help: "Pipeline stage runs by outcome",
			},
			[]string{"stage", "outcome"},
		),
		StageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aisecretary_stage_seconds",
				Help:    "Pipeline stage latency",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"stage"},
		),
		DispatchRejects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aisecretary_dispatch_rejected_total",
				Help: "Stage jobs rejected because the dispatcher queue was full or closed",
			},
		),
		SweptTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aisecretary_swept_total",
				Help: "Meetings failed by the stuck sweeper",
			},
		),
	}
}

// ObserveStage records one stage run.
func (p *Pipeline) ObserveStage(stage, outcome string, seconds float64) {
	p.StageTotal.WithLabelValues(stage, outcome).Inc()
	if outcome == OutcomeSuccess || outcome == OutcomeFailed {
		p.StageSeconds.WithLabelValues(stage).Observe(seconds)
	}
}

func (p *Pipeline) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the prometheus exposition format.
func (p *Pipeline) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
