// Package metrics exposes Prometheus instruments for ingestion and answering.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Answer outcomes.
const (
	OutcomeGrounded   = "grounded"
	OutcomeFallback   = "fallback"
	OutcomeUngrounded = "ungrounded"
	OutcomeError      = "error"
	OutcomeEmpty      = "empty"
)

// Ingestion results.
const (
	ResultIndexed     = "indexed"
	ResultUnsupported = "unsupported"
	ResultEmpty       = "empty"
	ResultReadError   = "read_error"
	ResultIndexError  = "index_error"
)

// Recorder owns a private registry so tests and multiple instances never
// collide on the global one. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry   *prom.Registry
	answers    *prom.CounterVec
	ingestions *prom.CounterVec
	buildTime  prom.Histogram
	chunks     prom.Gauge
}

func New() *Recorder {
	registry := prom.NewRegistry()
	r := &Recorder{
		registry: registry,
		answers: prom.NewCounterVec(prom.CounterOpts{
			Name: "docqa_answers_total",
			Help: "Answers produced, by outcome.",
		}, []string{"outcome"}),
		ingestions: prom.NewCounterVec(prom.CounterOpts{
			Name: "docqa_ingestions_total",
			Help: "Ingestion requests, by result.",
		}, []string{"result"}),
		buildTime: prom.NewHistogram(prom.HistogramOpts{
			Name:    "docqa_index_build_seconds",
			Help:    "Time spent embedding and building an index.",
			Buckets: prom.ExponentialBuckets(0.05, 2, 12),
		}),
		chunks: prom.NewGauge(prom.GaugeOpts{
			Name: "docqa_index_chunks",
			Help: "Chunks in the active index.",
		}),
	}
	registry.MustRegister(
		r.answers,
		r.ingestions,
		r.buildTime,
		r.chunks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) Answer(outcome string) {
	if r == nil {
		return
	}
	r.answers.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Ingestion(result string) {
	if r == nil {
		return
	}
	r.ingestions.WithLabelValues(result).Inc()
}

// IndexBuilt records a successful build that is now active.
func (r *Recorder) IndexBuilt(elapsed time.Duration, chunks int) {
	if r == nil {
		return
	}
	r.buildTime.Observe(elapsed.Seconds())
	r.chunks.Set(float64(chunks))
}

func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
