// Package metrics exposes build counters for siteroll. A nil *BuildMetrics is
// valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Bundle outcomes used as the "outcome" label.
const (
	OutcomeWritten    = "written"
	OutcomeFailed     = "failed"
	OutcomeSkipped    = "skipped"
	OutcomeServerless = "serverless"
)

type BuildMetrics struct {
	reg *prometheus.Registry

	referencesDeclared *prometheus.CounterVec
	referencesSkipped  *prometheus.CounterVec
	sourcesRegistered  *prometheus.GaugeVec
	collisions         prometheus.Gauge
	bundlesTotal       *prometheus.CounterVec
	bundleDuration     *prometheus.HistogramVec
	bundleOutputBytes  *prometheus.GaugeVec
	pagesRendered      prometheus.Counter
	buildsTotal        *prometheus.CounterVec
	lastBuildTs        prometheus.Gauge
}

// New returns a fresh registry with the Go collector and the build metrics.
func New() *BuildMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &BuildMetrics{
		reg: reg,
		referencesDeclared: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siteroll_references_declared_total",
			Help: "Script references declared by pages, by bundle instance",
		}, []string{"instance"}),
		referencesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siteroll_references_skipped_total",
			Help: "Script references ignored because the page is not written",
		}, []string{"instance"}),
		sourcesRegistered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "siteroll_sources_registered",
			Help: "Unique script sources registered in the last build",
		}, []string{"instance"}),
		collisions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "siteroll_ownership_collisions",
			Help: "Sources claimed by more than one bundle in the last build",
		}),
		bundlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siteroll_bundles_total",
			Help: "Bundling phases by instance and outcome",
		}, []string{"instance", "outcome"}),
		bundleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "siteroll_bundle_duration_seconds",
			Help:    "Time spent in the bundling phase",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"instance"}),
		bundleOutputBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "siteroll_bundle_output_bytes",
			Help: "Total bytes written by the last bundling phase",
		}, []string{"instance"}),
		pagesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siteroll_pages_rendered_total",
			Help: "Pages rendered by the site engine",
		}),
		buildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siteroll_builds_total",
			Help: "Site builds by result",
		}, []string{"result"}),
		lastBuildTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "siteroll_last_build_timestamp_seconds",
			Help: "Unix timestamp of the last finished build",
		}),
	}
	reg.MustRegister(
		m.referencesDeclared,
		m.referencesSkipped,
		m.sourcesRegistered,
		m.collisions,
		m.bundlesTotal,
		m.bundleDuration,
		m.bundleOutputBytes,
		m.pagesRendered,
		m.buildsTotal,
		m.lastBuildTs,
	)
	return m
}

// Registry returns the underlying registry.
func (m *BuildMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *BuildMetrics) IncReference(instance string) {
	if m == nil {
		return
	}
	m.referencesDeclared.WithLabelValues(instance).Inc()
}

func (m *BuildMetrics) IncSkippedReference(instance string) {
	if m == nil {
		return
	}
	m.referencesSkipped.WithLabelValues(instance).Inc()
}

func (m *BuildMetrics) SetSources(instance string, n int) {
	if m == nil {
		return
	}
	m.sourcesRegistered.WithLabelValues(instance).Set(float64(n))
}

func (m *BuildMetrics) SetCollisions(n int) {
	if m == nil {
		return
	}
	m.collisions.Set(float64(n))
}

// ObserveBundle records one bundling phase. Duration and size are only
// recorded for phases that ran the bundler.
func (m *BuildMetrics) ObserveBundle(instance, outcome string, d time.Duration, bytes int) {
	if m == nil {
		return
	}
	m.bundlesTotal.WithLabelValues(instance, outcome).Inc()
	if outcome == OutcomeWritten || outcome == OutcomeFailed {
		m.bundleDuration.WithLabelValues(instance).Observe(d.Seconds())
	}
	if outcome == OutcomeWritten {
		m.bundleOutputBytes.WithLabelValues(instance).Set(float64(bytes))
	}
}

func (m *BuildMetrics) IncPages(n int) {
	if m == nil {
		return
	}
	m.pagesRendered.Add(float64(n))
}

// ObserveBuild records a finished site build.
func (m *BuildMetrics) ObserveBuild(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.buildsTotal.WithLabelValues(result).Inc()
	m.lastBuildTs.SetToCurrentTime()
}

// WriteTextfile writes the registry in the text exposition format, for the
// node_exporter textfile collector.
func (m *BuildMetrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.reg)
}
