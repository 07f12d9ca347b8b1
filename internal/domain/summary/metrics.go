package summary

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ehr/ips/internal/ips/narrative"
	"github.com/ehr/ips/internal/ips/section"
)

// Metrics are the document-generation collectors.
type Metrics struct {
	DocumentsGenerated *prometheus.CounterVec
	BuildDuration      *prometheus.HistogramVec
	SectionsRendered   *prometheus.CounterVec
	SectionDuration    *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DocumentsGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "summary",
			Name:      "documents_total",
			Help:      "Total number of IPS document builds by source and result.",
		}, []string{"source", "result"}),

		BuildDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "summary",
			Name:      "build_duration_seconds",
			Help:      "IPS document build latency distribution.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),

		SectionsRendered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "narrative",
			Name:      "sections_total",
			Help:      "Total number of section narrative renders by section and outcome.",
		}, []string{"section", "outcome"}),

		SectionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "narrative",
			Name:      "section_duration_seconds",
			Help:      "Section narrative render latency distribution.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"section"}),
	}
}

// Observer feeds narrative render outcomes into the section collectors.
func (m *Metrics) Observer() narrative.Observer {
	return func(kind section.Kind, outcome string, elapsed time.Duration) {
		m.SectionsRendered.WithLabelValues(kind.ID(), outcome).Inc()
		if outcome != narrative.OutcomeEmpty {
			m.SectionDuration.WithLabelValues(kind.ID()).Observe(elapsed.Seconds())
		}
	}
}

func (m *Metrics) observeBuild(source string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.DocumentsGenerated.WithLabelValues(source, result).Inc()
	m.BuildDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}
