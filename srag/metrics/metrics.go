// Package metrics owns the Prometheus registry and the OpenTelemetry tracer provider.
package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "srag"

// Metrics groups the collectors the analyst exports.
type Metrics struct {
	Registry *prometheus.Registry

	// SpanDuration observes harness spans (run, provider_call, tool_call) in seconds.
	SpanDuration *prometheus.HistogramVec
	// Events counts harness events such as rejected tool calls.
	Events *prometheus.CounterVec
	// Runs counts finished runs by outcome.
	Runs *prometheus.CounterVec
	// Tokens counts model tokens by direction (prompt | completion).
	Tokens *prometheus.CounterVec
	// ArchiveFailures counts report bundles that could not be archived.
	ArchiveFailures prometheus.Counter
}

// New creates a registry with every collector registered.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		SpanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "span_duration_seconds",
				Help:      "Duration of harness spans in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"span", "status"}, // status: ok | error
		),
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "harness_events_total",
				Help:      "Harness events by name.",
			},
			[]string{"event"},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Finished runs by outcome.",
			},
			[]string{"outcome"},
		),
		Tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_total",
				Help:      "Model tokens by direction.",
			},
			[]string{"direction"},
		),
		ArchiveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_failures_total",
			Help:      "Report bundles that failed to archive.",
		}),
	}

	m.Registry.MustRegister(m.SpanDuration, m.Events, m.Runs, m.Tokens, m.ArchiveFailures)
	return m
}

// WritePrometheus writes the registry in the Prometheus text format.
func (m *Metrics) WritePrometheus(w io.Writer) error {
	families, err := m.Registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
